package filter

import (
	"net/url"
	"testing"
	"time"
)

func TestToFeedParamsStatusMapping(t *testing.T) {
	t.Parallel()
	c := Config{Status: StatusActive, Limit: 100}
	p := c.ToFeedParams()
	if p.Active == nil || !*p.Active {
		t.Error("active status must set active=true")
	}
	if p.Closed == nil || *p.Closed {
		t.Error("active status must set closed=false")
	}

	c.Status = StatusClosed
	p = c.ToFeedParams()
	if p.Active != nil {
		t.Error("closed status must leave active unset")
	}
	if p.Closed == nil || !*p.Closed {
		t.Error("closed status must set closed=true")
	}

	c.Status = StatusAll
	p = c.ToFeedParams()
	if p.Active != nil || p.Closed != nil {
		t.Error("all status must leave both unset")
	}
}

func TestSortDefaultsPerOption(t *testing.T) {
	t.Parallel()
	c := Config{SortBy: "volume"}
	if q := c.ToStoreQuery(); !q.OrderDesc {
		t.Error("volume defaults descending")
	}

	c = Config{SortBy: "end_date"}
	if q := c.ToStoreQuery(); q.OrderDesc {
		t.Error("end_date defaults ascending")
	}

	// Explicit direction beats the option default.
	c = Config{SortBy: "end_date"}
	c.SetSortDirection(false)
	if q := c.ToStoreQuery(); !q.OrderDesc {
		t.Error("explicit desc must override end_date default")
	}
}

func TestToStoreQueryFields(t *testing.T) {
	t.Parallel()
	end := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	c := Config{
		Search:       "election",
		Status:       StatusActive,
		Category:     "politics",
		SortBy:       "liquidity",
		Limit:        25,
		Offset:       50,
		LiquidityMin: 100,
		VolumeMax:    1e6,
		EndDateMax:   end,
	}
	q := c.ToStoreQuery()
	if q.Search != "election" || q.Category != "politics" {
		t.Errorf("query = %+v", q)
	}
	if q.Active == nil || !*q.Active {
		t.Error("active missing")
	}
	if q.OrderBy != "liquidity" || !q.OrderDesc {
		t.Errorf("sort = %s desc=%v", q.OrderBy, q.OrderDesc)
	}
	if q.Limit != 25 || q.Offset != 50 || q.LiquidityMin != 100 || q.VolumeMax != 1e6 {
		t.Errorf("ranges = %+v", q)
	}
	if !q.EndDateMax.Equal(end) {
		t.Errorf("endDateMax = %v", q.EndDateMax)
	}
}

func TestParseURLQueryRoundTrip(t *testing.T) {
	t.Parallel()
	orig := Config{
		Search:       "btc",
		Status:       StatusActive,
		Category:     "crypto",
		SortBy:       "volume_24hr",
		Limit:        20,
		Offset:       40,
		LiquidityMin: 500,
		VolumeMin:    1000,
		EndDateMin:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	orig.SetSortDirection(true)

	values := url.Values{}
	for k, v := range orig.ToQueryParams() {
		values.Set(k, v)
	}
	got := ParseURLQuery(values)

	if got.Search != orig.Search || got.Status != orig.Status || got.Category != orig.Category {
		t.Errorf("got = %+v", got)
	}
	if got.SortBy != orig.SortBy || !got.ascending() {
		t.Errorf("sort = %s asc=%v", got.SortBy, got.ascending())
	}
	if got.Limit != 20 || got.Offset != 40 {
		t.Errorf("pagination = %d/%d", got.Limit, got.Offset)
	}
	if got.LiquidityMin != 500 || got.VolumeMin != 1000 {
		t.Errorf("ranges = %+v", got)
	}
	if !got.EndDateMin.Equal(orig.EndDateMin) {
		t.Errorf("endDateMin = %v", got.EndDateMin)
	}
}

func TestParseURLQueryIgnoresBadInput(t *testing.T) {
	t.Parallel()
	values := url.Values{}
	values.Set("status", "bogus")
	values.Set("sortBy", "not_a_field")
	values.Set("limit", "-5")
	values.Set("liquidityMin", "NaNv")
	values.Set("endDateMin", "not a date")

	c := ParseURLQuery(values)
	if c.Status != StatusAll {
		t.Errorf("status = %s", c.Status)
	}
	if c.SortBy != "" {
		t.Errorf("sortBy = %s", c.SortBy)
	}
	if c.Limit != 0 || c.LiquidityMin != 0 {
		t.Errorf("limit = %d, liquidityMin = %v", c.Limit, c.LiquidityMin)
	}
	if !c.EndDateMin.IsZero() {
		t.Errorf("endDateMin = %v", c.EndDateMin)
	}
}

func TestFeedParamsSortFieldNames(t *testing.T) {
	t.Parallel()
	c := Config{SortBy: "one_day_price_change"}
	p := c.ToFeedParams()
	if p.Order != "oneDayPriceChange" {
		t.Errorf("feed order = %q", p.Order)
	}
	if p.Ascending == nil || *p.Ascending {
		t.Error("price change defaults descending")
	}
}
