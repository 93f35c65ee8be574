// Package filter normalizes market filter criteria between the three
// surfaces that express them: dashboard URL queries, feed-client listing
// parameters, and store queries.
package filter

import (
	"net/url"
	"strconv"
	"time"

	"polymarket-engine/internal/feed"
	"polymarket-engine/internal/store"
)

// Status narrows markets by lifecycle.
type Status string

const (
	StatusAll    Status = "all"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Config is the canonical filter shape. Zero values mean "unset".
type Config struct {
	Search    string
	Status    Status
	Category  string
	SortBy    string
	SortAsc   bool
	sortSet   bool // distinguishes explicit direction from the sort default
	Limit     int
	Offset    int

	LiquidityMin float64
	LiquidityMax float64
	VolumeMin    float64
	VolumeMax    float64

	StartDateMin time.Time
	StartDateMax time.Time
	EndDateMin   time.Time
	EndDateMax   time.Time
}

// SortOption describes one sortable field and its names on each surface.
type SortOption struct {
	Key        string // canonical key
	FeedField  string // feed API `order` value
	StoreField string // store orderBy value
	DefaultAsc bool
}

// SortOptions is the supported sort table. end_date defaults ascending
// (soonest-expiring first); everything else descends.
var SortOptions = []SortOption{
	{Key: "volume", FeedField: "volumeNum", StoreField: "volume"},
	{Key: "volume_24hr", FeedField: "volume24hr", StoreField: "volume_24hr"},
	{Key: "volume_1wk", FeedField: "volume1wk", StoreField: "volume_1wk"},
	{Key: "liquidity", FeedField: "liquidityNum", StoreField: "liquidity"},
	{Key: "end_date", FeedField: "endDate", StoreField: "end_date", DefaultAsc: true},
	{Key: "one_day_price_change", FeedField: "oneDayPriceChange", StoreField: "one_day_price_change"},
	{Key: "updated_at", FeedField: "updatedAt", StoreField: "updated_at"},
	{Key: "created_at", FeedField: "createdAt", StoreField: "created_at"},
}

func sortOption(key string) (SortOption, bool) {
	for _, o := range SortOptions {
		if o.Key == key {
			return o, true
		}
	}
	return SortOption{}, false
}

// ascending resolves the effective sort direction, falling back to the sort
// option's default when no explicit direction was set.
func (c *Config) ascending() bool {
	if c.sortSet {
		return c.SortAsc
	}
	if o, ok := sortOption(c.SortBy); ok {
		return o.DefaultAsc
	}
	return false
}

// SetSortDirection sets an explicit sort direction, overriding the option
// default.
func (c *Config) SetSortDirection(asc bool) {
	c.SortAsc = asc
	c.sortSet = true
}

// ToQueryParams renders the config as the dashboard API's query-string map.
func (c *Config) ToQueryParams() map[string]string {
	q := make(map[string]string)
	if c.Search != "" {
		q["search"] = c.Search
	}
	if c.Status != "" && c.Status != StatusAll {
		q["status"] = string(c.Status)
	}
	if c.Category != "" {
		q["category"] = c.Category
	}
	if c.SortBy != "" {
		q["sortBy"] = c.SortBy
		q["sortDir"] = dirString(c.ascending())
	}
	if c.Limit > 0 {
		q["limit"] = strconv.Itoa(c.Limit)
	}
	if c.Offset > 0 {
		q["offset"] = strconv.Itoa(c.Offset)
	}
	putFloat(q, "liquidityMin", c.LiquidityMin)
	putFloat(q, "liquidityMax", c.LiquidityMax)
	putFloat(q, "volumeMin", c.VolumeMin)
	putFloat(q, "volumeMax", c.VolumeMax)
	putTime(q, "startDateMin", c.StartDateMin)
	putTime(q, "startDateMax", c.StartDateMax)
	putTime(q, "endDateMin", c.EndDateMin)
	putTime(q, "endDateMax", c.EndDateMax)
	return q
}

// ToFeedParams projects the config onto feed-client listing parameters.
// Status maps onto the active/closed pair: active means active ∧ ¬closed.
func (c *Config) ToFeedParams() feed.ListParams {
	p := feed.ListParams{
		Limit:           c.Limit,
		Offset:          c.Offset,
		LiquidityNumMin: c.LiquidityMin,
		LiquidityNumMax: c.LiquidityMax,
		VolumeNumMin:    c.VolumeMin,
		VolumeNumMax:    c.VolumeMax,
	}
	switch c.Status {
	case StatusActive:
		p.Active = feed.Bool(true)
		p.Closed = feed.Bool(false)
	case StatusClosed:
		p.Closed = feed.Bool(true)
	}
	if o, ok := sortOption(c.SortBy); ok {
		p.Order = o.FeedField
		asc := c.ascending()
		p.Ascending = &asc
	}
	if !c.StartDateMin.IsZero() {
		p.StartDateMin = c.StartDateMin.Format(time.RFC3339)
	}
	if !c.StartDateMax.IsZero() {
		p.StartDateMax = c.StartDateMax.Format(time.RFC3339)
	}
	if !c.EndDateMin.IsZero() {
		p.EndDateMin = c.EndDateMin.Format(time.RFC3339)
	}
	if !c.EndDateMax.IsZero() {
		p.EndDateMax = c.EndDateMax.Format(time.RFC3339)
	}
	return p
}

// ToStoreQuery projects the config onto a store query.
func (c *Config) ToStoreQuery() store.Query {
	q := store.Query{
		Limit:        c.Limit,
		Offset:       c.Offset,
		Category:     c.Category,
		Search:       c.Search,
		LiquidityMin: c.LiquidityMin,
		LiquidityMax: c.LiquidityMax,
		VolumeMin:    c.VolumeMin,
		VolumeMax:    c.VolumeMax,
		StartDateMin: c.StartDateMin,
		StartDateMax: c.StartDateMax,
		EndDateMin:   c.EndDateMin,
		EndDateMax:   c.EndDateMax,
	}
	switch c.Status {
	case StatusActive:
		active := true
		q.Active = &active
	case StatusClosed:
		active := false
		q.Active = &active
	}
	if o, ok := sortOption(c.SortBy); ok {
		q.OrderBy = o.StoreField
		q.OrderDesc = !c.ascending()
	}
	return q
}

// ParseURLQuery reconstructs a Config from URL query parameters. Unknown
// keys and malformed values are ignored.
func ParseURLQuery(values url.Values) Config {
	c := Config{
		Search:   values.Get("search"),
		Category: values.Get("category"),
	}
	switch Status(values.Get("status")) {
	case StatusActive:
		c.Status = StatusActive
	case StatusClosed:
		c.Status = StatusClosed
	default:
		c.Status = StatusAll
	}
	if sortBy := values.Get("sortBy"); sortBy != "" {
		if _, ok := sortOption(sortBy); ok {
			c.SortBy = sortBy
		}
	}
	if dir := values.Get("sortDir"); dir != "" {
		c.SetSortDirection(dir == "asc")
	}
	c.Limit = parseInt(values.Get("limit"))
	c.Offset = parseInt(values.Get("offset"))
	c.LiquidityMin = parseFloat(values.Get("liquidityMin"))
	c.LiquidityMax = parseFloat(values.Get("liquidityMax"))
	c.VolumeMin = parseFloat(values.Get("volumeMin"))
	c.VolumeMax = parseFloat(values.Get("volumeMax"))
	c.StartDateMin = parseTime(values.Get("startDateMin"))
	c.StartDateMax = parseTime(values.Get("startDateMax"))
	c.EndDateMin = parseTime(values.Get("endDateMin"))
	c.EndDateMax = parseTime(values.Get("endDateMax"))
	return c
}

func dirString(asc bool) string {
	if asc {
		return "asc"
	}
	return "desc"
}

func putFloat(q map[string]string, key string, v float64) {
	if v > 0 {
		q[key] = strconv.FormatFloat(v, 'f', -1, 64)
	}
}

func putTime(q map[string]string, key string, t time.Time) {
	if !t.IsZero() {
		q[key] = t.Format(time.RFC3339)
	}
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	if n < 0 {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	if f < 0 {
		return 0
	}
	return f
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
