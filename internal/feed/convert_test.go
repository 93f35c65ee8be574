package feed

import (
	"encoding/json"
	"testing"
)

func TestConvertFullRecord(t *testing.T) {
	t.Parallel()
	var rm RawMarket
	if err := json.Unmarshal([]byte(rawMarketJSON(1)), &rm); err != nil {
		t.Fatal(err)
	}

	md, err := rm.Convert()
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	m := md.Market
	if m.ConditionID != "0xcond1" {
		t.Errorf("conditionId = %q", m.ConditionID)
	}
	if len(m.Outcomes) != 2 || m.Outcomes[0] != "Yes" {
		t.Errorf("outcomes = %v", m.Outcomes)
	}
	if len(m.ClobTokenIDs) != 2 || m.ClobTokenIDs[0] != "tok1a" {
		t.Errorf("tokenIds = %v", m.ClobTokenIDs)
	}
	if m.OrderPriceMinTickSize != 0.01 {
		t.Errorf("tick = %v", m.OrderPriceMinTickSize)
	}
	if !m.HasOrderBook() {
		t.Error("expected order book")
	}

	s := md.Snapshot
	if s.ConditionID != m.ConditionID {
		t.Errorf("snapshot conditionId = %q", s.ConditionID)
	}
	if len(s.OutcomePrices) != 2 || s.OutcomePrices[0] != 0.45 {
		t.Errorf("outcomePrices = %v", s.OutcomePrices)
	}
	if s.Volume24h != 1200.5 || s.Liquidity != 5000 {
		t.Errorf("volume = %v, liquidity = %v", s.Volume24h, s.Liquidity)
	}
}

func TestConvertMissingConditionID(t *testing.T) {
	t.Parallel()
	rm := RawMarket{ID: "1", Question: "q"}
	if _, err := rm.Convert(); err == nil {
		t.Error("expected error for missing conditionId")
	}
}

func TestConvertBadTokenList(t *testing.T) {
	t.Parallel()
	rm := RawMarket{ConditionID: "0xabc", ClobTokenIds: "not json"}
	if _, err := rm.Convert(); err == nil {
		t.Error("expected error for malformed token list")
	}
}

func TestConvertBadPricesDegradeToEmpty(t *testing.T) {
	t.Parallel()
	rm := RawMarket{
		ConditionID:   "0xabc",
		Outcomes:      `["Yes","No"]`,
		ClobTokenIds:  `["a","b"]`,
		OutcomePrices: "garbage",
	}
	md, err := rm.Convert()
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(md.Snapshot.OutcomePrices) != 0 {
		t.Errorf("prices = %v, want empty", md.Snapshot.OutcomePrices)
	}
}

func TestConvertAllCountsFailures(t *testing.T) {
	t.Parallel()
	page := []RawMarket{
		{ConditionID: "a", Outcomes: `["Yes","No"]`, ClobTokenIds: `["1","2"]`},
		{ConditionID: ""},
		{ConditionID: "c", ClobTokenIds: "bad"},
	}
	out, failed := ConvertAll(page)
	if len(out) != 1 || failed != 2 {
		t.Errorf("converted = %d, failed = %d; want 1, 2", len(out), failed)
	}
}

func TestParseFloatListNumbers(t *testing.T) {
	t.Parallel()
	got, err := parseFloatList("[0.3, 0.7]")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != 0.7 {
		t.Errorf("got %v", got)
	}
}
