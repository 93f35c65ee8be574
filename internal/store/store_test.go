package store

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"polymarket-engine/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMarket(id string) types.Market {
	return types.Market{
		ConditionID:           "0x" + id,
		Question:              "Question " + id,
		Slug:                  "slug-" + id,
		Category:              "politics",
		Outcomes:              []string{"Yes", "No"},
		ClobTokenIDs:          []string{"tok-" + id + "-a", "tok-" + id + "-b"},
		Active:                true,
		EnableOrderBook:       true,
		OrderPriceMinTickSize: 0.01,
		EndDate:               time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testSnapshot(id string, liquidity float64) types.PriceSnapshot {
	return types.PriceSnapshot{
		ConditionID:   "0x" + id,
		OutcomePrices: []float64{0.45, 0.55},
		BestBid:       0.44,
		BestAsk:       0.46,
		Liquidity:     liquidity,
		Volume:        1000,
	}
}

func TestBatchUpsertMarketsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	batch := []types.Market{testMarket("a"), testMarket("b")}
	res, err := s.BatchUpsertMarkets(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 2 || res.Skipped != 0 {
		t.Errorf("first write = %+v, want 2/0", res)
	}

	// Replay the same batch with a mutated question: the stored record must
	// not change.
	batch[0].Question = "MUTATED"
	res, err = s.BatchUpsertMarkets(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 || res.Skipped != 2 {
		t.Errorf("replay = %+v, want 0/2", res)
	}

	markets, total, err := s.GetMarkets(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("total = %d", total)
	}
	for _, m := range markets {
		if m.Question == "MUTATED" {
			t.Error("replay must not modify existing rows")
		}
		if m.EnableOrderBook && len(m.Outcomes) != len(m.ClobTokenIDs) {
			t.Errorf("market %s: outcomes/tokens misaligned", m.ConditionID)
		}
	}
}

func TestSnapshotsAppendOnlyAndGuarded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BatchUpsertMarkets(ctx, []types.Market{testMarket("a")}); err != nil {
		t.Fatal(err)
	}

	// Snapshot for a known market lands; one for an unknown market is dropped.
	n, err := s.BatchRecordPriceSnapshots(ctx, []types.PriceSnapshot{
		testSnapshot("a", 500),
		testSnapshot("unknown", 500),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("written = %d, want 1", n)
	}

	// Same snapshot again appends a second row.
	if _, err := s.BatchRecordPriceSnapshots(ctx, []types.PriceSnapshot{testSnapshot("a", 600)}); err != nil {
		t.Fatal(err)
	}
	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Snapshots != 2 {
		t.Errorf("snapshots = %d, want 2", st.Snapshots)
	}
}

func TestInsertMarketPricesIgnoreDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	f := func(v float64) *float64 { return &v }
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	rows := []types.MarketPrice{
		{ConditionID: "0xa", TokenID: "t1", BuyPrice: f(0.44), SellPrice: f(0.46), MidPrice: f(0.45), Spread: f(0.02), SpreadPct: f(4.44), FetchedAt: at},
		{ConditionID: "0xa", TokenID: "t2", BuyPrice: f(0.5), FetchedAt: at},          // one-sided is kept
		{ConditionID: "0xa", TokenID: "t3", FetchedAt: at},                            // both nil: dropped
		{ConditionID: "0xa", TokenID: "t4", BuyPrice: f(math.NaN()), FetchedAt: at},   // NaN: dropped
		{ConditionID: "0xa", TokenID: "t5", SellPrice: f(math.Inf(1)), FetchedAt: at}, // Inf: dropped
	}
	n, err := s.InsertMarketPricesIgnoreDuplicates(ctx, rows)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}

	// Replaying the same (conditionId, tokenId, fetchedAt) is a no-op.
	n, err = s.InsertMarketPricesIgnoreDuplicates(ctx, rows[:1])
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("duplicate written = %d, want 0", n)
	}
}

func TestGetMarketsFilters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ma := testMarket("a")
	mb := testMarket("b")
	mb.Category = "sports"
	mc := testMarket("c")
	mc.Active = false
	if _, err := s.BatchUpsertMarkets(ctx, []types.Market{ma, mb, mc}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BatchRecordPriceSnapshots(ctx, []types.PriceSnapshot{
		testSnapshot("a", 5000),
		testSnapshot("b", 50),
	}); err != nil {
		t.Fatal(err)
	}

	active := true
	got, total, err := s.GetMarkets(ctx, Query{Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(got) != 2 {
		t.Errorf("active filter: total = %d, page = %d", total, len(got))
	}

	got, total, err = s.GetMarkets(ctx, Query{Category: "sports"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || got[0].ConditionID != "0xb" {
		t.Errorf("category filter: total = %d", total)
	}

	_, total, err = s.GetMarkets(ctx, Query{LiquidityMin: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("liquidity filter: total = %d, want 1", total)
	}

	got, total, err = s.GetMarkets(ctx, Query{Search: "Question a"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || got[0].ConditionID != "0xa" {
		t.Errorf("search filter: total = %d", total)
	}
}

func TestGetMarketsSortAndPage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.BatchUpsertMarkets(ctx, []types.Market{testMarket(id)}); err != nil {
			t.Fatal(err)
		}
	}
	for i, id := range []string{"a", "b", "c"} {
		snap := testSnapshot(id, float64((i+1)*100))
		if _, err := s.BatchRecordPriceSnapshots(ctx, []types.PriceSnapshot{snap}); err != nil {
			t.Fatal(err)
		}
	}

	got, total, err := s.GetMarkets(ctx, Query{OrderBy: "liquidity", OrderDesc: true, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(got) != 2 {
		t.Fatalf("total = %d, page = %d", total, len(got))
	}
	if got[0].ConditionID != "0xc" || got[1].ConditionID != "0xb" {
		t.Errorf("order = %s, %s; want 0xc, 0xb", got[0].ConditionID, got[1].ConditionID)
	}
}

func TestTokensForPriceScan(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ma := testMarket("a")
	mb := testMarket("b")
	mb.EnableOrderBook = false
	mc := testMarket("c")
	mc.Closed = true
	if _, err := s.BatchUpsertMarkets(ctx, []types.Market{ma, mb, mc}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BatchRecordPriceSnapshots(ctx, []types.PriceSnapshot{testSnapshot("a", 500)}); err != nil {
		t.Fatal(err)
	}

	refs, err := s.TokensForPriceScan(ctx, true, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2 (both tokens of market a)", len(refs))
	}
	if refs[0].ConditionID != "0xa" || refs[0].OutcomeIndex != 0 || refs[0].Outcome != "Yes" {
		t.Errorf("ref[0] = %+v", refs[0])
	}
	if refs[1].TokenID != "tok-a-b" {
		t.Errorf("ref[1] = %+v", refs[1])
	}
}
