package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/store"
	"polymarket-engine/pkg/types"
)

type stubPrices struct {
	buy  map[string]*float64
	sell map[string]*float64
	err  error
}

func price(v float64) *float64 { return &v }

func (s *stubPrices) GetPrice(_ context.Context, tokenID string, side types.Side) (*float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if side == types.BUY {
		return s.buy[tokenID], nil
	}
	return s.sell[tokenID], nil
}

func priceCfg() config.PriceConfig {
	return config.PriceConfig{
		BatchSize:     10,
		TokenInterval: time.Millisecond,
		BatchInterval: time.Millisecond,
	}
}

func TestScanOncePersistsBothSides(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	md := marketData("p1", 5000)
	if _, err := st.BatchUpsertMarkets(ctx, []types.Market{md.Market}); err != nil {
		t.Fatal(err)
	}

	src := &stubPrices{
		buy:  map[string]*float64{"tok-p1-a": price(0.46), "tok-p1-b": price(0.56)},
		sell: map[string]*float64{"tok-p1-a": price(0.44), "tok-p1-b": price(0.54)},
	}
	ps := NewPriceScanner(priceCfg(), st, src, slog.Default())

	if err := ps.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}

	stats := ps.GetStats()
	if stats.TokensScanned != 2 || stats.RowsInserted != 2 {
		t.Errorf("stats = %+v", stats)
	}
	dbStats, _ := st.GetStats(ctx)
	if dbStats.MarketPrices != 2 {
		t.Errorf("rows = %d, want 2", dbStats.MarketPrices)
	}
}

func TestScanOnceKeepsOneSidedQuotes(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	md := marketData("p2", 5000)
	if _, err := st.BatchUpsertMarkets(ctx, []types.Market{md.Market}); err != nil {
		t.Fatal(err)
	}

	// One token quoted on the buy side only, the other not at all.
	src := &stubPrices{
		buy:  map[string]*float64{"tok-p2-a": price(0.30)},
		sell: map[string]*float64{},
	}
	ps := NewPriceScanner(priceCfg(), st, src, slog.Default())

	if err := ps.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// The both-sides-missing token produces no row.
	if got := ps.GetStats().RowsInserted; got != 1 {
		t.Errorf("rows inserted = %d, want 1", got)
	}
}

func TestScanOnceSurfacesSourceIndependentErrors(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	md := marketData("p3", 5000)
	if _, err := st.BatchUpsertMarkets(ctx, []types.Market{md.Market}); err != nil {
		t.Fatal(err)
	}

	// Per-token fetch errors degrade to missing sides, not a failed scan.
	src := &stubPrices{err: errors.New("venue down")}
	ps := NewPriceScanner(priceCfg(), st, src, slog.Default())
	if err := ps.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if got := ps.GetStats().RowsInserted; got != 0 {
		t.Errorf("rows inserted = %d, want 0", got)
	}
}

func TestScanOnceWalksAllTokensInBatches(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	markets := []types.Market{
		marketData("p4", 5000).Market,
		marketData("p5", 5000).Market,
		marketData("p6", 5000).Market,
	}
	if _, err := st.BatchUpsertMarkets(ctx, markets); err != nil {
		t.Fatal(err)
	}

	cfg := priceCfg()
	cfg.BatchSize = 4 // six tokens stored, so the pass takes two batches
	src := &stubPrices{buy: map[string]*float64{}, sell: map[string]*float64{}}
	ps := NewPriceScanner(cfg, st, src, slog.Default())

	if err := ps.ScanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	stats := ps.GetStats()
	if stats.TokensScanned != 6 {
		t.Errorf("tokens scanned = %d, want 6", stats.TokensScanned)
	}
	if stats.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", stats.Iterations)
	}
}

func TestFetchTokenSpreadConvention(t *testing.T) {
	t.Parallel()
	// buy is the ask, sell is the bid; a crossed-looking book keeps the
	// sell−buy sign.
	src := &stubPrices{
		buy:  map[string]*float64{"tok": price(0.60)},
		sell: map[string]*float64{"tok": price(0.50)},
	}
	ps := NewPriceScanner(priceCfg(), nil, src, slog.Default())

	mp := ps.fetchToken(context.Background(), store.TokenRef{ConditionID: "0xp", TokenID: "tok"})
	if mp == nil || mp.MidPrice == nil || mp.Spread == nil || mp.SpreadPct == nil {
		t.Fatalf("price row = %+v", mp)
	}
	if math.Abs(*mp.MidPrice-0.55) > 1e-9 {
		t.Errorf("mid = %v, want 0.55", *mp.MidPrice)
	}
	if math.Abs(*mp.Spread-(-0.10)) > 1e-9 {
		t.Errorf("spread = %v, want -0.10", *mp.Spread)
	}
	if math.Abs(*mp.SpreadPct-(-0.10/0.55*100)) > 1e-9 {
		t.Errorf("spreadPct = %v", *mp.SpreadPct)
	}
}

func TestPriceScannerLifecycle(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	src := &stubPrices{buy: map[string]*float64{}, sell: map[string]*float64{}}
	ps := NewPriceScanner(priceCfg(), st, src, slog.Default())

	ps.Start(context.Background())
	if ps.State() != types.StateRunning {
		t.Fatal("expected running")
	}
	ps.Stop()
	if ps.State() != types.StateStopped {
		t.Fatal("expected stopped")
	}
}
