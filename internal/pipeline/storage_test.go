package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/store"
	"polymarket-engine/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func marketData(id string, liquidity float64) types.MarketData {
	return types.MarketData{
		Market: types.Market{
			ConditionID:     "0x" + id,
			Question:        "Q " + id,
			Outcomes:        []string{"Yes", "No"},
			ClobTokenIDs:    []string{"tok-" + id + "-a", "tok-" + id + "-b"},
			Active:          true,
			EnableOrderBook: true,
		},
		Snapshot: types.PriceSnapshot{
			ConditionID:   "0x" + id,
			OutcomePrices: []float64{0.45, 0.55},
			Liquidity:     liquidity,
		},
	}
}

func newTestStorage(t *testing.T, cfg config.StorageConfig) *Storage {
	t.Helper()
	return NewStorage(cfg, newTestStore(t), slog.Default())
}

func TestEnqueueDedupesByConditionID(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t, config.StorageConfig{BatchSize: 10, MaxBufferSize: 100})

	first := marketData("a", 100)
	second := marketData("a", 999)
	s.Enqueue([]types.MarketData{first})
	s.Enqueue([]types.MarketData{second, marketData("b", 50)})

	if got := s.GetStats().Buffered; got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	st, err := s.store.GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// The rescan collapsed into one write: one market, one snapshot each.
	if st.Markets != 2 || st.Snapshots != 2 {
		t.Errorf("store = %+v", st)
	}
}

func TestBackpressureAt80Percent(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t, config.StorageConfig{BatchSize: 100, MaxBufferSize: 500})

	batch := make([]types.MarketData, 400)
	for i := range batch {
		batch[i] = marketData(fmt.Sprintf("m%d", i), 100)
	}
	s.Enqueue(batch)

	if !s.HasBackpressure() {
		t.Fatal("400/500 must trip the 80% threshold")
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.HasBackpressure() {
		t.Error("empty buffer must not report backpressure")
	}
}

func TestBufferCapEvictsOldest(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t, config.StorageConfig{BatchSize: 10, MaxBufferSize: 10})

	batch := make([]types.MarketData, 15)
	for i := range batch {
		batch[i] = marketData(fmt.Sprintf("m%d", i), 100)
	}
	s.Enqueue(batch)

	stats := s.GetStats()
	if stats.Buffered != 10 {
		t.Errorf("buffered = %d, want 10", stats.Buffered)
	}
	if stats.Dropped != 5 {
		t.Errorf("dropped = %d, want 5", stats.Dropped)
	}
}

func TestWaitUntilIdleDrains(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t, config.StorageConfig{BatchSize: 3, MaxBufferSize: 100, Concurrency: 2})

	batch := make([]types.MarketData, 10)
	for i := range batch {
		batch[i] = marketData(fmt.Sprintf("m%d", i), 100)
	}
	s.Enqueue(batch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitUntilIdle(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.GetStats().Buffered; got != 0 {
		t.Errorf("buffered = %d after idle wait", got)
	}

	st, _ := s.store.GetStats(context.Background())
	if st.Markets != 10 {
		t.Errorf("markets = %d, want 10", st.Markets)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t, config.StorageConfig{
		BatchSize: 10, MaxBufferSize: 100, FlushInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	s.Start(ctx)
	if s.State() != types.StateRunning {
		t.Fatal("expected running")
	}
	s.Enqueue([]types.MarketData{marketData("x", 100)})

	// The timer flush picks the entry up.
	deadline := time.Now().Add(2 * time.Second)
	for s.GetStats().Buffered != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer flush never drained the buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop(ctx)
	if s.State() != types.StateStopped {
		t.Error("expected stopped")
	}
	// Enqueues after stop are dropped.
	s.Enqueue([]types.MarketData{marketData("y", 100)})
	if got := s.GetStats().Buffered; got != 0 {
		t.Errorf("post-stop buffered = %d", got)
	}
}
