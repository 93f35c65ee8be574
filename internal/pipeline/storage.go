// Package pipeline contains the three data-plane stages: the paginated
// market scan, the buffered storage writer, and the precise-price loop.
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"log/slog"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/store"
	"polymarket-engine/pkg/types"
)

// StorageStats are the storage stage's counters.
type StorageStats struct {
	Buffered     int       `json:"buffered"`
	FlushedPairs int64     `json:"flushedPairs"`
	Dropped      int64     `json:"dropped"`
	Flushes      int64     `json:"flushes"`
	Errors       int64     `json:"errors"`
	LastFlushAt  time.Time `json:"lastFlushAt"`
}

// Storage buffers scanned markets and writes them through to the store in
// batches. The buffer dedupes by conditionId so a market rescanned within
// one flush window is written once, with the latest snapshot.
type Storage struct {
	cfg   config.StorageConfig
	store *store.Store

	mu       sync.Mutex
	buffer   map[string]types.MarketData
	order    []string
	state    types.RunState
	flushing bool
	idle     *sync.Cond
	stats    StorageStats

	stop   chan struct{}
	logger *slog.Logger
}

// NewStorage creates the stage in the stopped state.
func NewStorage(cfg config.StorageConfig, st *store.Store, logger *slog.Logger) *Storage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	s := &Storage{
		cfg:    cfg,
		store:  st,
		buffer: map[string]types.MarketData{},
		state:  types.StateStopped,
		logger: logger.With("component", "storage"),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Start launches the background flush timer.
func (s *Storage) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == types.StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = types.StateRunning
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.logger.Error("flush failed", "error", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the flush timer, drains the buffer once, and marks the stage
// stopped. New enqueues are dropped after Stop.
func (s *Storage) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.state != types.StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = types.StateStopped
	close(s.stop)
	s.mu.Unlock()

	if err := s.Flush(ctx); err != nil {
		s.logger.Error("final flush failed", "error", err)
	}
}

// Enqueue buffers a batch of scanned markets. When the buffer would exceed
// its cap, the oldest entries are evicted with a warning.
func (s *Storage) Enqueue(batch []types.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StateStopped && s.stop != nil {
		return
	}

	for _, md := range batch {
		id := md.Market.ConditionID
		if id == "" {
			continue
		}
		if _, dup := s.buffer[id]; !dup {
			s.order = append(s.order, id)
		}
		s.buffer[id] = md
	}

	if over := len(s.order) - s.cfg.MaxBufferSize; over > 0 {
		for _, id := range s.order[:over] {
			delete(s.buffer, id)
		}
		s.order = s.order[over:]
		s.stats.Dropped += int64(over)
		s.logger.Warn("buffer over capacity, dropped oldest",
			"dropped", over, "cap", s.cfg.MaxBufferSize)
	}
}

// HasBackpressure reports whether the buffer is at 80% of capacity or more.
// The scan stage polls this before fetching another page.
func (s *Storage) HasBackpressure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)*100 >= s.cfg.MaxBufferSize*80
}

// take removes up to batchSize entries from the front of the buffer.
func (s *Storage) take() []types.MarketData {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.order)
	if n == 0 {
		return nil
	}
	if n > s.cfg.BatchSize {
		n = s.cfg.BatchSize
	}
	out := make([]types.MarketData, 0, n)
	for _, id := range s.order[:n] {
		out = append(out, s.buffer[id])
		delete(s.buffer, id)
	}
	s.order = s.order[n:]
	return out
}

// Flush drains the whole buffer in batches. Within each batch the market
// upsert lands before the snapshot insert; batches run on a bounded pool.
func (s *Storage) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		if len(s.order) == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for {
		batch := s.take()
		if len(batch) == 0 {
			break
		}
		g.Go(func() error {
			return s.writeBatch(gctx, batch)
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.stats.Flushes++
	s.stats.LastFlushAt = time.Now()
	if err != nil {
		s.stats.Errors++
	}
	s.mu.Unlock()
	return err
}

func (s *Storage) writeBatch(ctx context.Context, batch []types.MarketData) error {
	wctx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	markets := make([]types.Market, len(batch))
	snaps := make([]types.PriceSnapshot, len(batch))
	for i, md := range batch {
		markets[i] = md.Market
		snaps[i] = md.Snapshot
	}

	// Snapshots reference markets, so the upsert must land first.
	if _, err := s.store.BatchUpsertMarkets(wctx, markets); err != nil {
		return err
	}
	if _, err := s.store.BatchRecordPriceSnapshots(wctx, snaps); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.FlushedPairs += int64(len(batch))
	s.mu.Unlock()
	return nil
}

// WaitUntilIdle blocks until the buffer is empty and no flush is running,
// triggering a flush to get there. The scan stage calls this between pages.
func (s *Storage) WaitUntilIdle(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for len(s.order) > 0 || s.flushing {
			s.idle.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so its goroutine exits.
		s.idle.Broadcast()
		return ctx.Err()
	}
}

// GetStats returns a copy of the counters.
func (s *Storage) GetStats() StorageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Buffered = len(s.order)
	return out
}

// State reports the stage lifecycle state.
func (s *Storage) State() types.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
