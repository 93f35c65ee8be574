package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/feed"
	"polymarket-engine/pkg/types"
)

// backpressurePoll is how often the scan re-checks a congested storage buffer.
const backpressurePoll = time.Second

// pageRetryDelay is the single retry pause after a failed page fetch.
const pageRetryDelay = 2 * time.Second

// ScanStats are the scan stage's counters.
type ScanStats struct {
	State             types.RunState `json:"state"`
	Cycles            int64          `json:"cycles"`
	MarketsScanned    int64          `json:"marketsScanned"`
	FailedConversions int64          `json:"failedConversions"`
	PageErrors        int64          `json:"pageErrors"`
	LastCycleAt       time.Time      `json:"lastCycleAt"`
}

// Scanner crawls the market feed page by page and hands each converted page
// to the storage buffer and the dispatch callback. One cycle is one full
// crawl; at most one cycle runs at a time.
type Scanner struct {
	cfg     config.ScanConfig
	feed    *feed.Client
	storage *Storage

	// OnMarkets receives each converted page, after it is buffered for
	// storage. The dispatcher hangs off this hook.
	OnMarkets func(ctx context.Context, markets []types.MarketData)

	mu     sync.Mutex
	state  types.RunState
	stop   chan struct{}
	wg     sync.WaitGroup
	stats  ScanStats
	logger *slog.Logger

	retryDelay time.Duration
	pollDelay  time.Duration
}

// NewScanner creates the stage in the stopped state.
func NewScanner(cfg config.ScanConfig, fc *feed.Client, storage *Storage, logger *slog.Logger) *Scanner {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &Scanner{
		cfg:        cfg,
		feed:       fc,
		storage:    storage,
		state:      types.StateStopped,
		logger:     logger.With("component", "scan"),
		retryDelay: pageRetryDelay,
		pollDelay:  backpressurePoll,
	}
}

// Start launches the scan loop.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != types.StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = types.StateRunning
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, stop)
}

// Stop halts the loop after the current cycle step.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.state == types.StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = types.StateStopped
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

// Pause suspends crawling without tearing the loop down.
func (s *Scanner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StateRunning {
		s.state = types.StatePaused
	}
}

// Resume continues a paused loop.
func (s *Scanner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StatePaused {
		s.state = types.StateRunning
	}
}

// State reports the stage lifecycle state.
func (s *Scanner) State() types.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scanner) run(ctx context.Context, stop chan struct{}) {
	defer s.wg.Done()
	for {
		if s.State() == types.StatePaused {
			if !s.sleep(ctx, stop, s.pollDelay) {
				return
			}
			continue
		}

		if err := s.Cycle(ctx, stop); err != nil {
			s.logger.Error("scan cycle failed", "error", err)
		}

		if !s.sleep(ctx, stop, s.cfg.Interval) {
			return
		}
	}
}

func (s *Scanner) sleep(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Cycle runs one full crawl: fetch pages until a short page or the page cap,
// buffering and dispatching each page and draining the storage buffer before
// the next fetch.
func (s *Scanner) Cycle(ctx context.Context, stop chan struct{}) error {
	cctx := ctx
	if s.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()
	}

	params := feed.ListParams{
		Limit:           s.cfg.PageLimit,
		TagID:           s.cfg.TagID,
		LiquidityNumMin: s.cfg.MinLiquidity,
		VolumeNumMin:    s.cfg.MinVolume,
	}
	if s.cfg.ActiveOnly {
		params.Active = feed.Bool(true)
		params.Closed = feed.Bool(false)
	}

	for page := 1; s.cfg.MaxPages <= 0 || page <= s.cfg.MaxPages; page++ {
		// Hold the page fetch while storage is congested.
		for s.storage.HasBackpressure() {
			s.logger.Debug("storage backpressure, pausing scan")
			if !s.sleep(cctx, stop, s.pollDelay) {
				return cctx.Err()
			}
		}

		p := params
		p.Offset = (page - 1) * s.cfg.PageLimit
		raw, err := s.feed.GetMarkets(cctx, p)
		if err != nil {
			// One retry per page, then give the cycle up.
			s.mu.Lock()
			s.stats.PageErrors++
			s.mu.Unlock()
			s.logger.Warn("page fetch failed, retrying once", "page", page, "error", err)
			if !s.sleep(cctx, stop, s.retryDelay) {
				return cctx.Err()
			}
			raw, err = s.feed.GetMarkets(cctx, p)
			if err != nil {
				return err
			}
		}

		converted, failed := feed.ConvertAll(raw)
		s.mu.Lock()
		s.stats.MarketsScanned += int64(len(converted))
		s.stats.FailedConversions += int64(failed)
		s.mu.Unlock()

		if len(converted) > 0 {
			s.storage.Enqueue(converted)
			if s.OnMarkets != nil {
				s.OnMarkets(cctx, converted)
			}
		}

		// Drain the storage buffer before touching the next page, so a
		// crawl never outruns the persistence pool.
		if err := s.storage.WaitUntilIdle(cctx); err != nil {
			return err
		}

		if len(raw) < s.cfg.PageLimit {
			break
		}
	}

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.LastCycleAt = time.Now()
	s.mu.Unlock()
	return nil
}

// GetStats returns a copy of the counters.
func (s *Scanner) GetStats() ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.State = s.state
	return out
}
