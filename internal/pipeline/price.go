package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/store"
	"polymarket-engine/pkg/types"
)

// errorBackoff is the pause after a failed price iteration.
const errorBackoff = 5 * time.Second

// PriceSource reads one side of a token's book.
type PriceSource interface {
	GetPrice(ctx context.Context, tokenID string, side types.Side) (*float64, error)
}

// PriceStats are the price stage's counters.
type PriceStats struct {
	State         types.RunState `json:"state"`
	Iterations    int64          `json:"iterations"`
	TokensScanned int64          `json:"tokensScanned"`
	RowsInserted  int64          `json:"rowsInserted"`
	Errors        int64          `json:"errors"`
	LastScanAt    time.Time      `json:"lastScanAt"`
}

// PriceScanner is the independent precise-price loop: it walks the stored
// tokens, reads both sides of each book, and appends MarketPrice rows. One
// scan is in flight at a time.
type PriceScanner struct {
	cfg    config.PriceConfig
	store  *store.Store
	source PriceSource

	mu     sync.Mutex
	state  types.RunState
	stop   chan struct{}
	wg     sync.WaitGroup
	stats  PriceStats
	logger *slog.Logger
}

// NewPriceScanner creates the stage in the stopped state.
func NewPriceScanner(cfg config.PriceConfig, st *store.Store, source PriceSource, logger *slog.Logger) *PriceScanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = time.Second
	}
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = 100 * time.Millisecond
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 60 * time.Second
	}
	return &PriceScanner{
		cfg:    cfg,
		store:  st,
		source: source,
		state:  types.StateStopped,
		logger: logger.With("component", "price"),
	}
}

// Start launches the scan loop.
func (p *PriceScanner) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state != types.StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = types.StateRunning
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, stop)
}

// Stop halts the loop after the current iteration.
func (p *PriceScanner) Stop() {
	p.mu.Lock()
	if p.state == types.StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = types.StateStopped
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()
}

// State reports the stage lifecycle state.
func (p *PriceScanner) State() types.RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PriceScanner) run(ctx context.Context, stop chan struct{}) {
	defer p.wg.Done()
	for {
		delay := p.cfg.ScanInterval
		if err := p.ScanOnce(ctx); err != nil {
			p.logger.Error("price scan failed", "error", err)
			p.mu.Lock()
			p.stats.Errors++
			p.mu.Unlock()
			delay = errorBackoff
		}

		select {
		case <-time.After(delay):
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ScanOnce walks every eligible token in batches of BatchSize, pausing
// BatchInterval between batches, and persists the prices batch by batch.
func (p *PriceScanner) ScanOnce(ctx context.Context) error {
	tokens, err := p.store.TokensForPriceScan(ctx, p.cfg.ActiveOnly, p.cfg.MinLiquidity)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	var scanned, inserted int
	for start := 0; start < len(tokens); start += p.cfg.BatchSize {
		if start > 0 {
			select {
			case <-time.After(p.cfg.BatchInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		batch := tokens[start:min(start+p.cfg.BatchSize, len(tokens))]

		prices := make([]types.MarketPrice, 0, len(batch))
		for i, tok := range batch {
			if i > 0 {
				select {
				case <-time.After(p.cfg.TokenInterval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			mp := p.fetchToken(ctx, tok)
			if mp != nil {
				prices = append(prices, *mp)
			}
		}

		n, err := p.store.InsertMarketPricesIgnoreDuplicates(ctx, prices)
		if err != nil {
			return err
		}
		scanned += len(batch)
		inserted += n
	}

	p.mu.Lock()
	p.stats.Iterations++
	p.stats.TokensScanned += int64(scanned)
	p.stats.RowsInserted += int64(inserted)
	p.stats.LastScanAt = time.Now()
	p.mu.Unlock()
	return nil
}

// fetchToken reads both sides concurrently. A token with neither side quoted
// yields no row; derived fields need both sides.
func (p *PriceScanner) fetchToken(ctx context.Context, tok store.TokenRef) *types.MarketPrice {
	var buy, sell *float64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := p.source.GetPrice(ctx, tok.TokenID, types.BUY)
		if err != nil {
			p.logger.Debug("buy price fetch failed", "tokenId", tok.TokenID, "error", err)
			return
		}
		buy = v
	}()
	go func() {
		defer wg.Done()
		v, err := p.source.GetPrice(ctx, tok.TokenID, types.SELL)
		if err != nil {
			p.logger.Debug("sell price fetch failed", "tokenId", tok.TokenID, "error", err)
			return
		}
		sell = v
	}()
	wg.Wait()

	if buy == nil && sell == nil {
		return nil
	}

	mp := &types.MarketPrice{
		ConditionID:  tok.ConditionID,
		TokenID:      tok.TokenID,
		Outcome:      tok.Outcome,
		OutcomeIndex: tok.OutcomeIndex,
		BuyPrice:     buy,
		SellPrice:    sell,
		FetchedAt:    time.Now().UTC(),
	}
	if buy != nil && sell != nil {
		mid := (*buy + *sell) / 2
		spread := *sell - *buy
		mp.MidPrice = &mid
		mp.Spread = &spread
		if mid > 0 {
			pct := spread / mid * 100
			mp.SpreadPct = &pct
		}
	}
	return mp
}

// GetStats returns a copy of the counters.
func (p *PriceScanner) GetStats() PriceStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.State = p.state
	return out
}
