// Package dispatch classifies scanned markets against the registered
// strategies and routes each market to its best-scoring match.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/strategy"
	"polymarket-engine/pkg/types"
)

// Stats is a snapshot of the dispatcher's counters.
type Stats struct {
	TotalAnalyzed   int64                    `json:"totalAnalyzed"`
	TotalMatched    int64                    `json:"totalMatched"`
	TotalDispatched int64                    `json:"totalDispatched"`
	ByStrategy      map[types.Strategy]int64 `json:"byStrategy"`
	LastDispatchAt  time.Time                `json:"lastDispatchAt"`
}

type cooldownKey struct {
	conditionID string
	strategy    types.Strategy
}

// Dispatcher runs synchronously on the scan stage's page hand-off. It is the
// only writer of a (market, strategy) cooldown entry, so cooldown checks
// never race within a strategy.
type Dispatcher struct {
	cfg      config.DispatcherConfig
	handlers map[types.Strategy]strategy.Evaluator

	mu         sync.Mutex
	cooldowns  map[cooldownKey]time.Time
	byStrategy map[types.Strategy]int64
	lastAt     time.Time

	analyzed   atomic.Int64
	matched    atomic.Int64
	dispatched atomic.Int64

	taskSeq atomic.Uint64
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a dispatcher with no registered strategies.
func New(cfg config.DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Dispatcher{
		cfg:        cfg,
		handlers:   map[types.Strategy]strategy.Evaluator{},
		cooldowns:  map[cooldownKey]time.Time{},
		byStrategy: map[types.Strategy]int64{},
		now:        time.Now,
		logger:     logger.With("component", "dispatcher"),
	}
}

// Register wires an evaluator as the handler for its strategy.
func (d *Dispatcher) Register(ev strategy.Evaluator) {
	d.handlers[ev.Strategy()] = ev
}

// classify runs every registered evaluator's detection over one market.
// Match order follows a fixed strategy sequence so score ties break stably.
var classifyOrder = []types.Strategy{
	types.StrategyMintSplit,
	types.StrategyArbitrageLong,
	types.StrategyMarketMaking,
}

func (d *Dispatcher) classify(md types.MarketData) ([]types.StrategyMatch, map[types.Strategy]*types.Opportunity) {
	var matches []types.StrategyMatch
	opps := map[types.Strategy]*types.Opportunity{}
	for _, s := range classifyOrder {
		ev, ok := d.handlers[s]
		if !ok {
			continue
		}
		opp := ev.DetectOpportunity(md)
		if opp == nil {
			continue
		}
		opps[s] = opp
		matches = append(matches, types.StrategyMatch{
			Strategy:        s,
			Confidence:      opp.Confidence,
			EstimatedProfit: opp.NetProfit,
			Reason:          fmt.Sprintf("priceSum=%.4f net=%.4f", opp.PriceSum, opp.NetProfit),
			Score:           opp.Confidence.Score() + opp.NetProfit*10,
		})
	}
	return matches, opps
}

// Analyze classifies a batch of markets and dispatches each best match that
// survives the confidence filter and the per-(market, strategy) cooldown.
func (d *Dispatcher) Analyze(ctx context.Context, markets []types.MarketData) []types.DispatchTask {
	minConf := types.Confidence(d.cfg.MinConfidence)
	var tasks []types.DispatchTask

	for _, md := range markets {
		d.analyzed.Add(1)

		matches, opps := d.classify(md)
		if len(matches) == 0 {
			continue
		}
		d.matched.Add(1)

		kept := matches[:0]
		for _, m := range matches {
			if m.Confidence.AtLeast(minConf) {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			continue
		}

		best := kept[0]
		for _, m := range kept[1:] {
			if m.Score > best.Score {
				best = m
			}
		}

		key := cooldownKey{md.Market.ConditionID, best.Strategy}
		d.mu.Lock()
		if last, ok := d.cooldowns[key]; ok && d.now().Sub(last) < d.cfg.Cooldown {
			d.mu.Unlock()
			d.logger.Debug("dispatch suppressed by cooldown",
				"conditionId", key.conditionID, "strategy", key.strategy)
			continue
		}
		d.cooldowns[key] = d.now()
		d.byStrategy[best.Strategy]++
		d.lastAt = d.now()
		d.mu.Unlock()

		task := types.DispatchTask{
			ID:        fmt.Sprintf("task-%d", d.taskSeq.Add(1)),
			Market:    md,
			Matches:   kept,
			BestMatch: best,
			Status:    "pending",
			CreatedAt: d.now(),
		}
		tasks = append(tasks, task)
		d.dispatched.Add(1)

		if d.cfg.AutoDispatch {
			// Hand the classified opportunity over; the handler must not
			// detect the market a second time.
			if err := d.handlers[best.Strategy].HandleOpportunity(ctx, md, opps[best.Strategy]); err != nil {
				d.logger.Warn("strategy handler failed",
					"conditionId", key.conditionID, "strategy", best.Strategy, "error", err)
			}
		}
	}
	return tasks
}

// GetStats returns a copy of the counters.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := Stats{
		TotalAnalyzed:   d.analyzed.Load(),
		TotalMatched:    d.matched.Load(),
		TotalDispatched: d.dispatched.Load(),
		ByStrategy:      make(map[types.Strategy]int64, len(d.byStrategy)),
		LastDispatchAt:  d.lastAt,
	}
	for k, v := range d.byStrategy {
		out.ByStrategy[k] = v
	}
	return out
}
