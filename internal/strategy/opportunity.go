package strategy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"polymarket-engine/pkg/types"
)

// Cost model shared by the evaluators. The taker fee applies to gross
// proceeds; the transaction floor covers gas and dust.
const (
	takerFeePct = 0.015
	minTxCost   = 0.01
)

// netProfit applies the fee model to a gross edge.
func netProfit(gross float64) float64 {
	return gross*(1-takerFeePct) - minTxCost
}

// gradeOpportunity maps a price-sum edge and net profit onto a confidence
// band. The thresholds are symmetric for sum>1 (mint-split) and sum<1
// (arbitrage-long); pass the absolute deviation from 1.
func gradeOpportunity(edge, net float64) types.Confidence {
	switch {
	case edge > 0.02 && net > 0.10:
		return types.ConfidenceHigh
	case edge > 0.01 && net > 0.05:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

var oppSeq atomic.Uint64

func newOpportunityID(s types.Strategy) string {
	return fmt.Sprintf("%s-%d-%d", s, time.Now().UnixMilli(), oppSeq.Add(1))
}

// cooldownMap tracks per-market execution cooldowns for one evaluator.
type cooldownMap struct {
	entries map[string]time.Time
	period  time.Duration
	now     func() time.Time
}

func newCooldownMap(period time.Duration) *cooldownMap {
	return &cooldownMap{
		entries: map[string]time.Time{},
		period:  period,
		now:     time.Now,
	}
}

func (c *cooldownMap) active(conditionID string) bool {
	last, ok := c.entries[conditionID]
	return ok && c.now().Sub(last) < c.period
}

func (c *cooldownMap) set(conditionID string) {
	c.entries[conditionID] = c.now()
}

// Evaluator is the common surface the dispatcher drives.
type Evaluator interface {
	Strategy() types.Strategy
	// DetectOpportunity classifies one market; nil means no opportunity.
	DetectOpportunity(md types.MarketData) *types.Opportunity
	// HandleOpportunity acts on an already-detected opportunity, so a caller
	// that classified the market does not detect it a second time.
	HandleOpportunity(ctx context.Context, md types.MarketData, opp *types.Opportunity) error
	// HandleMarket detects and, when auto-execution is on, executes.
	HandleMarket(ctx context.Context, md types.MarketData) error
}

// snapshotPrices returns the outcome prices aligned with the market's
// outcomes, or nil when the sets disagree.
func snapshotPrices(md types.MarketData) []float64 {
	p := md.Snapshot.OutcomePrices
	if len(p) == 0 || len(p) != len(md.Market.Outcomes) {
		return nil
	}
	return p
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
