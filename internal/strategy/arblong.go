package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"polymarket-engine/internal/orders"
	"polymarket-engine/pkg/types"
)

// PriceReader is the slice of the order-book client the arbitrage evaluator
// needs for its pre-execution slippage check.
type PriceReader interface {
	GetPrice(ctx context.Context, tokenID string, side types.Side) (*float64, error)
}

// ArbitrageLong buys both sides of a binary market when the ask prices sum
// below one. Holding both outcomes to resolution pays $1 regardless of the
// result, so the discount is the edge.
type ArbitrageLong struct {
	manager *Manager
	queue   *orders.Queue
	prices  PriceReader

	execMu    sync.Mutex
	mu        sync.Mutex
	cooldowns *cooldownMap

	logger *slog.Logger
}

func NewArbitrageLong(manager *Manager, queue *orders.Queue, prices PriceReader, logger *slog.Logger) *ArbitrageLong {
	cfg := manager.Get().ArbitrageLong
	return &ArbitrageLong{
		manager:   manager,
		queue:     queue,
		prices:    prices,
		cooldowns: newCooldownMap(cfg.Cooldown),
		logger:    logger.With("component", "arbitrage-long"),
	}
}

func (s *ArbitrageLong) Strategy() types.Strategy { return types.StrategyArbitrageLong }

// DetectOpportunity checks one binary market for an ask-sum discount.
func (s *ArbitrageLong) DetectOpportunity(md types.MarketData) *types.Opportunity {
	cfg := s.manager.Get().ArbitrageLong
	if !cfg.Enabled || !cfg.Long.Enabled {
		return nil
	}
	m := &md.Market
	if !m.HasOrderBook() || len(m.Outcomes) != 2 {
		return nil
	}
	prices := snapshotPrices(md)
	if prices == nil {
		return nil
	}
	priceSum := sum(prices)
	if priceSum >= cfg.Long.MaxPriceSum {
		return nil
	}
	spread := (1 - priceSum) * 100
	if spread < cfg.Long.MinSpread {
		return nil
	}
	if md.Snapshot.Liquidity < cfg.MinLiquidity {
		return nil
	}

	gross := (1 - priceSum) * cfg.TradeAmount
	net := netProfit(gross)
	if net < 0.01 {
		return nil
	}

	opp := &types.Opportunity{
		ID:          newOpportunityID(types.StrategyArbitrageLong),
		Strategy:    types.StrategyArbitrageLong,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Outcomes:    m.Outcomes,
		TokenIDs:    m.ClobTokenIDs,
		Prices:      prices,
		PriceSum:    priceSum,
		Spread:      spread,
		GrossProfit: gross,
		NetProfit:   net,
		Confidence:  gradeOpportunity(1-priceSum, net),
		State:       types.OppDetected,
		DetectedAt:  time.Now(),
	}
	s.manager.RecordDetection(types.StrategyArbitrageLong)
	s.logger.Info("opportunity detected",
		"conditionId", m.ConditionID, "priceSum", priceSum, "spread", spread,
		"net", net, "confidence", opp.Confidence)
	return opp
}

// ArbitrageLongPlan buys both legs at the detected prices.
type ArbitrageLongPlan struct {
	Opportunity *types.Opportunity
	Amount      float64
	Buys        []*types.Order
}

func (s *ArbitrageLong) GeneratePlan(opp *types.Opportunity) *ArbitrageLongPlan {
	cfg := s.manager.Get().ArbitrageLong
	amount := math.Min(cfg.TradeAmount, cfg.MaxTradePerOrder)

	buys := make([]*types.Order, len(opp.Outcomes))
	for i, outcome := range opp.Outcomes {
		buys[i] = &types.Order{
			Strategy:      types.StrategyArbitrageLong,
			OpportunityID: opp.ID,
			Type:          types.OrderBuy,
			Priority:      types.PriorityHigh,
			ConditionID:   opp.ConditionID,
			TokenID:       opp.TokenIDs[i],
			Price:         opp.Prices[i],
			Size:          amount,
			Metadata:      map[string]string{"outcome": outcome},
		}
	}
	return &ArbitrageLongPlan{Opportunity: opp, Amount: amount, Buys: buys}
}

// checkSlippage re-reads the asks and compares against the plan.
// Returns an error when the book moved more than maxSlippage percent.
func (s *ArbitrageLong) checkSlippage(ctx context.Context, plan *ArbitrageLongPlan) error {
	maxSlippage := s.manager.Get().ArbitrageLong.MaxSlippage
	if maxSlippage <= 0 || s.prices == nil {
		return nil
	}

	var current float64
	for _, buy := range plan.Buys {
		p, err := s.prices.GetPrice(ctx, buy.TokenID, types.BUY)
		if err != nil {
			return fmt.Errorf("read current price: %w", err)
		}
		if p == nil {
			return fmt.Errorf("no current price for token %s", buy.TokenID)
		}
		current += *p
	}

	planSum := plan.Opportunity.PriceSum
	drift := math.Abs(planSum-current) / planSum * 100
	if drift > maxSlippage {
		return fmt.Errorf("slippage %.2f%% exceeds limit %.2f%%", drift, maxSlippage)
	}
	return nil
}

// Execute places both buy legs as an atomic sequential batch.
func (s *ArbitrageLong) Execute(ctx context.Context, plan *ArbitrageLongPlan) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	opp := plan.Opportunity
	// Both legs count against the daily budgets; the per-order cap applies
	// to each leg.
	total := plan.Amount * float64(len(plan.Buys))
	if gate := s.manager.CanExecuteVolume(types.StrategyArbitrageLong, plan.Amount, total); !gate.Allowed {
		opp.State = types.OppFailed
		return fmt.Errorf("trade blocked: %s", gate.Reason)
	}
	if err := s.checkSlippage(ctx, plan); err != nil {
		opp.State = types.OppExpired
		return err
	}

	opp.State = types.OppExecuting
	results := s.queue.SubmitBatch(ctx, &types.OrderBatch{
		BatchID:    opp.ID,
		Orders:     plan.Buys,
		Priority:   types.PriorityHigh,
		Atomic:     true,
		Sequential: true,
	})

	for _, res := range results {
		if res.Status != types.OrderSuccess {
			opp.State = types.OppFailed
			return fmt.Errorf("buy leg failed: %w", res.Err)
		}
	}

	s.manager.RecordTradeVolume(types.StrategyArbitrageLong, total)
	s.manager.RecordExecution(types.StrategyArbitrageLong, opp.NetProfit)
	s.mu.Lock()
	s.cooldowns.period = s.manager.Get().ArbitrageLong.Cooldown
	s.cooldowns.set(opp.ConditionID)
	s.mu.Unlock()

	opp.State = types.OppExecuted
	s.logger.Info("arbitrage executed",
		"conditionId", opp.ConditionID, "amount", total, "net", opp.NetProfit)
	return nil
}

// HandleOpportunity executes an opportunity the caller already detected.
func (s *ArbitrageLong) HandleOpportunity(ctx context.Context, md types.MarketData, opp *types.Opportunity) error {
	if opp == nil {
		return nil
	}
	s.mu.Lock()
	onCooldown := s.cooldowns.active(md.Market.ConditionID)
	s.mu.Unlock()
	if onCooldown {
		return nil
	}
	if !s.manager.Get().ArbitrageLong.AutoExecute {
		opp.State = types.OppPending
		return nil
	}
	return s.Execute(ctx, s.GeneratePlan(opp))
}

// HandleMarket detects and delegates, for callers without a prior classify.
func (s *ArbitrageLong) HandleMarket(ctx context.Context, md types.MarketData) error {
	s.mu.Lock()
	onCooldown := s.cooldowns.active(md.Market.ConditionID)
	s.mu.Unlock()
	if onCooldown {
		return nil
	}

	opp := s.DetectOpportunity(md)
	if opp == nil {
		return nil
	}
	return s.HandleOpportunity(ctx, md, opp)
}
