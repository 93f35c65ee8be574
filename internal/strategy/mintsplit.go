package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"polymarket-engine/internal/contract"
	"polymarket-engine/internal/orders"
	"polymarket-engine/pkg/types"
)

// MintSplit arbitrages multi-outcome markets whose outcome prices sum above
// one: mint a full set of outcome tokens for $1 each, then sell every leg at
// the quoted prices. Executions are serialized; one mutex is the strategy's
// concurrency=1 work lane.
type MintSplit struct {
	manager  *Manager
	queue    *orders.Queue
	contract contract.Client

	execMu    sync.Mutex // serializes executions
	mu        sync.Mutex // guards cooldowns
	cooldowns *cooldownMap

	pacing time.Duration // delay between sell legs
	logger *slog.Logger
}

// NewMintSplit wires the evaluator to the config manager, the order queue,
// and the conditional-tokens contract.
func NewMintSplit(manager *Manager, queue *orders.Queue, contractClient contract.Client, logger *slog.Logger) *MintSplit {
	cfg := manager.Get().MintSplit
	return &MintSplit{
		manager:   manager,
		queue:     queue,
		contract:  contractClient,
		cooldowns: newCooldownMap(cfg.Cooldown),
		pacing:    200 * time.Millisecond,
		logger:    logger.With("component", "mint-split"),
	}
}

func (s *MintSplit) Strategy() types.Strategy { return types.StrategyMintSplit }

// SetPacing overrides the delay between sequential sell legs.
func (s *MintSplit) SetPacing(d time.Duration) {
	if d > 0 {
		s.pacing = d
	}
}

// DetectOpportunity checks one market against the mint-split entry rules.
func (s *MintSplit) DetectOpportunity(md types.MarketData) *types.Opportunity {
	cfg := s.manager.Get().MintSplit
	if !cfg.Enabled {
		return nil
	}
	m := &md.Market
	if !m.HasOrderBook() || len(m.Outcomes) < cfg.MinOutcomes {
		return nil
	}
	prices := snapshotPrices(md)
	if prices == nil {
		return nil
	}
	priceSum := sum(prices)
	if priceSum <= cfg.MinPriceSum {
		return nil
	}
	if md.Snapshot.Liquidity < cfg.MinLiquidity {
		return nil
	}

	gross := (priceSum - 1) * cfg.MintAmount
	net := netProfit(gross)
	if net < math.Max(0.01, cfg.MinProfit) {
		return nil
	}

	opp := &types.Opportunity{
		ID:          newOpportunityID(types.StrategyMintSplit),
		Strategy:    types.StrategyMintSplit,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Outcomes:    m.Outcomes,
		TokenIDs:    m.ClobTokenIDs,
		Prices:      prices,
		PriceSum:    priceSum,
		GrossProfit: gross,
		NetProfit:   net,
		Confidence:  gradeOpportunity(priceSum-1, net),
		State:       types.OppDetected,
		DetectedAt:  time.Now(),
	}
	s.manager.RecordDetection(types.StrategyMintSplit)
	s.logger.Info("opportunity detected",
		"conditionId", m.ConditionID, "priceSum", priceSum, "net", net,
		"confidence", opp.Confidence)
	return opp
}

// Plan is the concrete execution: one mint, then one sell per outcome.
type MintSplitPlan struct {
	Opportunity *types.Opportunity
	MintAmount  float64
	Sells       []*types.Order
}

// GeneratePlan sizes the mint and builds the sell legs.
func (s *MintSplit) GeneratePlan(opp *types.Opportunity) *MintSplitPlan {
	cfg := s.manager.Get().MintSplit

	// Depth heuristic caps a single mint at ten base amounts.
	maxMint := math.Min(cfg.MaxMintPerTrade, 10*cfg.MintAmount)
	amount := math.Min(cfg.MintAmount, maxMint)

	sells := make([]*types.Order, len(opp.Outcomes))
	for i, outcome := range opp.Outcomes {
		sells[i] = &types.Order{
			Strategy:      types.StrategyMintSplit,
			OpportunityID: opp.ID,
			Type:          types.OrderSell,
			Priority:      types.PriorityHigh,
			ConditionID:   opp.ConditionID,
			TokenID:       opp.TokenIDs[i],
			Price:         opp.Prices[i],
			Size:          amount,
			Metadata:      map[string]string{"outcome": outcome},
		}
	}
	return &MintSplitPlan{Opportunity: opp, MintAmount: amount, Sells: sells}
}

// Execute runs the plan: mint the full set, then sell each leg with
// inter-order pacing. The opportunity is executed iff every sell succeeds.
func (s *MintSplit) Execute(ctx context.Context, plan *MintSplitPlan) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	opp := plan.Opportunity
	if gate := s.manager.CanExecuteTrade(types.StrategyMintSplit, plan.MintAmount); !gate.Allowed {
		opp.State = types.OppFailed
		return fmt.Errorf("trade blocked: %s", gate.Reason)
	}
	if !s.contract.Enabled() {
		opp.State = types.OppFailed
		return fmt.Errorf("mint requires a signing contract client")
	}

	opp.State = types.OppExecuting
	mint := &types.Order{
		Strategy:      types.StrategyMintSplit,
		OpportunityID: opp.ID,
		Type:          types.OrderMint,
		Priority:      types.PriorityHigh,
		ConditionID:   opp.ConditionID,
		Size:          plan.MintAmount,
		OutcomeCount:  len(opp.Outcomes),
	}
	res := <-s.queue.Submit(mint)
	if res.Status != types.OrderSuccess {
		opp.State = types.OppFailed
		return fmt.Errorf("mint failed: %w", res.Err)
	}

	var revenue float64
	allSold := true
	for i, sell := range plan.Sells {
		if i > 0 {
			select {
			case <-time.After(s.pacing):
			case <-ctx.Done():
				opp.State = types.OppFailed
				return ctx.Err()
			}
		}
		sres := <-s.queue.Submit(sell)
		if sres.Status != types.OrderSuccess {
			allSold = false
			s.logger.Warn("sell leg failed",
				"conditionId", opp.ConditionID, "outcome", sell.Metadata["outcome"],
				"error", sres.Err)
			continue
		}
		revenue += sres.FilledPrice * sres.FilledSize
	}

	actualProfit := revenue - plan.MintAmount - revenue*takerFeePct - minTxCost

	s.manager.RecordTradeVolume(types.StrategyMintSplit, plan.MintAmount)
	s.mu.Lock()
	s.cooldowns.period = s.manager.Get().MintSplit.Cooldown
	s.cooldowns.set(opp.ConditionID)
	s.mu.Unlock()

	if !allSold {
		opp.State = types.OppFailed
		return fmt.Errorf("partial execution: not all sell legs filled")
	}
	opp.State = types.OppExecuted
	s.manager.RecordExecution(types.StrategyMintSplit, actualProfit)
	s.logger.Info("mint-split executed",
		"conditionId", opp.ConditionID, "mintAmount", plan.MintAmount,
		"revenue", revenue, "profit", actualProfit)
	return nil
}

// HandleOpportunity executes an opportunity the caller already detected.
func (s *MintSplit) HandleOpportunity(ctx context.Context, md types.MarketData, opp *types.Opportunity) error {
	if opp == nil {
		return nil
	}
	s.mu.Lock()
	onCooldown := s.cooldowns.active(md.Market.ConditionID)
	s.mu.Unlock()
	if onCooldown {
		return nil
	}
	if !s.manager.Get().MintSplit.AutoExecute {
		opp.State = types.OppPending
		return nil
	}
	return s.Execute(ctx, s.GeneratePlan(opp))
}

// HandleMarket detects and delegates, for callers without a prior classify.
func (s *MintSplit) HandleMarket(ctx context.Context, md types.MarketData) error {
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
