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

// MarketMakingState is the live book-keeping for one quoted market.
type MarketMakingState struct {
	ConditionID   string             `json:"conditionId"`
	TokenID       string             `json:"tokenId"`
	OpenOrders    []*types.Order     `json:"openOrders"`
	Positions     map[types.Side]float64 `json:"positions"`
	InventorySkew float64            `json:"inventorySkew"`
	LastRefreshAt time.Time          `json:"lastRefreshAt"`
	Status        string             `json:"status"` // active | exiting
	TotalProfit   float64            `json:"totalProfit"`
	TotalVolume   float64            `json:"totalVolume"`

	mid float64 // last quoted mid
}

// OpenOrdersReader is the slice of the venue client the market maker needs
// to reconcile its tracked quotes against the live book.
type OpenOrdersReader interface {
	GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error)
}

// MarketMaking quotes both sides of qualifying markets and keeps the quotes
// fresh on a single shared refresh timer. Offsetting inventory is merged
// back to collateral through the conditional-tokens contract.
type MarketMaking struct {
	manager *Manager
	queue   *orders.Queue
	book    OpenOrdersReader

	mu     sync.Mutex
	states map[string]*MarketMakingState
	stop   chan struct{}
	ticker *time.Ticker

	logger *slog.Logger
}

func NewMarketMaking(manager *Manager, queue *orders.Queue, book OpenOrdersReader, logger *slog.Logger) *MarketMaking {
	return &MarketMaking{
		manager: manager,
		queue:   queue,
		book:    book,
		states:  map[string]*MarketMakingState{},
		logger:  logger.With("component", "market-making"),
	}
}

func (s *MarketMaking) Strategy() types.Strategy { return types.StrategyMarketMaking }

// DetectOpportunity qualifies a market for quoting: enough liquidity, enough
// turnover, and a wide enough raw spread to capture.
func (s *MarketMaking) DetectOpportunity(md types.MarketData) *types.Opportunity {
	cfg := s.manager.Get().MarketMaking
	if !cfg.Enabled {
		return nil
	}
	m := &md.Market
	if !m.HasOrderBook() {
		return nil
	}
	snap := &md.Snapshot
	if snap.Liquidity < cfg.MinLiquidity || snap.Volume24h < cfg.MinVolume24h {
		return nil
	}
	if snap.Spread*100 < cfg.SpreadPercent/2 {
		return nil
	}

	// Confidence scales with how comfortably the market clears each bar.
	score := 0
	if snap.Liquidity >= 2*cfg.MinLiquidity {
		score++
	}
	if snap.Volume24h >= 2*cfg.MinVolume24h {
		score++
	}
	if snap.Spread*100 >= cfg.SpreadPercent {
		score++
	}
	confidence := types.ConfidenceLow
	switch {
	case score >= 3:
		confidence = types.ConfidenceHigh
	case score == 2:
		confidence = types.ConfidenceMedium
	}

	mid := (snap.BestBid + snap.BestAsk) / 2
	capture := snap.Spread * cfg.OrderSize

	opp := &types.Opportunity{
		ID:          newOpportunityID(types.StrategyMarketMaking),
		Strategy:    types.StrategyMarketMaking,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Outcomes:    m.Outcomes,
		TokenIDs:    m.ClobTokenIDs,
		Prices:      []float64{mid},
		Spread:      snap.Spread * 100,
		GrossProfit: capture,
		NetProfit:   netProfit(capture),
		Confidence:  confidence,
		State:       types.OppDetected,
		DetectedAt:  time.Now(),
	}
	s.manager.RecordDetection(types.StrategyMarketMaking)
	return opp
}

// Start launches the shared refresh timer.
func (s *MarketMaking) Start(ctx context.Context) {
	cfg := s.manager.Get().MarketMaking
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.mu.Lock()
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(interval)
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.refreshAll(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// EnterMarket starts quoting a market: a buy and a sell around the mid.
func (s *MarketMaking) EnterMarket(ctx context.Context, md types.MarketData) error {
	cfg := s.manager.Get().MarketMaking
	m := &md.Market
	if !m.HasOrderBook() {
		return fmt.Errorf("market %s has no order book", m.ConditionID)
	}

	size := cfg.MaxPositionPerSide / 2
	if gate := s.manager.CanExecuteTrade(types.StrategyMarketMaking, size); !gate.Allowed {
		return fmt.Errorf("trade blocked: %s", gate.Reason)
	}

	mid := (md.Snapshot.BestBid + md.Snapshot.BestAsk) / 2
	if mid <= 0 {
		return fmt.Errorf("market %s has no usable mid", m.ConditionID)
	}

	s.mu.Lock()
	if _, exists := s.states[m.ConditionID]; exists {
		s.mu.Unlock()
		return nil
	}
	state := &MarketMakingState{
		ConditionID: m.ConditionID,
		TokenID:     m.ClobTokenIDs[0],
		Positions:   map[types.Side]float64{},
		Status:      "active",
		mid:         mid,
	}
	s.states[m.ConditionID] = state
	s.mu.Unlock()

	if err := s.placeQuotes(ctx, state, mid, size); err != nil {
		s.mu.Lock()
		delete(s.states, m.ConditionID)
		s.mu.Unlock()
		return err
	}
	s.logger.Info("entered market", "conditionId", m.ConditionID, "mid", mid, "size", size)
	return nil
}

// placeQuotes submits the two resting orders at mid ± half-spread.
func (s *MarketMaking) placeQuotes(ctx context.Context, state *MarketMakingState, mid, size float64) error {
	cfg := s.manager.Get().MarketMaking
	half := cfg.SpreadPercent / 200
	bid := clampPrice(mid - half)
	ask := clampPrice(mid + half)

	quotes := []*types.Order{
		{
			Strategy: types.StrategyMarketMaking, Type: types.OrderBuy,
			Priority: types.PriorityNormal, ConditionID: state.ConditionID,
			TokenID: state.TokenID, Price: bid, Size: size,
		},
		{
			Strategy: types.StrategyMarketMaking, Type: types.OrderSell,
			Priority: types.PriorityNormal, ConditionID: state.ConditionID,
			TokenID: state.TokenID, Price: ask, Size: size,
		},
	}
	results := s.queue.SubmitBatch(ctx, &types.OrderBatch{
		BatchID: "mm-" + state.ConditionID,
		Orders:  quotes,
	})
	for _, res := range results {
		if res.Status != types.OrderSuccess {
			return fmt.Errorf("quote placement failed: %w", res.Err)
		}
	}

	s.mu.Lock()
	state.OpenOrders = quotes
	state.mid = mid
	state.LastRefreshAt = time.Now()
	s.mu.Unlock()
	return nil
}

// refreshAll replaces quotes for every active market.
func (s *MarketMaking) refreshAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.states))
	for id, st := range s.states {
		if st.Status == "active" {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.RefreshOrders(ctx, id); err != nil {
			s.logger.Warn("quote refresh failed", "conditionId", id, "error", err)
		}
	}
}

// reconcile diffs the tracked quotes against the venue's live orders. A
// tracked quote missing from the book has filled: book-keep it as a fill and
// drop it so the cancel pass only touches resting orders.
func (s *MarketMaking) reconcile(ctx context.Context, conditionID string) error {
	if s.book == nil {
		return nil
	}
	live, err := s.book.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("read open orders: %w", err)
	}
	liveIDs := make(map[string]bool, len(live))
	for _, o := range live {
		liveIDs[o.ID] = true
	}

	s.mu.Lock()
	state, ok := s.states[conditionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	kept := state.OpenOrders[:0]
	var filled []*types.Order
	for _, o := range state.OpenOrders {
		venueID := o.Metadata["venueOrderId"]
		if venueID == "" || liveIDs[venueID] {
			kept = append(kept, o)
			continue
		}
		filled = append(filled, o)
	}
	state.OpenOrders = kept
	s.mu.Unlock()

	for _, o := range filled {
		side := types.BUY
		if o.Type == types.OrderSell {
			side = types.SELL
		}
		s.RecordFill(conditionID, side, o.Size, o.Price)
		s.logger.Info("quote filled",
			"conditionId", conditionID, "side", side, "size", o.Size, "price", o.Price)
	}
	return nil
}

// RefreshOrders reconciles fills, cancels the market's surviving quotes and
// re-places them at the last known mid, then merges offsetting inventory
// when it has built up.
func (s *MarketMaking) RefreshOrders(ctx context.Context, conditionID string) error {
	if err := s.reconcile(ctx, conditionID); err != nil {
		return err
	}

	s.mu.Lock()
	state, ok := s.states[conditionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("not quoting %s", conditionID)
	}
	open := state.OpenOrders
	mid := state.mid
	s.mu.Unlock()

	if err := s.cancelQuotes(ctx, conditionID, open); err != nil {
		return err
	}

	cfg := s.manager.Get().MarketMaking
	if err := s.placeQuotes(ctx, state, mid, cfg.MaxPositionPerSide/2); err != nil {
		return err
	}

	if cfg.AutoMerge {
		if err := s.MergePositions(ctx, conditionID); err != nil {
			s.logger.Warn("merge failed", "conditionId", conditionID, "error", err)
		}
	}
	return nil
}

// RecordFill updates inventory after one of the strategy's quotes trades.
func (s *MarketMaking) RecordFill(conditionID string, side types.Side, size, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[conditionID]
	if !ok {
		return
	}
	state.Positions[side] += size
	state.TotalVolume += size * price
	long := state.Positions[types.BUY]
	short := state.Positions[types.SELL]
	if total := long + short; total > 0 {
		state.InventorySkew = (long - short) / total
	}
}

// MergePositions redeems offsetting inventory back to collateral once both
// sides exceed the merge threshold.
func (s *MarketMaking) MergePositions(ctx context.Context, conditionID string) error {
	cfg := s.manager.Get().MarketMaking

	s.mu.Lock()
	state, ok := s.states[conditionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("not quoting %s", conditionID)
	}
	matched := math.Min(state.Positions[types.BUY], state.Positions[types.SELL])
	s.mu.Unlock()

	if matched < cfg.MergeThreshold {
		return nil
	}

	res := <-s.queue.Submit(&types.Order{
		Strategy:     types.StrategyMarketMaking,
		Type:         types.OrderMerge,
		Priority:     types.PriorityNormal,
		ConditionID:  conditionID,
		Size:         matched,
		OutcomeCount: 2,
	})
	if res.Status != types.OrderSuccess {
		return fmt.Errorf("merge failed: %w", res.Err)
	}

	s.mu.Lock()
	state.Positions[types.BUY] -= matched
	state.Positions[types.SELL] -= matched
	s.mu.Unlock()
	s.logger.Info("positions merged", "conditionId", conditionID, "size", matched)
	return nil
}

// ExitMarket cancels the market's quotes and drops its state.
func (s *MarketMaking) ExitMarket(ctx context.Context, conditionID string) error {
	s.mu.Lock()
	state, ok := s.states[conditionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	state.Status = "exiting"
	open := state.OpenOrders
	s.mu.Unlock()

	if err := s.cancelQuotes(ctx, conditionID, open); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.states, conditionID)
	s.mu.Unlock()
	s.logger.Info("exited market", "conditionId", conditionID)
	return nil
}

// StopAll exits every market and halts the refresh timer.
func (s *MarketMaking) StopAll(ctx context.Context) {
	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.ExitMarket(ctx, id); err != nil {
			s.logger.Warn("exit failed during stop", "conditionId", id, "error", err)
		}
	}
}

func (s *MarketMaking) cancelQuotes(ctx context.Context, conditionID string, open []*types.Order) error {
	for _, o := range open {
		venueID := o.Metadata["venueOrderId"]
		if venueID == "" {
			continue
		}
		res := <-s.queue.Submit(&types.Order{
			Strategy:      types.StrategyMarketMaking,
			Type:          types.OrderCancel,
			Priority:      types.PriorityUrgent,
			ConditionID:   conditionID,
			CancelOrderID: venueID,
		})
		if res.Status != types.OrderSuccess {
			return fmt.Errorf("cancel %s: %w", venueID, res.Err)
		}
	}
	return nil
}

// States returns a snapshot of every quoted market.
func (s *MarketMaking) States() []MarketMakingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MarketMakingState, 0, len(s.states))
	for _, st := range s.states {
		cp := *st
		cp.Positions = make(map[types.Side]float64, len(st.Positions))
		for k, v := range st.Positions {
			cp.Positions[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// HandleOpportunity enters the market for an already-qualified opportunity.
func (s *MarketMaking) HandleOpportunity(ctx context.Context, md types.MarketData, opp *types.Opportunity) error {
	if opp == nil {
		return nil
	}
	if !s.manager.Get().MarketMaking.AutoExecute {
		opp.State = types.OppPending
		return nil
	}
	return s.EnterMarket(ctx, md)
}

// HandleMarket qualifies and enters, for callers without a prior classify.
func (s *MarketMaking) HandleMarket(ctx context.Context, md types.MarketData) error {
	opp := s.DetectOpportunity(md)
	if opp == nil {
		return nil
	}
	return s.HandleOpportunity(ctx, md, opp)
}

// clampPrice keeps a quote inside the venue's (0, 1) band.
func clampPrice(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}
