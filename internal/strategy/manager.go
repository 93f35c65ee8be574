// Package strategy holds the three opportunity evaluators (mint-split,
// arbitrage-long, market-making) and the config manager that gates their
// executions: hot-updatable configuration, per-day volume budgets, and the
// emergency stop.
package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

// Gate is the outcome of a pre-trade check.
type Gate struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// StrategyDaily is one strategy's counters for the current day.
type StrategyDaily struct {
	Volume  float64 `json:"volume"`
	Found   int     `json:"found"`
	Success int     `json:"success"`
	Profit  float64 `json:"profit"`
}

// DailyStats is the ledger snapshot exposed to the control surface.
type DailyStats struct {
	Date        string                           `json:"date"`
	TotalVolume float64                          `json:"totalVolume"`
	Strategies  map[types.Strategy]StrategyDaily `json:"strategies"`
}

// displayName returns the operator-facing strategy label used in reasons.
func displayName(s types.Strategy) string {
	switch s {
	case types.StrategyMintSplit:
		return "Mint-Split"
	case types.StrategyArbitrageLong:
		return "Arbitrage-Long"
	case types.StrategyMarketMaking:
		return "Market-Making"
	default:
		return string(s)
	}
}

// Manager is the in-memory authoritative strategy configuration plus the
// daily-volume ledger. All state lives behind one mutex; listeners are
// notified outside the lock with an immutable snapshot.
type Manager struct {
	mu            sync.Mutex
	cfg           config.StrategiesConfig
	defaults      config.StrategiesConfig
	emergencyStop bool

	lastResetDate string
	ledger        map[types.Strategy]*StrategyDaily

	listeners  map[int]func(config.StrategiesConfig)
	nextListID int

	now    func() time.Time // injectable clock for rollover tests
	logger *slog.Logger
}

// NewManager creates a config manager seeded from cfg; cfg also becomes the
// reset-to-default baseline.
func NewManager(cfg config.StrategiesConfig, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		defaults:  cfg,
		ledger:    map[types.Strategy]*StrategyDaily{},
		listeners: map[int]func(config.StrategiesConfig){},
		now:       time.Now,
		logger:    logger.With("component", "strategy-config"),
	}
	m.lastResetDate = m.today()
	return m
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

// resetIfNewDay zeroes the ledger on the first touch of a new calendar day.
// Caller must hold the lock.
func (m *Manager) resetIfNewDay() {
	today := m.today()
	if today == m.lastResetDate {
		return
	}
	m.logger.Info("daily ledger reset", "previous", m.lastResetDate, "date", today)
	m.ledger = map[types.Strategy]*StrategyDaily{}
	m.lastResetDate = today
}

func (m *Manager) day(s types.Strategy) *StrategyDaily {
	d, ok := m.ledger[s]
	if !ok {
		d = &StrategyDaily{}
		m.ledger[s] = d
	}
	return d
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() config.StrategiesConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// EmergencyStopped reports the emergency flag.
func (m *Manager) EmergencyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyStop
}

// UpdateJSON deep-merges a partial JSON document over the current config.
// Unknown keys are rejected; listeners fire on success.
func (m *Manager) UpdateJSON(partial []byte) error {
	var patch map[string]any
	if err := json.Unmarshal(partial, &patch); err != nil {
		return fmt.Errorf("parse config patch: %w", err)
	}

	m.mu.Lock()
	current, err := json.Marshal(m.cfg)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(current, &base); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("round-trip config: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("marshal merged config: %w", err)
	}
	var next config.StrategiesConfig
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("apply config patch: %w", err)
	}

	m.cfg = next
	snapshot := m.cfg
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// deepMerge overlays patch onto base in place. Nested objects merge;
// everything else replaces.
func deepMerge(base, patch map[string]any) {
	for k, pv := range patch {
		if pm, ok := pv.(map[string]any); ok {
			if bm, ok := base[k].(map[string]any); ok {
				deepMerge(bm, pm)
				continue
			}
		}
		base[k] = pv
	}
}

// ResetToDefault restores the construction-time configuration.
func (m *Manager) ResetToDefault() {
	m.mu.Lock()
	m.cfg = m.defaults
	snapshot := m.cfg
	m.mu.Unlock()
	m.logger.Info("strategy config reset to defaults")
	m.notify(snapshot)
}

// SetStrategyEnabled toggles one strategy.
func (m *Manager) SetStrategyEnabled(s types.Strategy, enabled bool) error {
	m.mu.Lock()
	switch s {
	case types.StrategyMintSplit:
		m.cfg.MintSplit.Enabled = enabled
	case types.StrategyArbitrageLong:
		m.cfg.ArbitrageLong.Enabled = enabled
	case types.StrategyMarketMaking:
		m.cfg.MarketMaking.Enabled = enabled
	default:
		m.mu.Unlock()
		return fmt.Errorf("unknown strategy %q", s)
	}
	snapshot := m.cfg
	m.mu.Unlock()

	m.logger.Info("strategy toggled", "strategy", s, "enabled", enabled)
	m.notify(snapshot)
	return nil
}

// EmergencyStop blocks all executions until cleared.
func (m *Manager) EmergencyStop(reason string) {
	m.mu.Lock()
	m.emergencyStop = true
	snapshot := m.cfg
	m.mu.Unlock()
	m.logger.Warn("EMERGENCY STOP", "reason", reason)
	m.notify(snapshot)
}

// ClearEmergencyStop re-enables trading.
func (m *Manager) ClearEmergencyStop() {
	m.mu.Lock()
	m.emergencyStop = false
	snapshot := m.cfg
	m.mu.Unlock()
	m.logger.Info("emergency stop cleared")
	m.notify(snapshot)
}

// strategyCaps returns (enabled, perOrderCap, perDayCap) for a strategy.
// A zero cap means unlimited.
func (m *Manager) strategyCaps(s types.Strategy) (bool, float64, float64, error) {
	switch s {
	case types.StrategyMintSplit:
		c := m.cfg.MintSplit
		return c.Enabled, c.MaxMintPerTrade, c.MaxMintPerDay, nil
	case types.StrategyArbitrageLong:
		c := m.cfg.ArbitrageLong
		return c.Enabled, c.MaxTradePerOrder, c.MaxTradePerDay, nil
	case types.StrategyMarketMaking:
		c := m.cfg.MarketMaking
		return c.Enabled, c.MaxPositionPerSide, c.MaxOpenPosition, nil
	default:
		return false, 0, 0, fmt.Errorf("unknown strategy %q", s)
	}
}

// CanExecuteTrade checks every gate in order: emergency stop, global
// enable, global daily volume, strategy enable, per-order cap, per-day cap.
// amount is both the single-order size and the volume the execution records.
func (m *Manager) CanExecuteTrade(s types.Strategy, amount float64) Gate {
	return m.CanExecuteVolume(s, amount, amount)
}

// CanExecuteVolume separates the single-order size from the total volume a
// multi-leg execution records, so the daily budgets gate on exactly what
// RecordTradeVolume will add.
func (m *Manager) CanExecuteVolume(s types.Strategy, orderAmount, totalVolume float64) Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()

	if m.emergencyStop {
		return Gate{Reason: "紧急停止已激活 (emergency stop active)"}
	}
	if !m.cfg.Global.Enabled {
		return Gate{Reason: "全局交易已禁用 (global trading disabled)"}
	}
	if max := m.cfg.Global.MaxDailyVolume; max > 0 {
		total := m.totalVolumeLocked()
		if total+totalVolume > max {
			return Gate{Reason: fmt.Sprintf("已达全局每日限额 $%g", max)}
		}
	}

	enabled, perOrder, perDay, err := m.strategyCaps(s)
	if err != nil {
		return Gate{Reason: err.Error()}
	}
	if !enabled {
		return Gate{Reason: fmt.Sprintf("%s 策略已禁用", displayName(s))}
	}
	if perOrder > 0 && orderAmount > perOrder {
		return Gate{Reason: fmt.Sprintf("超过 %s 单笔限额 $%g", displayName(s), perOrder)}
	}
	if perDay > 0 && m.day(s).Volume+totalVolume > perDay {
		return Gate{Reason: fmt.Sprintf("已达 %s 每日限额 $%g", displayName(s), perDay)}
	}
	return Gate{Allowed: true}
}

func (m *Manager) totalVolumeLocked() float64 {
	var total float64
	for _, d := range m.ledger {
		total += d.Volume
	}
	return total
}

// RecordTradeVolume adds executed volume to the strategy's daily counter.
func (m *Manager) RecordTradeVolume(s types.Strategy, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()
	m.day(s).Volume += amount
}

// RecordDetection bumps the strategy's found counter.
func (m *Manager) RecordDetection(s types.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()
	m.day(s).Found++
}

// RecordExecution bumps the success counter and accumulates realized profit.
func (m *Manager) RecordExecution(s types.Strategy, profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()
	d := m.day(s)
	d.Success++
	d.Profit += profit
}

// GetDailyStats returns today's ledger, rolling it over first if the date
// changed.
func (m *Manager) GetDailyStats() DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()

	out := DailyStats{
		Date:       m.lastResetDate,
		Strategies: make(map[types.Strategy]StrategyDaily, len(m.ledger)),
	}
	for s, d := range m.ledger {
		out.Strategies[s] = *d
		out.TotalVolume += d.Volume
	}
	return out
}

// OnConfigChange registers a listener invoked with a config snapshot after
// every mutation. The returned function unsubscribes.
func (m *Manager) OnConfigChange(fn func(config.StrategiesConfig)) func() {
	m.mu.Lock()
	id := m.nextListID
	m.nextListID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(snapshot config.StrategiesConfig) {
	m.mu.Lock()
	fns := make([]func(config.StrategiesConfig), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// Export serializes the current configuration.
func (m *Manager) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(m.cfg, "", "  ")
}

// Import replaces the whole configuration from JSON.
func (m *Manager) Import(data []byte) error {
	var next config.StrategiesConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("import config: %w", err)
	}

	m.mu.Lock()
	m.cfg = next
	snapshot := m.cfg
	m.mu.Unlock()
	m.notify(snapshot)
	return nil
}
