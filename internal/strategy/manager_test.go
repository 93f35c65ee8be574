package strategy

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

func newTestManager() *Manager {
	return NewManager(config.Default().Strategies, slog.Default())
}

func TestCanExecuteTradeGates(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	if g := m.CanExecuteTrade(types.StrategyMintSplit, 50); g.Allowed {
		t.Error("mint-split disabled by default, expected rejection")
	}

	if err := m.SetStrategyEnabled(types.StrategyMintSplit, true); err != nil {
		t.Fatal(err)
	}
	if g := m.CanExecuteTrade(types.StrategyMintSplit, 50); !g.Allowed {
		t.Errorf("expected allowed, got %q", g.Reason)
	}

	// Per-order cap (default maxMintPerTrade = 100).
	if g := m.CanExecuteTrade(types.StrategyMintSplit, 150); g.Allowed {
		t.Error("expected per-order cap rejection")
	}

	m.EmergencyStop("test")
	if g := m.CanExecuteTrade(types.StrategyMintSplit, 50); g.Allowed {
		t.Error("expected emergency-stop rejection")
	}
	m.ClearEmergencyStop()
	if g := m.CanExecuteTrade(types.StrategyMintSplit, 50); !g.Allowed {
		t.Errorf("expected allowed after clear, got %q", g.Reason)
	}
}

func TestDailyCapAndRollover(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.SetStrategyEnabled(types.StrategyMintSplit, true)

	// maxMintPerDay = 200, mintAmount = 100
	if err := m.UpdateJSON([]byte(`{"mintSplit":{"maxMintPerDay":200}}`)); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day }

	for i := 0; i < 2; i++ {
		if g := m.CanExecuteTrade(types.StrategyMintSplit, 100); !g.Allowed {
			t.Fatalf("execution %d rejected: %q", i+1, g.Reason)
		}
		m.RecordTradeVolume(types.StrategyMintSplit, 100)
	}

	g := m.CanExecuteTrade(types.StrategyMintSplit, 100)
	if g.Allowed {
		t.Fatal("third execution should hit the daily cap")
	}
	if !strings.Contains(g.Reason, "已达 Mint-Split 每日限额 $200") {
		t.Errorf("reason = %q", g.Reason)
	}

	// Next calendar day: counters reset, trade allowed again.
	m.now = func() time.Time { return day.AddDate(0, 0, 1) }
	if g := m.CanExecuteTrade(types.StrategyMintSplit, 100); !g.Allowed {
		t.Errorf("post-rollover rejected: %q", g.Reason)
	}
	stats := m.GetDailyStats()
	if stats.TotalVolume != 0 {
		t.Errorf("post-rollover volume = %v, want 0", stats.TotalVolume)
	}
}

func TestCanExecuteVolumeSeparatesOrderAndTotal(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.SetStrategyEnabled(types.StrategyArbitrageLong, true)
	if err := m.UpdateJSON([]byte(`{"arbitrageLong":{"maxTradePerOrder":100,"maxTradePerDay":150}}`)); err != nil {
		t.Fatal(err)
	}

	// Legs of $100 pass the per-order cap, but the $200 they record together
	// must be gated against the daily budget.
	if g := m.CanExecuteVolume(types.StrategyArbitrageLong, 100, 200); g.Allowed {
		t.Error("total over daily cap must be rejected")
	}
	if g := m.CanExecuteVolume(types.StrategyArbitrageLong, 100, 140); !g.Allowed {
		t.Errorf("total within daily cap rejected: %q", g.Reason)
	}
	if g := m.CanExecuteVolume(types.StrategyArbitrageLong, 120, 120); g.Allowed {
		t.Error("order over per-order cap must be rejected")
	}
}

func TestGlobalDailyVolumeSpansStrategies(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.SetStrategyEnabled(types.StrategyMintSplit, true)
	m.SetStrategyEnabled(types.StrategyArbitrageLong, true)
	if err := m.UpdateJSON([]byte(`{"global":{"maxDailyVolume":150}}`)); err != nil {
		t.Fatal(err)
	}

	m.RecordTradeVolume(types.StrategyMintSplit, 100)
	if g := m.CanExecuteTrade(types.StrategyArbitrageLong, 100); g.Allowed {
		t.Error("global cap must count volume across strategies")
	}
	if g := m.CanExecuteTrade(types.StrategyArbitrageLong, 50); !g.Allowed {
		t.Errorf("within global cap rejected: %q", g.Reason)
	}
}

func TestUpdateJSONDeepMerge(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	before := m.Get()

	err := m.UpdateJSON([]byte(`{"arbitrageLong":{"long":{"maxPriceSum":0.98}}}`))
	if err != nil {
		t.Fatal(err)
	}
	after := m.Get()
	if after.ArbitrageLong.Long.MaxPriceSum != 0.98 {
		t.Errorf("maxPriceSum = %v", after.ArbitrageLong.Long.MaxPriceSum)
	}
	// Sibling fields survive the merge.
	if after.ArbitrageLong.Long.MinSpread != before.ArbitrageLong.Long.MinSpread {
		t.Error("deep merge clobbered sibling field")
	}
	if after.MintSplit != before.MintSplit {
		t.Error("deep merge clobbered unrelated strategy")
	}

	if err := m.UpdateJSON([]byte(`{"bogusKey":1}`)); err == nil {
		t.Error("unknown keys must be rejected")
	}
}

func TestResetToDefault(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	if err := m.UpdateJSON([]byte(`{"mintSplit":{"minPriceSum":2.0}}`)); err != nil {
		t.Fatal(err)
	}
	m.ResetToDefault()
	if got := m.Get().MintSplit.MinPriceSum; got != 1.005 {
		t.Errorf("minPriceSum = %v, want default 1.005", got)
	}
}

func TestOnConfigChange(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	var calls atomic.Int32
	unsub := m.OnConfigChange(func(config.StrategiesConfig) { calls.Add(1) })

	m.SetStrategyEnabled(types.StrategyMintSplit, true)
	m.EmergencyStop("x")
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}

	unsub()
	m.ClearEmergencyStop()
	if calls.Load() != 2 {
		t.Errorf("calls after unsubscribe = %d, want 2", calls.Load())
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.UpdateJSON([]byte(`{"mintSplit":{"enabled":true,"mintAmount":42}}`))

	data, err := m.Export()
	if err != nil {
		t.Fatal(err)
	}

	m2 := newTestManager()
	if err := m2.Import(data); err != nil {
		t.Fatal(err)
	}
	got := m2.Get()
	if !got.MintSplit.Enabled || got.MintSplit.MintAmount != 42 {
		t.Errorf("imported = %+v", got.MintSplit)
	}
}

func TestDailyStatsCounters(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RecordDetection(types.StrategyArbitrageLong)
	m.RecordDetection(types.StrategyArbitrageLong)
	m.RecordExecution(types.StrategyArbitrageLong, 4.92)
	m.RecordTradeVolume(types.StrategyArbitrageLong, 95)

	stats := m.GetDailyStats()
	d := stats.Strategies[types.StrategyArbitrageLong]
	if d.Found != 2 || d.Success != 1 {
		t.Errorf("counters = %+v", d)
	}
	if d.Profit != 4.92 || d.Volume != 95 {
		t.Errorf("profit/volume = %v/%v", d.Profit, d.Volume)
	}
}
