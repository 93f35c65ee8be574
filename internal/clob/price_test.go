package clob

import (
	"testing"

	"polymarket-engine/pkg/types"
)

func TestValidatePrice(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		price   float64
		tick    types.TickSize
		wantErr bool
	}{
		{"aligned cent", 0.45, types.Tick001, false},
		{"aligned coarse", 0.5, types.Tick01, false},
		{"misaligned", 0.455, types.Tick001, true},
		{"fine tick", 0.4555, types.Tick0001, false},
		{"zero", 0, types.Tick001, true},
		{"one", 1, types.Tick001, true},
		{"negative", -0.1, types.Tick001, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePrice(tc.price, tc.tick)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePrice(%v, %s) = %v, wantErr %v", tc.price, tc.tick, err, tc.wantErr)
			}
		})
	}
}

func TestPriceToAmountsBuy(t *testing.T) {
	t.Parallel()
	// BUY 100 tokens at 0.45: pay 45 USDC, receive 100 tokens
	maker, taker := PriceToAmounts(0.45, 100, types.BUY, types.Tick001)
	if maker.Int64() != 45_000_000 {
		t.Errorf("makerAmount = %s, want 45000000", maker)
	}
	if taker.Int64() != 100_000_000 {
		t.Errorf("takerAmount = %s, want 100000000", taker)
	}
}

func TestPriceToAmountsSell(t *testing.T) {
	t.Parallel()
	// SELL 50 tokens at 0.6: give 50 tokens, receive 30 USDC
	maker, taker := PriceToAmounts(0.6, 50, types.SELL, types.Tick001)
	if maker.Int64() != 50_000_000 {
		t.Errorf("makerAmount = %s, want 50000000", maker)
	}
	if taker.Int64() != 30_000_000 {
		t.Errorf("takerAmount = %s, want 30000000", taker)
	}
}

func TestPriceToAmountsRoundsDown(t *testing.T) {
	t.Parallel()
	// Size truncates to 2 decimals, cost to the tick's amount precision.
	maker, _ := PriceToAmounts(0.333, 10.999, types.BUY, types.Tick0001)
	// size 10.99 × 0.333 = 3.65967 → round down to 5 decimals stays 3.65967
	if maker.Int64() != 3_659_670 {
		t.Errorf("makerAmount = %s, want 3659670", maker)
	}
}
