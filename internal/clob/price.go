package clob

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

// usdcScale converts human-readable amounts to on-chain 6-decimal units.
var usdcScale = decimal.New(1, 6)

// ValidatePrice checks that price lies strictly inside (0, 1) and is aligned
// to the market's tick size.
func ValidatePrice(price float64, tick types.TickSize) error {
	p := decimal.NewFromFloat(price)
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(decimal.New(1, 0)) {
		return fmt.Errorf("price %s outside (0, 1)", p)
	}
	step, err := decimal.NewFromString(string(tick))
	if err != nil {
		return fmt.Errorf("bad tick size %q", tick)
	}
	if !p.Mod(step).IsZero() {
		return fmt.Errorf("price %s not aligned to tick %s", p, step)
	}
	return nil
}

// PriceToAmounts converts a human-readable price and size to makerAmount
// and takerAmount scaled to 6 decimals (USDC).
//
// For BUY: you pay makerAmount USDC, you receive takerAmount tokens.
// For SELL: you give makerAmount tokens, you receive takerAmount USDC.
func PriceToAmounts(price, size float64, side types.Side, tick types.TickSize) (makerAmt, takerAmt *big.Int) {
	amtDecimals := int32(tick.AmountDecimals())

	sz := decimal.NewFromFloat(size).RoundDown(2)
	p := decimal.NewFromFloat(price)
	cost := sz.Mul(p).RoundDown(amtDecimals)

	tokens := sz.Mul(usdcScale).BigInt()
	usdc := cost.Mul(usdcScale).BigInt()

	if side == types.SELL {
		return tokens, usdc
	}
	return usdc, tokens
}
