// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — market records,
// price snapshots, orders, opportunities, and the order-book wire shapes.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles on the CLOB.
// FOK is recognized but rejected at placement; the venue SDK path the
// engine uses supports only GTC and GTD.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Til-Date (requires expiration)
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill (unsupported)
)

// TickSize represents the price granularity for a market. The venue supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// Strategy identifies one of the opportunity evaluators.
type Strategy string

const (
	StrategyMintSplit    Strategy = "mint_split"
	StrategyArbitrageLong Strategy = "arbitrage_long"
	StrategyMarketMaking Strategy = "market_making"
)

// Confidence grades how certain an evaluator is about an opportunity.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Score maps a confidence grade to its dispatch-scoring weight.
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 80
	case ConfidenceMedium:
		return 50
	default:
		return 20
	}
}

// AtLeast reports whether c meets or exceeds the min grade.
func (c Confidence) AtLeast(min Confidence) bool {
	rank := func(v Confidence) int {
		switch v {
		case ConfidenceHigh:
			return 3
		case ConfidenceMedium:
			return 2
		default:
			return 1
		}
	}
	return rank(c) >= rank(min)
}

// RunState is the lifecycle state of a pipeline stage.
type RunState string

const (
	StateStopped RunState = "stopped"
	StateRunning RunState = "running"
	StatePaused  RunState = "paused"
)

// ————————————————————————————————————————————————————————————————————————
// Market records
// ————————————————————————————————————————————————————————————————————————

// Market is the canonical static record for a prediction market, keyed by
// ConditionID. Outcomes and ClobTokenIDs are ordered and aligned: outcome i
// trades as token i.
type Market struct {
	ConditionID string   `json:"conditionId"`
	Question    string   `json:"question"`
	Slug        string   `json:"slug"`
	Category    string   `json:"category"`
	Outcomes    []string `json:"outcomes"`
	ClobTokenIDs []string `json:"clobTokenIds"`
	EndDate     time.Time `json:"endDate"`

	Active          bool `json:"active"`
	Closed          bool `json:"closed"`
	Restricted      bool `json:"restricted"`
	EnableOrderBook bool `json:"enableOrderBook"`
	Approved        bool `json:"approved"`
	Ready           bool `json:"ready"`
	Funded          bool `json:"funded"`
	Featured        bool `json:"featured"`
	IsNew           bool `json:"isNew"`
	NegRisk         bool `json:"negRisk"`

	OrderMinSize             float64   `json:"orderMinSize"`
	OrderPriceMinTickSize    float64   `json:"orderPriceMinTickSize"`
	AcceptingOrders          bool      `json:"acceptingOrders"`
	AcceptingOrdersTimestamp time.Time `json:"acceptingOrdersTimestamp"`

	UMABond          float64 `json:"umaBond"`
	UMAReward        float64 `json:"umaReward"`
	ResolvedBy       string  `json:"resolvedBy"`
	ResolutionSource string  `json:"resolutionSource"`
	SubmittedBy      string  `json:"submittedBy"`

	GroupItemTitle     string  `json:"groupItemTitle"`
	GroupItemThreshold float64 `json:"groupItemThreshold"`
	CustomLiveness     int64   `json:"customLiveness"`
	Image              string  `json:"image"`
}

// HasOrderBook reports whether the market is tradeable through the CLOB:
// order book enabled and a non-empty, aligned outcome/token set.
func (m *Market) HasOrderBook() bool {
	return m.EnableOrderBook &&
		len(m.Outcomes) > 0 &&
		len(m.Outcomes) == len(m.ClobTokenIDs)
}

// TickSize maps the market's numeric min tick to the TickSize enum.
func (m *Market) TickSize() TickSize {
	switch m.OrderPriceMinTickSize {
	case 0.1:
		return Tick01
	case 0.001:
		return Tick0001
	case 0.0001:
		return Tick00001
	default:
		return Tick001
	}
}

// PriceSnapshot captures the dynamic attributes of a market at scan time.
// Snapshots are append-only; RecordedAt is assigned by the store on insert.
type PriceSnapshot struct {
	ConditionID   string    `json:"conditionId"`
	OutcomePrices []float64 `json:"outcomePrices"`

	BestBid        float64 `json:"bestBid"`
	BestAsk        float64 `json:"bestAsk"`
	Spread         float64 `json:"spread"`
	LastTradePrice float64 `json:"lastTradePrice"`

	PriceChange1h  float64 `json:"oneHourPriceChange"`
	PriceChange1d  float64 `json:"oneDayPriceChange"`
	PriceChange1wk float64 `json:"oneWeekPriceChange"`
	PriceChange1mo float64 `json:"oneMonthPriceChange"`
	PriceChange1y  float64 `json:"oneYearPriceChange"`

	Volume       float64 `json:"volumeNum"`
	Volume24h    float64 `json:"volume24hr"`
	Volume1wk    float64 `json:"volume1wk"`
	Volume1mo    float64 `json:"volume1mo"`
	Volume1y     float64 `json:"volume1yr"`
	VolumeAMM    float64 `json:"volumeAmm"`
	Volume24hAMM float64 `json:"volume24hrAmm"`
	VolumeCLOB   float64 `json:"volumeClob"`
	Volume24hCLOB float64 `json:"volume24hrClob"`

	Liquidity     float64 `json:"liquidityNum"`
	LiquidityAMM  float64 `json:"liquidityAmm"`
	LiquidityCLOB float64 `json:"liquidityClob"`

	Competitive  float64   `json:"competitive"`
	CommentCount int       `json:"commentCount"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// MarketData pairs the static record with the dynamic snapshot produced by
// one scan of one market. It is what the scan stage hands downstream.
type MarketData struct {
	Market   Market
	Snapshot PriceSnapshot
}

// MarketPrice is an independent precise-price record produced by the price
// stage. Buy and Sell are nil when the venue returned no price for that side;
// the derived fields are nil unless both sides are known. A record with both
// sides nil is never persisted.
type MarketPrice struct {
	ConditionID  string     `json:"conditionId"`
	TokenID      string     `json:"tokenId"`
	Outcome      string     `json:"outcome"`
	OutcomeIndex int        `json:"outcomeIndex"`
	BuyPrice     *float64   `json:"buyPrice"`
	SellPrice    *float64   `json:"sellPrice"`
	MidPrice     *float64   `json:"midPrice"`
	Spread       *float64   `json:"spread"`
	SpreadPct    *float64   `json:"spreadPct"`
	FetchedAt    time.Time  `json:"fetchedAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book wire shapes
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Timestamp string       `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// OrderPlacement is the venue's response to POST /order.
type OrderPlacement struct {
	Success            bool     `json:"success"`
	OrderID            string   `json:"orderId"`
	ErrorMsg           string   `json:"errorMsg"`
	TransactionsHashes []string `json:"transactionsHashes"`
}

// CancelResponse is returned by the cancel endpoints.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// BalanceAllowance is returned by GET /balance-allowance.
type BalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}
