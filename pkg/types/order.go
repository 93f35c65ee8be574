package types

import "time"

// OrderKind routes an order to its execution primitive: MINT and MERGE go
// to the conditional-tokens contract, BUY/SELL/CANCEL go to the CLOB.
type OrderKind string

const (
	OrderMint   OrderKind = "MINT"
	OrderMerge  OrderKind = "MERGE"
	OrderBuy    OrderKind = "BUY"
	OrderSell   OrderKind = "SELL"
	OrderCancel OrderKind = "CANCEL"
)

// Priority orders execution within the order queue. Higher scores run first;
// FIFO within equal scores.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Score returns the numeric ordering weight for a priority.
func (p Priority) Score() int {
	switch p {
	case PriorityUrgent:
		return 100
	case PriorityHigh:
		return 75
	case PriorityLow:
		return 25
	default:
		return 50
	}
}

// OrderStatus is the lifecycle state of a queued order.
// Legal transitions: pending → executing → (success | failed);
// cancelled is reachable only from pending.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderExecuting OrderStatus = "executing"
	OrderSuccess   OrderStatus = "success"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a unit of work for the order queue. The queue assigns ID, Status,
// and RetryCount on submit; MaxRetries defaults to 3 when left zero.
type Order struct {
	ID            string            `json:"id"`
	Strategy      Strategy          `json:"strategy"`
	OpportunityID string            `json:"opportunityId"`
	Type          OrderKind         `json:"type"`
	Priority      Priority          `json:"priority"`
	TokenID       string            `json:"tokenId,omitempty"`
	ConditionID   string            `json:"conditionId"`
	CancelOrderID string            `json:"cancelOrderId,omitempty"` // CANCEL target
	Side          Side              `json:"side,omitempty"`
	Price         float64           `json:"price,omitempty"`
	Size          float64           `json:"size"`
	OutcomeCount  int               `json:"outcomeCount,omitempty"` // MINT/MERGE partition width
	Status        OrderStatus       `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	TxHash        string            `json:"txHash,omitempty"`
	FilledSize    float64           `json:"filledSize,omitempty"`
	FilledPrice   float64           `json:"filledPrice,omitempty"`
	Error         string            `json:"error,omitempty"`
	RetryCount    int               `json:"retryCount"`
	MaxRetries    int               `json:"maxRetries"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// OrderBatch groups orders submitted together. Atomic batches stop at the
// first failure; Sequential batches preserve submission order instead of
// fanning out.
type OrderBatch struct {
	BatchID    string
	Orders     []*Order
	Priority   Priority
	Atomic     bool
	Sequential bool
}

// OrderResult is the terminal outcome of one order's execution.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	TxHash      string
	FilledSize  float64
	FilledPrice float64
	Err         error
}

// ————————————————————————————————————————————————————————————————————————
// Opportunities and dispatch
// ————————————————————————————————————————————————————————————————————————

// OpportunityState is the lifecycle state of a detected opportunity.
type OpportunityState string

const (
	OppDetected  OpportunityState = "detected"
	OppPending   OpportunityState = "pending"
	OppExecuting OpportunityState = "executing"
	OppExecuted  OpportunityState = "executed"
	OppFailed    OpportunityState = "failed"
	OppExpired   OpportunityState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s OpportunityState) Terminal() bool {
	return s == OppExecuted || s == OppFailed || s == OppExpired
}

// Opportunity is a detected, classifiable candidate execution. Created by a
// strategy evaluator, destroyed when aged past the configured maximum in a
// non-terminal state.
type Opportunity struct {
	ID          string           `json:"id"`
	Strategy    Strategy         `json:"strategy"`
	ConditionID string           `json:"conditionId"`
	Question    string           `json:"question"`
	Outcomes    []string         `json:"outcomes"`
	TokenIDs    []string         `json:"tokenIds"`
	Prices      []float64        `json:"prices"`
	PriceSum    float64          `json:"priceSum"`
	Spread      float64          `json:"spread"`
	GrossProfit float64          `json:"grossProfit"`
	NetProfit   float64          `json:"netProfit"`
	Confidence  Confidence       `json:"confidence"`
	State       OpportunityState `json:"state"`
	DetectedAt  time.Time        `json:"detectedAt"`
}

// StrategyMatch is one strategy's claim on a market, produced by the
// dispatcher's classification pass.
type StrategyMatch struct {
	Strategy        Strategy   `json:"strategy"`
	Confidence      Confidence `json:"confidence"`
	EstimatedProfit float64    `json:"estimatedProfit"`
	Reason          string     `json:"reason"`
	Score           float64    `json:"score"`
}

// DispatchTask carries a classified market to its best-matching strategy.
type DispatchTask struct {
	ID        string          `json:"id"`
	Market    MarketData      `json:"market"`
	Matches   []StrategyMatch `json:"matches"`
	BestMatch StrategyMatch   `json:"bestMatch"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}
