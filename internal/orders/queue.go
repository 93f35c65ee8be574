// Package orders is the serialized execution lane for every trade-shaped
// action in the engine. One consumer drains a priority heap so contract
// calls never race on the account nonce and CLOB submissions stay paced.
package orders

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-engine/internal/clob"
	"polymarket-engine/internal/contract"
	"polymarket-engine/pkg/types"
)

// BookClient is the slice of the CLOB client the queue needs.
type BookClient interface {
	CreateOrder(ctx context.Context, req clob.CreateOrderRequest, opts clob.MarketOpts) (*types.OrderPlacement, error)
	CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error)
}

// Options tunes queue behavior. Zero values take the defaults noted per field.
type Options struct {
	MaxRetries  int           // default 3
	TaskTimeout time.Duration // per-order execution deadline, default 60s
	FeeRate     float64       // taker fee fraction used for fee accounting
}

const completedCap = 1000

type queueItem struct {
	order  *types.Order
	future chan types.OrderResult
	score  int
	seq    uint64
}

// orderHeap orders by score descending, FIFO within equal scores.
type orderHeap []*queueItem

func (h orderHeap) Len() int { return len(h) }
func (h orderHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}
func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }
func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Bucket is a volume/fee accumulator.
type Bucket struct {
	Count  int     `json:"count"`
	Volume float64 `json:"volume"`
	Fees   float64 `json:"fees"`
}

// Stats is a snapshot of the queue's execution accounting.
type Stats struct {
	Pending     int                          `json:"pending"`
	Executed    int                          `json:"executed"`
	Failed      int                          `json:"failed"`
	TotalVolume float64                      `json:"totalVolume"`
	TotalFees   float64                      `json:"totalFees"`
	ByStrategy  map[types.Strategy]Bucket    `json:"byStrategy"`
	ByType      map[types.OrderKind]Bucket   `json:"byType"`
}

// Queue executes orders one at a time in priority order. MINT and MERGE go
// to the contract client, BUY/SELL/CANCEL to the order-book client. Failed
// orders retry in place up to MaxRetries before surfacing the error.
type Queue struct {
	mu        sync.Mutex
	heap      orderHeap
	seq       uint64
	nextID    uint64
	completed []*types.Order
	stats     Stats
	closed    bool

	wake chan struct{}
	done chan struct{}

	opts     Options
	contract contract.Client
	book     BookClient
	logger   *slog.Logger
}

// New creates a queue. Call Start to begin draining.
func New(contractClient contract.Client, book BookClient, opts Options, logger *slog.Logger) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 60 * time.Second
	}
	return &Queue{
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		opts:     opts,
		contract: contractClient,
		book:     book,
		logger:   logger.With("component", "order-queue"),
		stats: Stats{
			ByStrategy: map[types.Strategy]Bucket{},
			ByType:     map[types.OrderKind]Bucket{},
		},
	}
}

// Start launches the consumer goroutine. It exits when ctx is cancelled or
// Stop is called.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Stop prevents new submissions and stops the consumer after the current
// order finishes. Pending orders are failed with their futures resolved.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.heap
	q.heap = nil
	q.mu.Unlock()

	close(q.done)
	for _, it := range pending {
		it.order.Status = types.OrderCancelled
		it.future <- types.OrderResult{OrderID: it.order.ID, Status: types.OrderCancelled}
	}
}

// Submit enqueues one order and returns a future resolved with its terminal
// result. The queue assigns the ID and initializes lifecycle fields.
func (q *Queue) Submit(order *types.Order) <-chan types.OrderResult {
	future := make(chan types.OrderResult, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		order.Status = types.OrderCancelled
		future <- types.OrderResult{Status: types.OrderCancelled, Err: fmt.Errorf("order queue stopped")}
		return future
	}
	q.nextID++
	if order.ID == "" {
		order.ID = fmt.Sprintf("ord-%d", q.nextID)
	}
	order.Status = types.OrderPending
	order.RetryCount = 0
	if order.MaxRetries <= 0 {
		order.MaxRetries = q.opts.MaxRetries
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	q.seq++
	heap.Push(&q.heap, &queueItem{
		order:  order,
		future: future,
		score:  order.Priority.Score(),
		seq:    q.seq,
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return future
}

// SubmitBatch submits a batch and blocks until every order resolves.
// Sequential batches run strictly in order; atomic ones stop at the first
// failure, cancelling the remainder. Parallel batches fan out and collect.
func (q *Queue) SubmitBatch(ctx context.Context, batch *types.OrderBatch) []types.OrderResult {
	results := make([]types.OrderResult, 0, len(batch.Orders))

	if batch.Sequential {
		for i, o := range batch.Orders {
			if batch.Priority != "" {
				o.Priority = batch.Priority
			}
			res := q.await(ctx, q.Submit(o))
			results = append(results, res)
			if batch.Atomic && res.Status != types.OrderSuccess {
				for _, rest := range batch.Orders[i+1:] {
					rest.Status = types.OrderCancelled
					results = append(results, types.OrderResult{OrderID: rest.ID, Status: types.OrderCancelled})
				}
				break
			}
		}
		return results
	}

	futures := make([]<-chan types.OrderResult, len(batch.Orders))
	for i, o := range batch.Orders {
		if batch.Priority != "" {
			o.Priority = batch.Priority
		}
		futures[i] = q.Submit(o)
	}
	for _, f := range futures {
		results = append(results, q.await(ctx, f))
	}
	return results
}

func (q *Queue) await(ctx context.Context, f <-chan types.OrderResult) types.OrderResult {
	select {
	case res := <-f:
		return res
	case <-ctx.Done():
		return types.OrderResult{Status: types.OrderFailed, Err: ctx.Err()}
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		it := q.pop()
		if it == nil {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
		}
		q.execute(ctx, it)
	}
}

func (q *Queue) pop() *queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*queueItem)
}

// execute runs one order to a terminal state, retrying in place.
func (q *Queue) execute(ctx context.Context, it *queueItem) {
	o := it.order
	now := time.Now()
	o.Status = types.OrderExecuting
	o.StartedAt = &now

	var err error
	for {
		execCtx, cancel := context.WithTimeout(ctx, q.opts.TaskTimeout)
		err = q.executeOnce(execCtx, o)
		cancel()
		if err == nil || o.RetryCount >= o.MaxRetries {
			break
		}
		o.RetryCount++
		q.logger.Warn("order retry",
			"id", o.ID, "type", o.Type, "attempt", o.RetryCount, "error", err)
	}

	done := time.Now()
	o.CompletedAt = &done
	res := types.OrderResult{OrderID: o.ID}
	if err != nil {
		o.Status = types.OrderFailed
		o.Error = err.Error()
		res.Status = types.OrderFailed
		res.Err = err
		q.logger.Error("order failed", "id", o.ID, "type", o.Type, "error", err)
	} else {
		o.Status = types.OrderSuccess
		res.Status = types.OrderSuccess
		res.TxHash = o.TxHash
		res.FilledSize = o.FilledSize
		res.FilledPrice = o.FilledPrice
		q.logger.Info("order executed",
			"id", o.ID, "type", o.Type, "size", o.FilledSize, "price", o.FilledPrice)
	}

	q.finalize(o)
	it.future <- res
}

func (q *Queue) executeOnce(ctx context.Context, o *types.Order) error {
	switch o.Type {
	case types.OrderMint:
		tx, err := q.contract.MintTokens(ctx, o.ConditionID, o.Size, o.OutcomeCount)
		if err != nil {
			return err
		}
		o.TxHash = tx.TxHash
		o.FilledSize = o.Size
		return nil

	case types.OrderMerge:
		tx, err := q.contract.MergeTokens(ctx, o.ConditionID, o.Size, o.OutcomeCount)
		if err != nil {
			return err
		}
		o.TxHash = tx.TxHash
		o.FilledSize = o.Size
		return nil

	case types.OrderBuy, types.OrderSell:
		side := types.BUY
		if o.Type == types.OrderSell {
			side = types.SELL
		}
		placement, err := q.book.CreateOrder(ctx, clob.CreateOrderRequest{
			TokenID:   o.TokenID,
			Side:      side,
			Price:     o.Price,
			Size:      o.Size,
			OrderType: types.OrderTypeGTC,
		}, clob.MarketOpts{})
		if err != nil {
			return err
		}
		if !placement.Success {
			return fmt.Errorf("order rejected: %s", placement.ErrorMsg)
		}
		if placement.OrderID != "" {
			if o.Metadata == nil {
				o.Metadata = map[string]string{}
			}
			o.Metadata["venueOrderId"] = placement.OrderID
		}
		o.FilledSize = o.Size
		o.FilledPrice = o.Price
		if len(placement.TransactionsHashes) > 0 {
			o.TxHash = placement.TransactionsHashes[0]
		}
		return nil

	case types.OrderCancel:
		_, err := q.book.CancelOrder(ctx, o.CancelOrderID)
		return err

	default:
		return fmt.Errorf("unknown order type %q", o.Type)
	}
}

// finalize moves the order into the completed ring and updates accounting.
func (q *Queue) finalize(o *types.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.completed = append(q.completed, o)
	if len(q.completed) > completedCap {
		q.completed = q.completed[len(q.completed)-completedCap:]
	}

	if o.Status != types.OrderSuccess {
		q.stats.Failed++
		return
	}
	q.stats.Executed++

	notional := o.FilledSize
	if o.FilledPrice > 0 {
		notional = o.FilledSize * o.FilledPrice
	}
	fee := notional * q.opts.FeeRate
	q.stats.TotalVolume += notional
	q.stats.TotalFees += fee

	bs := q.stats.ByStrategy[o.Strategy]
	bs.Count++
	bs.Volume += notional
	bs.Fees += fee
	q.stats.ByStrategy[o.Strategy] = bs

	bt := q.stats.ByType[o.Type]
	bt.Count++
	bt.Volume += notional
	bt.Fees += fee
	q.stats.ByType[o.Type] = bt
}

// GetStats returns a copy of the accounting counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.stats
	out.Pending = len(q.heap)
	out.ByStrategy = make(map[types.Strategy]Bucket, len(q.stats.ByStrategy))
	for k, v := range q.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	out.ByType = make(map[types.OrderKind]Bucket, len(q.stats.ByType))
	for k, v := range q.stats.ByType {
		out.ByType[k] = v
	}
	return out
}

// Completed returns the most recent terminal orders, newest last.
func (q *Queue) Completed(limit int) []*types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.completed) {
		limit = len(q.completed)
	}
	out := make([]*types.Order, limit)
	copy(out, q.completed[len(q.completed)-limit:])
	return out
}

// PendingCount reports how many orders are waiting.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
