package clob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"polymarket-engine/internal/httpx"
	"polymarket-engine/pkg/types"
)

// ErrUnsupportedOrderType is returned for order types the venue path does
// not support (currently FOK).
var ErrUnsupportedOrderType = errors.New("unsupported order type")

const zeroAddress = "0x0000000000000000000000000000000000000000"

// SignedOrder is the on-chain order shape the REST API expects.
type SignedOrder struct {
	Maker         string     `json:"maker"`
	Signer        string     `json:"signer"`
	Taker         string     `json:"taker"`
	TokenID       string     `json:"tokenId"`
	MakerAmount   string     `json:"makerAmount"`
	TakerAmount   string     `json:"takerAmount"`
	Side          types.Side `json:"side"`
	Expiration    string     `json:"expiration"`
	Nonce         string     `json:"nonce"`
	FeeRateBps    string     `json:"feeRateBps"`
	SignatureType int        `json:"signatureType"`
}

// OrderPayload wraps a signed order with its API owner and lifecycle type.
type OrderPayload struct {
	Order     SignedOrder     `json:"order"`
	Owner     string          `json:"owner"`
	OrderType types.OrderType `json:"orderType"`
}

// CreateOrderRequest describes one order to place.
type CreateOrderRequest struct {
	TokenID    string
	Side       types.Side
	Price      float64
	Size       float64
	OrderType  types.OrderType
	Expiration int64 // unix seconds; required for GTD
	FeeRateBps int
}

// MarketOpts carries per-market placement constraints.
type MarketOpts struct {
	TickSize types.TickSize
	NegRisk  bool
}

// Client is the CLOB REST client. Book and price reads need no auth;
// everything else requires a signer with L2 credentials.
type Client struct {
	engine *httpx.Client
	auth   *Auth
	dryRun bool
	logger *slog.Logger
}

// New creates a CLOB client over a configured request engine.
func New(engine *httpx.Client, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	return &Client{
		engine: engine,
		auth:   auth,
		dryRun: dryRun,
		logger: logger.With("component", "clob"),
	}
}

// GetOrderBook fetches the L2 book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	var book types.BookResponse
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/book",
		Params:   map[string]string{"token_id": tokenID},
		Source:   "clob",
		Result:   &book,
	})
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &book, nil
}

// GetBestPrices derives (bestBid, bestAsk) from the book. An empty bid side
// yields 0 and an empty ask side yields 1, the venue's price bounds.
func (c *Client) GetBestPrices(ctx context.Context, tokenID string) (bestBid, bestAsk float64, err error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, 0, err
	}

	bestBid = 0
	for _, lvl := range book.Bids {
		if p, ok := parsePrice(lvl.Price); ok && p > bestBid {
			bestBid = p
		}
	}
	bestAsk = 1
	for _, lvl := range book.Asks {
		if p, ok := parsePrice(lvl.Price); ok && p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid, bestAsk, nil
}

// GetPrice fetches the current price for one side of a token. A null or
// non-numeric price string yields nil, never NaN; the caller must treat nil
// as unknown.
func (c *Client) GetPrice(ctx context.Context, tokenID string, side types.Side) (*float64, error) {
	var resp struct {
		Price *string `json:"price"`
	}
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/price",
		Params:   map[string]string{"token_id": tokenID, "side": string(side)},
		Source:   "clob",
		Result:   &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	if resp.Price == nil {
		return nil, nil
	}
	p, ok := parsePrice(*resp.Price)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// CreateOrder validates, signs, and places one order. GTD orders must carry
// an expiration; FOK is rejected up front.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, opts MarketOpts) (*types.OrderPlacement, error) {
	if req.OrderType == types.OrderTypeFOK {
		return nil, fmt.Errorf("%w: FOK", ErrUnsupportedOrderType)
	}
	if req.OrderType == types.OrderTypeGTD && req.Expiration <= 0 {
		return nil, errors.New("GTD order requires expiration")
	}
	tick := opts.TickSize
	if tick == "" {
		tick = types.Tick001
	}
	if err := ValidatePrice(req.Price, tick); err != nil {
		return nil, err
	}
	if !c.auth.CanSign() {
		return nil, ErrSigningUnavailable
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"token", req.TokenID, "side", req.Side, "price", req.Price, "size", req.Size)
		return &types.OrderPlacement{Success: true, OrderID: "dry-run-" + req.TokenID}, nil
	}

	payload := c.buildOrderPayload(req, tick)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var placement types.OrderPlacement
	_, err = c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodPost,
		Endpoint: "/order",
		Body:     json.RawMessage(body),
		Headers:  headers,
		Source:   "clob",
		Result:   &placement,
	})
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	return &placement, nil
}

// buildOrderPayload converts a high-level request into the signed-order
// payload: human price/size become 6-decimal maker/taker amounts, the maker
// is the funder wallet, the signer the EOA, the taker open.
func (c *Client) buildOrderPayload(req CreateOrderRequest, tick types.TickSize) OrderPayload {
	makerAmt, takerAmt := PriceToAmounts(req.Price, req.Size, req.Side, tick)

	orderType := req.OrderType
	if orderType == "" {
		orderType = types.OrderTypeGTC
	}
	expiration := int64(0)
	if orderType == types.OrderTypeGTD {
		expiration = req.Expiration
	}

	return OrderPayload{
		Order: SignedOrder{
			Maker:       c.auth.FunderAddress().Hex(),
			Signer:      c.auth.Address().Hex(),
			Taker:       zeroAddress,
			TokenID:     req.TokenID,
			MakerAmount: makerAmt.String(),
			TakerAmount: takerAmt.String(),
			Side:        req.Side,
			Expiration:  strconv.FormatInt(expiration, 10),
			Nonce:       "0",
			FeeRateBps:  strconv.Itoa(req.FeeRateBps),
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return &types.CancelResponse{Canceled: []string{orderID}}, nil
	}
	return c.authedCancel(ctx, "/order/"+orderID, "")
}

// CancelAllOrders cancels every open order across all markets.
func (c *Client) CancelAllOrders(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}
	res, err := c.authedCancel(ctx, "/orders/cancel-all", "")
	if err != nil {
		return nil, err
	}
	c.logger.Warn("all orders cancelled", "count", len(res.Canceled))
	return res, nil
}

func (c *Client) authedCancel(ctx context.Context, path, body string) (*types.CancelResponse, error) {
	headers, err := c.auth.L2Headers("DELETE", path, body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	req := httpx.Request{
		Method:   http.MethodDelete,
		Endpoint: path,
		Headers:  headers,
		Source:   "clob",
	}
	if body != "" {
		req.Body = json.RawMessage(body)
	}
	var result types.CancelResponse
	req.Result = &result
	if _, err := c.engine.Do(ctx, req); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", path, err)
	}
	return &result, nil
}

// GetOpenOrders lists the wallet's resting orders.
func (c *Client) GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	headers, err := c.auth.L2Headers("GET", "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var orders []types.OpenOrder
	_, err = c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/orders",
		Headers:  headers,
		Source:   "clob",
		Result:   &orders,
	})
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return orders, nil
}

// GetBalanceAllowance fetches the wallet's USDC balance and allowance.
func (c *Client) GetBalanceAllowance(ctx context.Context) (*types.BalanceAllowance, error) {
	headers, err := c.auth.L2Headers("GET", "/balance-allowance", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var ba types.BalanceAllowance
	_, err = c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/balance-allowance",
		Headers:  headers,
		Source:   "clob",
		Result:   &ba,
	})
	if err != nil {
		return nil, fmt.Errorf("get balance allowance: %w", err)
	}
	return &ba, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication and installs
// them on the client's Auth.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var creds Credentials
	_, err = c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/auth/derive-api-key",
		Headers:  headers,
		Source:   "clob",
		Result:   &creds,
	})
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}

	c.auth.SetCredentials(creds)
	c.logger.Info("API key derived", "api_key", creds.ApiKey)
	return &creds, nil
}

// parsePrice converts a price string to a float, rejecting empty and
// non-numeric values so callers never see NaN.
func parsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return p, true
}
