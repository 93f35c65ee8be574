package clob

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polymarket-engine/internal/httpx"
	"polymarket-engine/pkg/types"
)

// testKey is a throwaway private key for signing tests.
const testKey = "0000000000000000000000000000000000000000000000000000000000000001"

func newTestClob(t *testing.T, handler http.Handler, keyHex string, dryRun bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	auth, err := NewAuth(keyHex, "", 137)
	if err != nil {
		t.Fatal(err)
	}
	auth.SetCredentials(Credentials{ApiKey: "k", Secret: "c2VjcmV0", Passphrase: "p"})

	engine := httpx.New(httpx.Options{
		BaseURL:         srv.URL,
		ClientType:      "clob",
		RateMaxRequests: 1000,
		RateWindow:      time.Second,
	})
	return New(engine, auth, dryRun, slog.Default())
}

func TestGetBestPrices(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") != "tok1" {
			t.Errorf("token_id = %q", r.URL.Query().Get("token_id"))
		}
		json.NewEncoder(w).Encode(types.BookResponse{
			Bids: []types.PriceLevel{{Price: "0.44", Size: "10"}, {Price: "0.45", Size: "5"}},
			Asks: []types.PriceLevel{{Price: "0.48", Size: "3"}, {Price: "0.47", Size: "8"}},
		})
	}), "", false)

	bid, ask, err := c.GetBestPrices(context.Background(), "tok1")
	if err != nil {
		t.Fatal(err)
	}
	if bid != 0.45 {
		t.Errorf("bestBid = %v, want 0.45", bid)
	}
	if ask != 0.47 {
		t.Errorf("bestAsk = %v, want 0.47", ask)
	}
}

func TestGetBestPricesEmptySides(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.BookResponse{})
	}), "", false)

	bid, ask, err := c.GetBestPrices(context.Background(), "tok1")
	if err != nil {
		t.Fatal(err)
	}
	if bid != 0 || ask != 1 {
		t.Errorf("empty book = (%v, %v), want (0, 1)", bid, ask)
	}
}

func TestGetPriceNullSafe(t *testing.T) {
	t.Parallel()
	bodies := map[string]string{
		"null":    `{"price": null}`,
		"garbage": `{"price": "abc"}`,
		"empty":   `{"price": ""}`,
	}
	for name, body := range bodies {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}), "", false)
			p, err := c.GetPrice(context.Background(), "tok1", types.BUY)
			if err != nil {
				t.Fatal(err)
			}
			if p != nil {
				t.Errorf("price = %v, want nil", *p)
			}
		})
	}
}

func TestGetPriceValue(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("side") != "SELL" {
			t.Errorf("side = %q", r.URL.Query().Get("side"))
		}
		w.Write([]byte(`{"price": "0.55"}`))
	}), "", false)

	p, err := c.GetPrice(context.Background(), "tok1", types.SELL)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || *p != 0.55 {
		t.Errorf("price = %v, want 0.55", p)
	}
}

func TestCreateOrderRejectsFOK(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.NotFoundHandler(), testKey, false)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		TokenID: "tok1", Side: types.BUY, Price: 0.45, Size: 10, OrderType: types.OrderTypeFOK,
	}, MarketOpts{TickSize: types.Tick001})
	if !errors.Is(err, ErrUnsupportedOrderType) {
		t.Errorf("err = %v, want ErrUnsupportedOrderType", err)
	}
}

func TestCreateOrderRequiresSigner(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.NotFoundHandler(), "", false)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		TokenID: "tok1", Side: types.BUY, Price: 0.45, Size: 10, OrderType: types.OrderTypeGTC,
	}, MarketOpts{TickSize: types.Tick001})
	if !errors.Is(err, ErrSigningUnavailable) {
		t.Errorf("err = %v, want ErrSigningUnavailable", err)
	}
}

func TestCreateOrderValidatesTick(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.NotFoundHandler(), testKey, false)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		TokenID: "tok1", Side: types.BUY, Price: 0.455, Size: 10, OrderType: types.OrderTypeGTC,
	}, MarketOpts{TickSize: types.Tick001})
	if err == nil {
		t.Error("expected tick alignment error")
	}
}

func TestCreateOrderGTDNeedsExpiration(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.NotFoundHandler(), testKey, false)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		TokenID: "tok1", Side: types.BUY, Price: 0.45, Size: 10, OrderType: types.OrderTypeGTD,
	}, MarketOpts{TickSize: types.Tick001})
	if err == nil {
		t.Error("expected expiration error for GTD")
	}
}

func TestCreateOrderDryRun(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dry run must not hit the venue")
	}), testKey, true)

	res, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		TokenID: "tok1", Side: types.BUY, Price: 0.45, Size: 10, OrderType: types.OrderTypeGTC,
	}, MarketOpts{TickSize: types.Tick001})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("dry-run placement should succeed")
	}
}

func TestCreateOrderPostsSignedPayload(t *testing.T) {
	t.Parallel()
	var got OrderPayload
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("POLY_API_KEY") != "k" {
			t.Errorf("missing L2 headers")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(types.OrderPlacement{Success: true, OrderID: "o1"})
	}), testKey, false)

	res, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		TokenID: "tok1", Side: types.BUY, Price: 0.45, Size: 100, OrderType: types.OrderTypeGTC,
	}, MarketOpts{TickSize: types.Tick001})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.OrderID != "o1" {
		t.Errorf("placement = %+v", res)
	}
	if got.Order.MakerAmount != "45000000" || got.Order.TakerAmount != "100000000" {
		t.Errorf("amounts = %s/%s", got.Order.MakerAmount, got.Order.TakerAmount)
	}
	if got.Order.Taker != zeroAddress {
		t.Errorf("taker = %s", got.Order.Taker)
	}
	if got.OrderType != types.OrderTypeGTC {
		t.Errorf("orderType = %s", got.OrderType)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/order/o1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(types.CancelResponse{Canceled: []string{"o1"}})
	}), testKey, false)

	res, err := c.CancelOrder(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Canceled) != 1 || res.Canceled[0] != "o1" {
		t.Errorf("canceled = %v", res.Canceled)
	}
}

func TestAuthWithoutKeyIsReadOnly(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth("", "", 137)
	if err != nil {
		t.Fatal(err)
	}
	if auth.CanSign() {
		t.Error("CanSign should be false without a key")
	}
	if _, err := auth.L1Headers(0); !errors.Is(err, ErrSigningUnavailable) {
		t.Errorf("L1Headers err = %v", err)
	}
	if _, err := auth.L2Headers("GET", "/orders", ""); !errors.Is(err, ErrSigningUnavailable) {
		t.Errorf("L2Headers err = %v", err)
	}
}

func TestAuthL2Headers(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(testKey, "", 137)
	if err != nil {
		t.Fatal(err)
	}
	auth.SetCredentials(Credentials{ApiKey: "k", Secret: "c2VjcmV0", Passphrase: "p"})

	h, err := auth.L2Headers("POST", "/order", `{"a":1}`)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_API_KEY", "POLY_PASSPHRASE"} {
		if h[key] == "" {
			t.Errorf("header %s missing", key)
		}
	}
}
