// Package httpx is the shared HTTP request engine for all venue clients.
//
// Every outbound request flows through one Client, which provides:
//   - token-bucket pacing (capacity maxRequests, continuous refill over the window)
//   - retry with exponential backoff and ±25% jitter on configured status codes
//   - per-attempt request logging to a pluggable Sink
//   - proxy selection: explicit config → SOCKS_PROXY → HTTPS_PROXY → HTTP_PROXY
//
// The feed and order-book clients are thin typed wrappers over this engine.
package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mrand "math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	xproxy "golang.org/x/net/proxy"
)

// ErrKind classifies a request failure per the engine's propagation policy.
type ErrKind string

const (
	KindTransport   ErrKind = "transport"    // network error or timeout
	KindRateLimited ErrKind = "rate_limited" // 429, retryable
	KindServerBusy  ErrKind = "server_busy"  // 5xx, retryable
	KindRejected    ErrKind = "rejected"     // other 4xx, not retryable
	KindDecode      ErrKind = "decode"       // malformed response payload
)

// RequestError carries the failure kind and final status for a request that
// exhausted its retry budget or failed terminally.
type RequestError struct {
	Kind       ErrKind
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s (status %d): %v", e.Kind, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s (status %d)", e.Kind, e.Endpoint, e.StatusCode)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Options configures one client instance.
type Options struct {
	BaseURL            string
	ClientType         string // tag for log records, e.g. "gamma", "clob"
	Timeout            time.Duration
	Proxy              string // explicit proxy URL; empty = environment
	RateMaxRequests    int
	RateWindow         time.Duration
	RetryMaxRetries    int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	RetryOnStatus      []int
	EnableLogging      bool
	MaxResponseLogSize int
	DefaultHeaders     map[string]string
	Sink               Sink
	Logger             *slog.Logger
}

// Request describes a single logical call. Params are query parameters;
// Result, when non-nil, receives the decoded JSON body on success.
type Request struct {
	Method      string
	Endpoint    string
	Params      map[string]string
	Body        any
	Headers     map[string]string
	Timeout     time.Duration // 0 = client default
	SkipLogging bool
	Source      string
	Result      any
}

// Result reports the outcome of a completed request.
type Result struct {
	Success    bool
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Retries    int
}

// Client is the rate-limited, retrying request engine.
type Client struct {
	http    *resty.Client
	bucket  *TokenBucket
	opts    Options
	retryOn map[int]bool
	logger  *slog.Logger
}

// New creates a request engine from options. Proxy resolution follows
// explicit config, then SOCKS_PROXY, HTTPS_PROXY, HTTP_PROXY.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateMaxRequests <= 0 {
		opts.RateMaxRequests = 10
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Second
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	for k, v := range opts.DefaultHeaders {
		httpClient.SetHeader(k, v)
	}
	applyProxy(httpClient, opts.Proxy)

	retryOn := make(map[int]bool, len(opts.RetryOnStatus))
	for _, code := range opts.RetryOnStatus {
		retryOn[code] = true
	}

	return &Client{
		http:    httpClient,
		bucket:  NewWindowBucket(opts.RateMaxRequests, opts.RateWindow),
		opts:    opts,
		retryOn: retryOn,
		logger:  opts.Logger.With("component", "httpx", "client", opts.ClientType),
	}
}

// applyProxy configures the transport proxy. socks* URLs get a SOCKS5
// dialer; everything else uses an HTTPS-CONNECT proxy.
func applyProxy(c *resty.Client, explicit string) {
	proxyURL := explicit
	if proxyURL == "" {
		for _, env := range []string{"SOCKS_PROXY", "HTTPS_PROXY", "HTTP_PROXY"} {
			if v := os.Getenv(env); v != "" {
				proxyURL = v
				break
			}
		}
	}
	if proxyURL == "" {
		return
	}

	if strings.HasPrefix(proxyURL, "socks") {
		addr := proxyURL
		if i := strings.Index(addr, "://"); i >= 0 {
			addr = addr[i+3:]
		}
		dialer, err := xproxy.SOCKS5("tcp", addr, nil, xproxy.Direct)
		if err != nil {
			return
		}
		transport := &http.Transport{
			DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				if cd, ok := dialer.(xproxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, address)
				}
				return dialer.Dial(network, address)
			},
		}
		c.SetTransport(transport)
		return
	}
	c.SetProxy(proxyURL)
}

// Do executes a request: acquire a token, attempt, and on a retryable
// status back off with jitter and try again, up to RetryMaxRetries.
// Non-retryable failures and transport errors surface immediately.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	traceID := newTraceID()
	start := time.Now()

	var lastStatus int
	var lastBody []byte
	for attempt := 0; ; attempt++ {
		if err := c.bucket.Wait(ctx); err != nil {
			return nil, err
		}

		// Each attempt is timed on its own; start only feeds Result.Duration.
		attemptStart := time.Now()
		status, body, err := c.attempt(ctx, req)
		attemptDur := time.Since(attemptStart)
		lastStatus, lastBody = status, body

		c.log(req, status, len(body), attemptDur, err == nil && !c.retryOn[status] && status < 400, err, attempt, traceID)

		if err != nil {
			return nil, &RequestError{Kind: KindTransport, Endpoint: req.Endpoint, Err: err}
		}

		if status < 400 {
			res := &Result{
				Success:    true,
				StatusCode: status,
				Body:       body,
				Duration:   time.Since(start),
				Retries:    attempt,
			}
			if req.Result != nil {
				if derr := decodeJSON(body, req.Result); derr != nil {
					return nil, &RequestError{Kind: KindDecode, StatusCode: status, Endpoint: req.Endpoint, Err: derr}
				}
			}
			return res, nil
		}

		if !c.retryOn[status] || attempt >= c.opts.RetryMaxRetries {
			break
		}

		delay := backoffDelay(c.opts.RetryInitialDelay, c.opts.RetryMaxDelay, attempt+1)
		c.logger.Warn("retrying request",
			"endpoint", req.Endpoint,
			"status", status,
			"attempt", attempt+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	kind := KindRejected
	switch {
	case lastStatus == http.StatusTooManyRequests:
		kind = KindRateLimited
	case lastStatus >= 500:
		kind = KindServerBusy
	}
	return &Result{
			Success:    false,
			StatusCode: lastStatus,
			Body:       lastBody,
			Duration:   time.Since(start),
		}, &RequestError{
			Kind:       kind,
			StatusCode: lastStatus,
			Endpoint:   req.Endpoint,
			Err:        errors.New(truncate(string(lastBody), 256)),
		}
}

// attempt performs one HTTP round trip.
func (c *Client) attempt(ctx context.Context, req Request) (int, []byte, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	r := c.http.R().SetContext(ctx)
	if len(req.Params) > 0 {
		r.SetQueryParams(req.Params)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	var resp *resty.Response
	var err error
	switch strings.ToUpper(req.Method) {
	case http.MethodGet:
		resp, err = r.Get(req.Endpoint)
	case http.MethodPost:
		resp, err = r.Post(req.Endpoint)
	case http.MethodPut:
		resp, err = r.Put(req.Endpoint)
	case http.MethodDelete:
		resp, err = r.Delete(req.Endpoint)
	default:
		return 0, nil, fmt.Errorf("unsupported method %q", req.Method)
	}
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode(), resp.Body(), nil
}

// backoffDelay computes the attempt-n retry delay:
// min(initial·2^(n−1)·(1 ± 0.25·U), max).
func backoffDelay(initial, max time.Duration, n int) time.Duration {
	base := float64(initial) * math.Pow(2, float64(n-1))
	jitter := 1 + (mrand.Float64()*0.5 - 0.25)
	d := time.Duration(base * jitter)
	if max > 0 && d > max {
		d = max
	}
	return d
}

func (c *Client) log(req Request, status, respSize int, dur time.Duration, success bool, err error, retry int, traceID string) {
	if !c.opts.EnableLogging || req.SkipLogging {
		return
	}
	// Sink failures must never propagate into the request path.
	defer func() { _ = recover() }()

	rec := Record{
		ClientType:    c.opts.ClientType,
		Endpoint:      req.Endpoint,
		Method:        strings.ToUpper(req.Method),
		RequestParams: req.Params,
		StatusCode:    status,
		ResponseSize:  respSize,
		DurationMs:    dur.Milliseconds(),
		Success:       success,
		RetryCount:    retry,
		TraceID:       traceID,
		Source:        req.Source,
		CreatedAt:     time.Now(),
	}
	if err != nil {
		rec.ErrorMessage = truncate(err.Error(), c.maxLogSize())
	}
	c.opts.Sink.Append(rec)
}

func (c *Client) maxLogSize() int {
	if c.opts.MaxResponseLogSize > 0 {
		return c.opts.MaxResponseLogSize
	}
	return 2048
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func decodeJSON(body []byte, out any) error {
	if len(body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(body, out)
}

func newTraceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
