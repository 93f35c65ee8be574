package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, baseURL string, opts func(*Options)) *Client {
	t.Helper()
	o := Options{
		BaseURL:           baseURL,
		ClientType:        "test",
		Timeout:           5 * time.Second,
		RateMaxRequests:   1000,
		RateWindow:        time.Second,
		RetryMaxRetries:   3,
		RetryInitialDelay: 10 * time.Millisecond,
		RetryMaxDelay:     100 * time.Millisecond,
		RetryOnStatus:     []int{429, 500, 502, 503, 504},
		EnableLogging:     true,
		Sink:              NewMemorySink(),
	}
	if opts != nil {
		opts(&o)
	}
	return New(o)
}

func TestDoDecodesResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %q, want 5", r.URL.Query().Get("limit"))
		}
		w.Write([]byte(`{"id":"m1","active":true}`))
	}))
	defer srv.Close()

	var out struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	c := testClient(t, srv.URL, nil)
	res, err := c.Do(context.Background(), Request{
		Method:   "GET",
		Endpoint: "/markets",
		Params:   map[string]string{"limit": "5"},
		Result:   &out,
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if !res.Success || res.StatusCode != 200 {
		t.Errorf("result = %+v, want success 200", res)
	}
	if out.ID != "m1" || !out.Active {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDoRetriesOnConfiguredStatus(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	res, err := c.Do(context.Background(), Request{Method: "GET", Endpoint: "/flaky"})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if res.Retries != 2 {
		t.Errorf("retries = %d, want 2", res.Retries)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestDoDoesNotRetryClientRejection(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid tick size"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	_, err := c.Do(context.Background(), Request{Method: "POST", Endpoint: "/order"})
	if err == nil {
		t.Fatal("expected error for 400")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T", err)
	}
	if reqErr.Kind != KindRejected {
		t.Errorf("kind = %s, want rejected", reqErr.Kind)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry)", calls.Load())
	}
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, func(o *Options) { o.RetryMaxRetries = 2 })
	_, err := c.Do(context.Background(), Request{Method: "GET", Endpoint: "/limited"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v", err)
	}
	if reqErr.Kind != KindRateLimited {
		t.Errorf("kind = %s, want rate_limited", reqErr.Kind)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3 (1 + 2 retries)", calls.Load())
	}
}

func TestDoEmitsLogRecords(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sink := NewMemorySink()
	c := testClient(t, srv.URL, func(o *Options) { o.Sink = sink })
	if _, err := c.Do(context.Background(), Request{Method: "GET", Endpoint: "/ping", Source: "scanner"}); err != nil {
		t.Fatal(err)
	}

	recs := sink.Recent(10)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ClientType != "test" || rec.Endpoint != "/ping" || !rec.Success {
		t.Errorf("record = %+v", rec)
	}
	if rec.TraceID == "" {
		t.Error("trace id missing")
	}
	if rec.Source != "scanner" {
		t.Errorf("source = %q", rec.Source)
	}
}

func TestDoLogsPerAttemptDuration(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sink := NewMemorySink()
	c := testClient(t, srv.URL, func(o *Options) {
		o.Sink = sink
		o.RetryInitialDelay = 120 * time.Millisecond
		o.RetryMaxDelay = 200 * time.Millisecond
	})
	if _, err := c.Do(context.Background(), Request{Method: "GET", Endpoint: "/flaky"}); err != nil {
		t.Fatal(err)
	}

	recs := sink.Recent(10)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	// The second attempt sits behind a ≥90ms backoff pause; each record
	// times its own attempt, not the elapsed call.
	for i, rec := range recs {
		if rec.DurationMs > 80 {
			t.Errorf("attempt %d duration = %dms, includes the backoff pause", i, rec.DurationMs)
		}
	}
}

func TestDoSkipLogging(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sink := NewMemorySink()
	c := testClient(t, srv.URL, func(o *Options) { o.Sink = sink })
	if _, err := c.Do(context.Background(), Request{Method: "GET", Endpoint: "/quiet", SkipLogging: true}); err != nil {
		t.Fatal(err)
	}
	if got := len(sink.Recent(10)); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	initial := 100 * time.Millisecond
	max := 10 * time.Second

	for n := 1; n <= 5; n++ {
		base := float64(initial) * float64(int(1)<<(n-1))
		lo := time.Duration(base * 0.75)
		hi := time.Duration(base * 1.25)
		if hi > max {
			hi = max
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(initial, max, n)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", n, d, lo, hi)
			}
		}
	}
}

func TestBackoffDelayClampsToMax(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		d := backoffDelay(time.Second, 2*time.Second, 10)
		if d > 2*time.Second {
			t.Fatalf("delay %v exceeds cap", d)
		}
	}
}

func TestMemorySinkEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewMemorySink()
	for i := 0; i < memorySinkCap+50; i++ {
		s.Append(Record{RetryCount: i})
	}
	recs := s.Recent(0)
	if len(recs) != memorySinkCap {
		t.Fatalf("len = %d, want %d", len(recs), memorySinkCap)
	}
	if recs[0].RetryCount != 50 {
		t.Errorf("oldest kept = %d, want 50", recs[0].RetryCount)
	}
}

func TestFileSinkWritesAndRotates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Append(Record{Endpoint: "/a", CreatedAt: time.Now()})
	// Force rotation by pretending the file is full.
	s.mu.Lock()
	s.size = maxLogFileSize
	s.mu.Unlock()
	s.Append(Record{Endpoint: "/b", CreatedAt: time.Now()})

	s.mu.Lock()
	size := s.size
	s.mu.Unlock()
	if size == 0 || size >= maxLogFileSize {
		t.Errorf("post-rotation size = %d", size)
	}
}
