package engine

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polymarket-engine/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	t.Cleanup(feedSrv.Close)

	cfg := config.Default()
	cfg.API.GammaBaseURL = feedSrv.URL
	cfg.API.CLOBBaseURL = feedSrv.URL
	cfg.Storage.Path = ":memory:"
	cfg.Control.Enabled = false
	cfg.HTTP.EnableLogging = false
	cfg.Scan.Interval = time.Hour
	cfg.Price.ScanInterval = time.Hour
	cfg.DryRun = true
	return cfg
}

func TestEngineLifecycle(t *testing.T) {
	eng, err := New(testConfig(t), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if !eng.contract.Enabled() {
		t.Error("dry-run contract should accept simulated mutations")
	}

	eng.Start()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEngineReadOnlyWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = false
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.RPCURL = "http://localhost:1"

	eng, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if eng.contract.Enabled() {
		t.Error("contract enabled without private key")
	}
	if eng.apiServer != nil {
		t.Error("control surface built while disabled")
	}
	if err := eng.store.Close(); err != nil {
		t.Fatal(err)
	}
}
