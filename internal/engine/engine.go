// Package engine wires the whole trading system together:
//
//  1. The scan stage crawls the market feed and buffers pages into storage.
//  2. The dispatcher classifies each scanned page and routes markets to the
//     three strategy evaluators.
//  3. The price stage independently reads precise book prices per token.
//  4. Every trade-shaped action funnels through one serialized order queue
//     backed by the CLOB client and the conditional-tokens contract.
//  5. An optional HTTP control surface exposes status and configuration.
//
// Lifecycle: New() → Start() → [runs until signal] → Shutdown(ctx).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymarket-engine/internal/api"
	"polymarket-engine/internal/clob"
	"polymarket-engine/internal/config"
	"polymarket-engine/internal/contract"
	"polymarket-engine/internal/dispatch"
	"polymarket-engine/internal/feed"
	"polymarket-engine/internal/httpx"
	"polymarket-engine/internal/orders"
	"polymarket-engine/internal/pipeline"
	"polymarket-engine/internal/store"
	"polymarket-engine/internal/strategy"
	"polymarket-engine/pkg/types"
)

const defaultCLOBBaseURL = "https://clob.polymarket.com"

// Engine owns every stage and coordinates startup and shutdown order.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	store    *store.Store
	feed     *feed.Client
	clob     *clob.Client
	contract contract.Client

	storage    *pipeline.Storage
	scanner    *pipeline.Scanner
	price      *pipeline.PriceScanner
	queue      *orders.Queue
	strategies *strategy.Manager
	dispatcher *dispatch.Dispatcher
	mm         *strategy.MarketMaking
	apiServer  *api.Server

	// requests is the in-memory tail of the request log, shared by both
	// HTTP clients and served on the control surface.
	requests *httpx.MemorySink
	sink     httpx.Sink

	cancel context.CancelFunc
}

// New constructs the engine. A missing private key leaves the contract and
// order placement disabled; the read-only pipeline still runs.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: logger.With("component", "engine")}

	st, err := store.Open(cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.store = st

	clobBase := cfg.API.CLOBBaseURL
	if clobBase == "" {
		clobBase = defaultCLOBBaseURL
	}

	e.requests = httpx.NewMemorySink()
	e.sink = e.requests
	if cfg.HTTP.EnableLogging {
		fs, err := httpx.NewFileSink(cfg.HTTP.LogDir)
		if err != nil {
			e.logger.Warn("request log file unavailable", "error", err)
		} else {
			e.sink = httpx.TeeSink{fs, e.requests}
		}
	}

	gammaEngine := httpx.New(e.httpOptions(cfg.API.GammaBaseURL, "gamma"))
	clobEngine := httpx.New(e.httpOptions(clobBase, "clob"))
	e.feed = feed.New(gammaEngine, logger)

	auth, err := clob.NewAuth(cfg.Wallet.PrivateKey, cfg.Wallet.FunderAddress, int64(cfg.Wallet.ChainID))
	if err != nil {
		return nil, fmt.Errorf("clob auth: %w", err)
	}
	e.clob = clob.New(clobEngine, auth, cfg.DryRun, logger)

	e.contract = contract.Disabled{}
	if cfg.DryRun {
		e.contract = contract.DryRun{}
	} else if cfg.Wallet.PrivateKey != "" && cfg.Wallet.RPCURL != "" {
		ctf, err := contract.NewCTFClient(cfg.Wallet.RPCURL, cfg.Wallet.PrivateKey,
			int64(cfg.Wallet.ChainID), contract.Addresses{}, logger)
		if err != nil {
			return nil, fmt.Errorf("contract client: %w", err)
		}
		e.contract = ctf
	}

	e.queue = orders.New(e.contract, e.clob, orders.Options{
		MaxRetries:  cfg.Orders.MaxRetries,
		TaskTimeout: cfg.Orders.TaskTimeout,
		FeeRate:     0.015,
	}, logger)

	e.strategies = strategy.NewManager(cfg.Strategies, logger)

	mintSplit := strategy.NewMintSplit(e.strategies, e.queue, e.contract, logger)
	mintSplit.SetPacing(cfg.Orders.PacingDelay)
	arbLong := strategy.NewArbitrageLong(e.strategies, e.queue, e.clob, logger)
	e.mm = strategy.NewMarketMaking(e.strategies, e.queue, e.clob, logger)

	e.dispatcher = dispatch.New(cfg.Dispatcher, logger)
	e.dispatcher.Register(mintSplit)
	e.dispatcher.Register(arbLong)
	e.dispatcher.Register(e.mm)

	e.storage = pipeline.NewStorage(cfg.Storage, st, logger)
	e.scanner = pipeline.NewScanner(cfg.Scan, e.feed, e.storage, logger)
	e.scanner.OnMarkets = func(ctx context.Context, markets []types.MarketData) {
		e.dispatcher.Analyze(ctx, markets)
	}
	e.price = pipeline.NewPriceScanner(cfg.Price, st, e.clob, logger)

	if cfg.Control.Enabled {
		e.apiServer = api.NewServer(cfg.Control, api.Deps{
			Scanner:    e.scanner,
			Price:      e.price,
			Storage:    e.storage,
			Queue:      e.queue,
			Dispatcher: e.dispatcher,
			Strategies: e.strategies,
			Store:      st,
			Requests:   e.requests,
		}, logger)
	}
	return e, nil
}

func (e *Engine) httpOptions(baseURL, clientType string) httpx.Options {
	h := e.cfg.HTTP
	return httpx.Options{
		BaseURL:            baseURL,
		ClientType:         clientType,
		Timeout:            h.Timeout,
		Proxy:              e.cfg.API.Proxy,
		RateMaxRequests:    h.RateMaxRequests,
		RateWindow:         h.RateWindow,
		RetryMaxRetries:    h.RetryMaxRetries,
		RetryInitialDelay:  h.RetryInitialDelay,
		RetryMaxDelay:      h.RetryMaxDelay,
		RetryOnStatus:      h.RetryOnStatus,
		EnableLogging:      h.EnableLogging,
		MaxResponseLogSize: h.MaxResponseLogSize,
		Sink:               e.sink,
		Logger:             e.logger,
	}
}

// Start launches every stage. Non-blocking.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.queue.Start(ctx)
	e.storage.Start(ctx)
	e.scanner.Start(ctx)
	e.price.Start(ctx)
	if e.cfg.Strategies.MarketMaking.Enabled {
		e.mm.Start(ctx)
	}
	if e.apiServer != nil {
		e.apiServer.SetContext(ctx)
		go func() {
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("control surface failed", "error", err)
			}
		}()
		go e.broadcastStatus(ctx)
	}
	e.logger.Info("engine started",
		"dryRun", e.cfg.DryRun, "signing", e.contract.Enabled())
}

// broadcastStatus pushes a queues-status snapshot to the WS stream every 5s.
func (e *Engine) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.apiServer.BroadcastStatus()
		}
	}
}

// Shutdown stops the stages in order: control surface first, then the
// producers, then the order queue, then the storage flush, then the store.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("engine shutting down")

	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Warn("control surface stop failed", "error", err)
		}
	}

	e.scanner.Stop()
	e.price.Stop()
	e.mm.StopAll(ctx)
	e.queue.Stop()

	// Drain buffered writes before the store goes away.
	e.storage.Stop(ctx)

	if e.cancel != nil {
		e.cancel()
	}
	return e.store.Close()
}
