// Polymarket Arbitrage Engine — an automated trading engine for Polymarket
// prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires scan → storage → dispatch → strategies → orders
//	pipeline/scan.go     — paginated market crawl from the Gamma feed with backpressure
//	pipeline/storage.go  — buffered write-through of market snapshots into SQLite
//	pipeline/price.go    — independent precise BUY/SELL price loop against the CLOB
//	dispatch/            — classifies each scanned market and routes it to the best strategy
//	strategy/mintsplit   — mint full outcome sets for $1, sell every leg above par
//	strategy/arblong     — buy both sides of a binary market when the asks sum below $1
//	strategy/marketmaking— dual-side quoting around mid with inventory merge
//	orders/queue.go      — single serialized executor for every venue mutation
//	clob/, contract/     — CLOB REST client and conditional-tokens contract bindings
//	api/                 — HTTP control surface and WebSocket status stream
//
// How it makes money:
//
//	Outcome tokens of one market are redeemable for exactly $1 per full set.
//	When quoted prices drift so a set sells for more than $1 (mint-split) or
//	buys for less than $1 (arbitrage-long), the engine captures the gap net
//	of fees. Market making earns the spread on liquid books in between.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	eng.Start()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	if !cfg.HasSigner() {
		logger.Warn("no signing key configured, running read-only")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
