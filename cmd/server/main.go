// Prediction Market Server — a backend for binary (YES/NO) prediction
// markets. Trades are priced by a logarithmic market scoring rule and
// settled through an append-only ledger.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	api/server.go          — HTTP routes, rate-limit middleware, WebSocket trade stream
//	engine/dispatcher.go   — one bounded FIFO lane per market; trades within a market are serial
//	engine/executor.go     — order lifecycle: dedupe → validate → price → ledger append → caches
//	engine/validator.go    — field, quantity, outcome and balance pre-checks
//	pricing/lmsr.go        — pure LMSR cost/price functions
//	ledger/ledger.go       — append-only transaction log, the source of truth for balances
//	balance/balance.go     — O(1) balance reads, deposits/withdrawals, drift reconciliation
//	store/                 — hot market and position state with write-behind flush
//	storage/               — durable-storage contract: SQLite and in-memory adapters
//
// How money stays correct:
//
//	Every balance change is an append-only ledger entry with a unique nonce
//	and a running balance. Caches (user balance, market pools, positions)
//	are derived and periodically reconciled from the ledger, so a lost
//	cache write delays observability but never corrupts funds.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alitto/pond"

	"github.com/pavan9802/prediction-market/internal/api"
	"github.com/pavan9802/prediction-market/internal/balance"
	"github.com/pavan9802/prediction-market/internal/config"
	"github.com/pavan9802/prediction-market/internal/engine"
	"github.com/pavan9802/prediction-market/internal/ledger"
	"github.com/pavan9802/prediction-market/internal/pricing"
	"github.com/pavan9802/prediction-market/internal/ratelimit"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/internal/store"
	"github.com/pavan9802/prediction-market/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PM_CONFIG"); p != "" {
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

	// Durable storage.
	var db storage.Store
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err = storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to open database", "error", err, "path", cfg.Storage.Path)
			os.Exit(1)
		}
	default:
		db = storage.NewMemory()
	}
	defer db.Close()

	// Async worker pool for flushes and balance recomputation.
	pool := pond.New(cfg.Engine.Workers, cfg.Engine.PoolCapacity)
	defer pool.StopAndWait()

	// Core services.
	ledg := ledger.New(db)
	bal := balance.NewService(ledg, db, pool, logger)
	markets := store.NewMarketStore(db, pool, logger)
	positions := store.NewPositionStore(db, pool, logger)
	hub := api.NewHub(logger)

	exec := engine.NewExecutor(db, engine.NewValidator(bal), bal, ledg, markets, positions, hub, logger)
	dispatcher := engine.NewDispatcher(exec, cfg.Engine.QueueSize, logger)

	if err := seedMarkets(cfg.Markets, markets, db, logger); err != nil {
		logger.Error("market seeding failed", "error", err)
		os.Exit(1)
	}

	// Background loops.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	go markets.RunFlusher(bgCtx, cfg.Store.FlushInterval)
	go bal.RunReconciler(bgCtx, cfg.Balance.ReconcileInterval)

	limiter := ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	handlers := api.NewHandlers(dispatcher, exec, db, bal, markets, hub, logger)
	server := api.NewServer(cfg.Server.Addr, cfg.Server.ExemptPaths, limiter, handlers, hub, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("prediction market server started",
		"addr", cfg.Server.Addr,
		"storage", cfg.Storage.Driver,
		"markets", len(cfg.Markets),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	dispatcher.Stop()
	bgCancel()
	positions.FlushAll(context.Background())
	markets.FlushAll(context.Background())
}

// seedMarkets installs configured markets that are not yet on disk. Existing
// markets keep their pools and price.
func seedMarkets(seeds []config.MarketSeed, markets *store.MarketStore, db storage.Markets, logger *slog.Logger) error {
	ctx := context.Background()
	for _, seed := range seeds {
		existing, err := db.MarketByID(ctx, seed.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		status := types.MarketStatus(seed.Status)
		if status == "" {
			status = types.MarketOpen
		}
		m := &types.MarketState{
			MarketID:     seed.ID,
			LiquidityB:   seed.LiquidityB,
			CurrentPrice: pricing.Price(0, 0, seed.LiquidityB),
			Status:       status,
		}
		if err := markets.Seed(ctx, m); err != nil {
			return err
		}
		logger.Info("market seeded", "marketId", seed.ID, "liquidityB", seed.LiquidityB)
	}
	return nil
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
