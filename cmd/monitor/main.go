package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/pendle-monitor/internal/analyzer"
	"github.com/web3-frozen/pendle-monitor/internal/config"
	"github.com/web3-frozen/pendle-monitor/internal/dedup"
	"github.com/web3-frozen/pendle-monitor/internal/handler"
	"github.com/web3-frozen/pendle-monitor/internal/middleware"
	"github.com/web3-frozen/pendle-monitor/internal/monitor"
	"github.com/web3-frozen/pendle-monitor/internal/pendle"
	"github.com/web3-frozen/pendle-monitor/internal/store"
	"github.com/web3-frozen/pendle-monitor/internal/strategy"
	"github.com/web3-frozen/pendle-monitor/internal/telegram"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <chain-id|all>\n\nknown chains:\n", os.Args[0])
	ids := make([]int, 0, len(pendle.ChainNames))
	for id := range pendle.ChainNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(os.Stderr, "  %6d  %s\n", id, pendle.ChainNames[id])
	}
	os.Exit(2)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if len(os.Args) < 2 {
		usage()
	}
	// Chain 0 means every known chain.
	chainID := 0
	if os.Args[1] != "all" {
		id, err := strconv.Atoi(os.Args[1])
		if err != nil {
			usage()
		}
		if _, ok := pendle.ChainNames[id]; !ok {
			logger.Error("unknown chain id", "chain_id", id)
			os.Exit(1)
		}
		chainID = id
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tier persistence is optional: without a database the optimizer still
	// classifies markets, it just starts from scratch each run.
	var tiers strategy.TierStore
	var db *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("database unavailable, tier state will not persist", "error", err)
		} else {
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				logger.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
			tiers = db
			logger.Info("database connected and migrated")
		}
	}

	// Notification dedup is optional too: without Redis every anomaly
	// alerts every run.
	var dd *dedup.Cache
	if cfg.RedisURL != "" {
		var err error
		for i := 0; i < 6; i++ {
			dd, err = dedup.New(cfg.RedisURL, cfg.RedisPassword, cfg.DedupTTL)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Warn("redis unavailable, alert dedup disabled", "error", err)
			dd = nil
		} else {
			defer dd.Close()
			logger.Info("redis connected for alert dedup")
		}
	}

	notifier := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
	if !notifier.Enabled() {
		logger.Warn("telegram not configured, alerts will only be logged")
	}

	an := analyzer.New(analyzer.Policy{
		MinTransactions: cfg.MinTransactions,
		AccelMultiplier: cfg.AccelMultiplier,
		AccelFloor:      cfg.AccelFloor,
	})

	gateways := func(id int) monitor.ChainGateway {
		return pendle.NewClient(id, cfg.CacheDir, logger, pendle.WithBaseURL(cfg.PendleBaseURL))
	}

	var dedupCache monitor.DedupCache
	if dd != nil {
		dedupCache = dd
	}
	engine := monitor.NewEngine(gateways, an, notifier, dedupCache, tiers, logger)

	// One-shot mode: run a single cycle, print the report, exit.
	if cfg.RunInterval <= 0 {
		var summaries []monitor.ChainSummary
		if chainID == 0 {
			summaries = engine.RunAll(ctx)
		} else {
			s, err := engine.RunChain(ctx, chainID)
			if err != nil {
				logger.Error("analysis failed", "chain_id", chainID, "error", err)
				os.Exit(1)
			}
			summaries = []monitor.ChainSummary{*s}
		}
		fmt.Print(monitor.Report(summaries))
		return
	}

	go engine.Run(ctx, chainID, cfg.RunInterval)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	if db != nil {
		r.Get("/readyz", handler.Ready(db))
	} else {
		r.Get("/readyz", handler.Ready(nil))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handler.Stats(engine))
		if db != nil {
			r.Get("/tiers", handler.Tiers(db))
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
