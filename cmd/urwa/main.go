package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/urwa/api"
	"github.com/use-agent/urwa/cache"
	"github.com/use-agent/urwa/circuit"
	"github.com/use-agent/urwa/cleaner"
	"github.com/use-agent/urwa/compliance"
	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/cost"
	"github.com/use-agent/urwa/engine"
	"github.com/use-agent/urwa/evidence"
	"github.com/use-agent/urwa/fetch"
	"github.com/use-agent/urwa/learner"
	"github.com/use-agent/urwa/logging"
	"github.com/use-agent/urwa/metrics"
	"github.com/use-agent/urwa/profile"
	"github.com/use-agent/urwa/ratecontrol"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	logs := logging.New(os.Stdout, parseLevel(cfg.Log.Level), cfg.Log.RingSize)
	logger := slog.New(logs)
	slog.SetDefault(logger)
	logger.Info("urwa starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
	)

	// ── 3. Observability + per-domain registries ────────────────────
	m := metrics.New()
	gate := compliance.NewGate(cfg.Compliance, cfg.Scrape.UserAgent, logger)
	rate := ratecontrol.New(cfg.Rate, m, logger)
	circuits := circuit.NewRegistry(cfg.Circuit, m, logger)
	costs := cost.New(cfg.Cost, logger)
	capturer := evidence.NewCapturer(cfg.Evidence.Dir, cfg.Evidence.RetentionCount, m, logger)

	// ── 4. Learner (replays the journal) ────────────────────────────
	learn, err := learner.New(cfg.Learner.JournalPath, logger)
	if err != nil {
		logger.Error("failed to open learner journal", "error", err)
		os.Exit(1)
	}
	defer learn.Close()

	// ── 5. Fetcher trio (launches the browser) ──────────────────────
	light := fetch.NewLight(cfg.Scrape.LightTimeout)
	browser, err := fetch.NewBrowser(cfg.Browser, logger)
	if err != nil {
		logger.Error("failed to initialise browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	fetchers := fetch.NewRegistry(
		light,
		fetch.NewStealth(browser, cfg.Scrape.StealthTimeout),
		fetch.NewUltra(browser, cfg.Scrape.UltraTimeout),
	)

	// ── 6. Profiler + caches + orchestrator ─────────────────────────
	profiler := profile.NewProfiler(cfg.Profile, light, logger)
	results := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer results.Stop()

	orch := engine.New(cfg, engine.Deps{
		Fetchers: fetchers,
		Gate:     gate,
		Profiler: profiler,
		Rate:     rate,
		Circuits: circuits,
		Learner:  learn,
		Cost:     costs,
		Evidence: capturer,
		Cache:    results,
		Cleaner:  cleaner.New(logger),
		Metrics:  m,
		Logger:   logger,
		Logs:     logs,
	})

	// ── 7. Start ops HTTP server ────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(orch, m, cfg, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced shutdown", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}
}

func parseLevel(level string) slog.Level {
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
