// OpsGate engine server: loads runbooks, serves the HTTP API, and runs the
// background approval expiry, metrics rollup, retention, and adapter health
// loops.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsgate/opsgate/pkg/actions"
	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/api"
	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/cleanup"
	"github.com/opsgate/opsgate/pkg/config"
	"github.com/opsgate/opsgate/pkg/database"
	"github.com/opsgate/opsgate/pkg/engine"
	"github.com/opsgate/opsgate/pkg/metrics"
	"github.com/opsgate/opsgate/pkg/queue"
	"github.com/opsgate/opsgate/pkg/runbook"
	"github.com/opsgate/opsgate/pkg/services"
	"github.com/opsgate/opsgate/pkg/simulation"
	"github.com/opsgate/opsgate/pkg/slack"
	"github.com/opsgate/opsgate/pkg/version"
)

func logLevel(name string) slog.Level {
	switch name {
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

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting OpsGate",
		"version", version.Full(),
		"addr", cfg.Server.Addr,
		"db_path", cfg.Database.Path)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing store", "error", err)
		}
	}()

	db := dbClient.DB()
	execSvc := services.NewExecutionService(db, logger)
	adapterSvc := services.NewAdapterService(db, logger)
	metricsSvc := services.NewMetricsService(db, logger)
	retentionSvc := services.NewRetentionService(db, logger)

	// Vendor adapters register themselves in embedding builds; the stock
	// binary optionally wires a canned-response adapter for local runs.
	registry := adapter.NewRegistry()
	if os.Getenv("OPSGATE_DEV_ADAPTER") == "true" {
		dev := adapter.NewStubAdapter("dev", actions.All()...)
		if err := registry.Register(ctx, dev, nil); err != nil {
			logger.Error("Failed to register dev adapter", "error", err)
			os.Exit(1)
		}
		if err := adapterSvc.UpsertAdapter(ctx, dev.Name(), "stub", nil); err != nil {
			logger.Warn("Failed to persist dev adapter registration", "error", err)
		}
		logger.Warn("Dev adapter registered; all actions return canned responses")
	}

	// Prometheus surface.
	promReg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(promReg)

	// Audit trail, counted into the prometheus surface and optionally
	// mirrored to Slack.
	auditLogger := audit.NewLogger(db)
	var recorder audit.Recorder = auditLogger
	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL"),
		DashboardURL: os.Getenv("OPSGATE_DASHBOARD_URL"),
	})
	if slackSvc != nil {
		recorder = slack.NewNotifier(auditLogger, slackSvc)
		logger.Info("Slack notifications enabled")
	}
	recorder = metrics.NewAuditRecorder(recorder, collectors)

	// Engine core.
	sim := simulation.NewEngine(registry, logger)
	store := queue.NewStore(db, logger)
	scheduler := engine.NewScheduler(registry, recorder, execSvc, store, sim,
		engine.DefaultSchedulerConfig(), logger)
	queueExec := queue.NewExecutor(store, registry, recorder, scheduler, logger)

	// Runbook catalog.
	rbService := runbook.NewService(logger)
	if cfg.RunbookDir != "" {
		if _, err := os.Stat(cfg.RunbookDir); err != nil {
			logger.Warn("Runbook directory not found, starting with empty catalog",
				"dir", cfg.RunbookDir)
		} else if _, err := rbService.LoadDir(os.DirFS(cfg.RunbookDir), "."); err != nil {
			logger.Error("Failed to load runbooks", "dir", cfg.RunbookDir, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("Runbooks loaded", "count", rbService.Registry().Size())

	// Background loops.
	expiry := queue.NewExpiryProcessor(queueExec,
		queue.ExpiryConfig{Interval: cfg.ExpiryInterval}, logger)
	expiry.Start(ctx)
	defer expiry.Stop()

	rollup := metrics.NewRollupProcessor(metricsSvc,
		metrics.RollupConfig{Interval: cfg.RollupInterval, Period: cfg.RollupPeriod}, logger)
	rollup.Start(ctx)
	defer rollup.Stop()

	retention := cleanup.NewService(cleanup.Config{
		RetentionDays: cfg.RetentionDays,
		Interval:      cfg.CleanupInterval,
	}, retentionSvc, logger)
	retention.Start(ctx)
	defer retention.Stop()

	healthMon := adapter.NewHealthMonitor(registry, adapterSvc,
		adapter.DefaultHealthInterval, logger)
	healthMon.Start(ctx)
	defer healthMon.Stop()

	// HTTP server.
	server := api.NewServer(dbClient, scheduler, rbService.Registry(), queueExec,
		execSvc, auditLogger, collectors, logger)
	server.SetMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		err := server.Start(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	shutdownCtx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	registry.ShutdownAll(shutdownCtx2)

	logger.Info("Shutdown complete")
}
