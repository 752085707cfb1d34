package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/api"
	"github.com/notifyhub/reminder-dispatch/internal/app"
	"github.com/notifyhub/reminder-dispatch/internal/config"
	"github.com/notifyhub/reminder-dispatch/internal/db"
	"github.com/notifyhub/reminder-dispatch/internal/metrics"
	"github.com/notifyhub/reminder-dispatch/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a, err := app.New(cfg, pool, logger, m)
	if err != nil {
		logger.Fatal("failed to build reminder pipeline", zap.Error(err))
	}

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onCycle, onQueueCounts := m.SchedulerHooks()
	sweeper := worker.NewLeaseSweeper(a.Queue, cfg.ClaimLease, cfg.LeaseSweepInterval, logger, m.OnStaleClaimsReleased)
	workers := worker.NewPool(cfg.BusinessIDs, a.Service, cfg.DispatchLimit, cfg.SchedulerInterval, logger,
		worker.SchedulerHooks{OnCycle: onCycle, OnQueueCounts: onQueueCounts},
		sweeper,
	)
	workers.Start(workerCtx)

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(a.Service, pool, reg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the scheduler loops and the sweeper. A cycle interrupted
	// mid-dispatch leaves claimed rows that the next lease sweep returns.
	cancelWorkers()
	workers.Wait()

	logger.Info("server stopped cleanly")
}
