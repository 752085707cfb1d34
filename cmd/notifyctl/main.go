// Command notifyctl runs one-shot reminder operations against the database:
//
//	notifyctl dispatch-queue [business_id] [limit]
//	notifyctl export-delivery-logs [business_id] [days] [path]
//	notifyctl purge-delivery-logs [business_id] [days]
//
// send-reminders and process-notification-queue are accepted as aliases of
// dispatch-queue.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/app"
	"github.com/notifyhub/reminder-dispatch/internal/config"
	"github.com/notifyhub/reminder-dispatch/internal/db"
	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/service"
)

// reminderOps is the slice of *service.ReminderService the commands use.
type reminderOps interface {
	RunCycle(ctx context.Context, businessID int64, limit int) (service.CycleResult, error)
	ExportFile(ctx context.Context, businessID int64, days int, path string) (string, int, error)
	PurgeLogs(ctx context.Context, businessID int64, days int) (int64, error)
}

const usage = `usage: notifyctl <command> [args]

commands:
  dispatch-queue [business_id] [limit]          enqueue due reminders, then dispatch
  export-delivery-logs [business_id] [days] [path]
  purge-delivery-logs [business_id] [days]
`

func main() {
	if len(os.Args) < 2 || !known(os.Args[1]) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	a, err := app.New(cfg, pool, logger, nil)
	if err != nil {
		logger.Fatal("failed to build reminder pipeline", zap.Error(err))
	}

	code := run(ctx, a.Service, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	pool.Close()
	_ = logger.Sync()
	os.Exit(code)
}

func known(cmd string) bool {
	switch cmd {
	case "dispatch-queue", "send-reminders", "process-notification-queue",
		"export-delivery-logs", "purge-delivery-logs":
		return true
	}
	return false
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, ops reminderOps, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	businessID := domain.NormalizeBusinessID(int64(argInt(rest, 0, 0)))

	switch cmd {
	case "dispatch-queue", "send-reminders", "process-notification-queue":
		res, err := ops.RunCycle(ctx, businessID, argInt(rest, 1, 0))
		if err != nil {
			fmt.Fprintf(stderr, "dispatch failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "business %d: scanned=%d enqueued=%d skipped=%d\n",
			res.BusinessID, res.Enqueue.Scanned, res.Enqueue.Enqueued, res.Enqueue.Skipped)
		fmt.Fprintf(stdout, "business %d: claimed=%d sent=%d cancelled=%d failed=%d skipped=%d\n",
			res.BusinessID, res.Dispatch.Claimed, res.Dispatch.Sent, res.Dispatch.Cancelled,
			res.Dispatch.Failed, res.Dispatch.Skipped)
		if res.Dispatch.Requeued > 0 || res.Dispatch.Deferred > 0 {
			fmt.Fprintf(stdout, "business %d: requeued=%d deferred=%d\n",
				res.BusinessID, res.Dispatch.Requeued, res.Dispatch.Deferred)
		}
		return 0

	case "export-delivery-logs":
		path := ""
		if len(rest) > 2 {
			path = rest[2]
		}
		written, n, err := ops.ExportFile(ctx, businessID, argInt(rest, 1, 0), path)
		if err != nil {
			fmt.Fprintf(stderr, "export failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "exported %d delivery logs to %s\n", n, written)
		return 0

	case "purge-delivery-logs":
		n, err := ops.PurgeLogs(ctx, businessID, argInt(rest, 1, 0))
		if err != nil {
			fmt.Fprintf(stderr, "purge failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "purged %d delivery logs\n", n)
		return 0
	}

	fmt.Fprint(stderr, usage)
	return 2
}

// argInt returns args[i] as a positive int, or def when it is missing,
// malformed or non-positive. Downstream code applies its own defaults to 0.
func argInt(args []string, i, def int) int {
	if i >= len(args) {
		return def
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return def
	}
	return n
}
