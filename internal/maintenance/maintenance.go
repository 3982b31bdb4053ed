// Package maintenance runs periodic background tasks as Go tickers.
// All recurring housekeeping is driven from Go since the server is already a
// persistent, long-running process (required for the notification timers).
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/szhabolcs/something-sub000/internal/notifications"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval time.Duration // Old completed notifications
	SweepInterval   time.Duration // Adopt notifications created out-of-process
	Retention       time.Duration // How long completed notifications are kept
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: 1 * time.Hour,
		SweepInterval:   15 * time.Minute,
		Retention:       30 * 24 * time.Hour,
	}
}

// Cleaner purges completed notifications scheduled before cutoff.
type Cleaner interface {
	CleanupCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reconciler registers timers for persisted notifications that have none.
type Reconciler interface {
	Reconcile(ctx context.Context) (notifications.ReconcileResult, error)
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, cleaner Cleaner, rec Reconciler, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"sweep", cfg.SweepInterval,
		"retention", cfg.Retention)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { Cleanup(ctx, cleaner, time.Now().Add(-cfg.Retention), logger) })
	}

	// Sweep: notifications written by `habitctl rebuild` or another process
	// exist only in the database until a reconcile adopts them.
	if cfg.SweepInterval > 0 {
		t := time.NewTicker(cfg.SweepInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { Sweep(ctx, rec, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// Cleanup removes completed notifications scheduled before cutoff.
func Cleanup(ctx context.Context, cleaner Cleaner, cutoff time.Time, logger *slog.Logger) int64 {
	n, err := cleaner.CleanupCompleted(ctx, cutoff)
	if err != nil {
		logger.Warn("Cleanup: failed to purge completed notifications", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("Cleanup: purged completed notifications", "count", n, "cutoff", cutoff)
	}
	return n
}

// Sweep re-runs reconciliation so records created elsewhere get timers.
func Sweep(ctx context.Context, rec Reconciler, logger *slog.Logger) {
	res, err := rec.Reconcile(ctx)
	if err != nil {
		logger.Warn("Sweep: reconcile failed", "error", err)
		return
	}
	if res.Registered > 0 || res.Discarded > 0 {
		logger.Info("Sweep: adopted notifications", "summary", res.Summary())
	}
}
