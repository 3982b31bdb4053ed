// Command api is the habit rewards & reminders server. It owns the single
// notification scheduler of the deployment.
//
// Usage:
//
//	habit-api
//	API_PORT=8080 REBUILD_HOUR=3 habit-api

// @title Habit Rewards & Reminders API
// @version 1.0.0
// @description Proof submission with streak, points, badge and level rewards, plus triggers for the reminder scheduler.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Habit Rewards
// @license.name MIT
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

	"github.com/joho/godotenv"

	"github.com/szhabolcs/something-sub000/internal/api"
	"github.com/szhabolcs/something-sub000/internal/config"
	"github.com/szhabolcs/something-sub000/internal/db"
	"github.com/szhabolcs/something-sub000/internal/ledger"
	"github.com/szhabolcs/something-sub000/internal/listener"
	"github.com/szhabolcs/something-sub000/internal/maintenance"
	"github.com/szhabolcs/something-sub000/internal/notifications"

	_ "github.com/szhabolcs/something-sub000/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Push delivery (nil when disabled)
	var sender notifications.Sender
	if expo := notifications.NewExpoSender(cfg.PushEnabled, cfg.ExpoAccessToken, cfg.PushRatePerSecond, logger); expo != nil {
		sender = expo
		logger.Info("Push delivery enabled", "rate_per_second", cfg.PushRatePerSecond)
	} else {
		logger.Info("Push delivery disabled (PUSH_ENABLED=false)")
	}

	if cfg.PersonalAlwaysActive {
		logger.Warn("SCHEDULER_PERSONAL_ALWAYS_ACTIVE is set: personal things are scheduled every day regardless of repeat rule")
	}

	// The one scheduling authority of this deployment
	sched := notifications.New(notifications.NewPGStore(pool.Pool), sender, logger,
		notifications.WithWorkers(cfg.RebuildWorkers),
		notifications.WithRebuildHour(cfg.RebuildHour),
		notifications.WithPersonalAlwaysActive(cfg.PersonalAlwaysActive),
	)
	go sched.Run(ctx)
	logger.Info("Notification scheduler started", "rebuild_hour_utc", cfg.RebuildHour, "workers", cfg.RebuildWorkers)

	// Start LISTEN/NOTIFY consumer for thing lifecycle events
	if cfg.ListenerEnabled {
		go listener.Start(ctx, cfg.DatabaseURL, sched, logger)
	}

	// Start maintenance tickers (cleanup, adoption sweep)
	go maintenance.Start(ctx, pool, sched, maintenance.Config{
		CleanupInterval: cfg.CleanupInterval,
		SweepInterval:   cfg.SweepInterval,
		Retention:       cfg.NotificationRetention,
	}, logger)

	// Create router
	router := api.NewRouter(api.Deps{
		Ledger:    ledger.New(ledger.NewPGStore(pool.Pool), logger),
		Scheduler: sched,
		DB:        pool,
		Logger:    logger,
	}, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // manual rebuilds can take a while
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Habit API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
