// Package handler provides HTTP handlers for all API endpoints.
// Handlers are thin: they parse the request, call the ledger or the
// scheduler and translate domain errors into the shared error shape.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/szhabolcs/something-sub000/internal/api/respond"
	"github.com/szhabolcs/something-sub000/internal/ledger"
	"github.com/szhabolcs/something-sub000/internal/notifications"
)

// Ledger records proof submissions.
type Ledger interface {
	Submit(ctx context.Context, sub ledger.Submission) (*ledger.Result, error)
}

// Scheduler is the process's notification scheduler.
type Scheduler interface {
	ScheduleThing(ctx context.Context, thingID int64) (int, error)
	RemoveThing(ctx context.Context, thingID int64) (int, error)
	Rebuild(ctx context.Context) (notifications.RebuildResult, error)
	Pending() int
}

// HealthChecker reports database reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	ledger Ledger
	sched  Scheduler
	db     HealthChecker
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Handler with shared dependencies.
func New(l Ledger, s Scheduler, db HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: l,
		sched:  s,
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Habit Rewards & Reminders API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
