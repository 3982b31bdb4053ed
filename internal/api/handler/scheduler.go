package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/szhabolcs/something-sub000/internal/api/respond"
	"github.com/szhabolcs/something-sub000/internal/notifications"
)

// ScheduleThing creates today's reminders for a newly created thing.
// @Summary Schedule thing reminders
// @Description Creates today's notifications for every user with access to the thing, if its schedule is active today.
// @Tags notifications
// @Produce json
// @Param thingID path int true "Thing ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/things/{thingID}/notifications [post]
func (h *Handler) ScheduleThing(w http.ResponseWriter, r *http.Request) {
	thingID, ok := parseThingID(w, r)
	if !ok {
		return
	}

	created, err := h.sched.ScheduleThing(r.Context(), thingID)
	switch {
	case errors.Is(err, notifications.ErrScheduleNotFound):
		respond.WriteError(w, http.StatusNotFound, "SCHEDULE_NOT_FOUND", "Thing has no schedule")
		return
	case err != nil:
		h.logger.Error("schedule thing failed", "thing_id", thingID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to schedule notifications")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"thing_id": thingID,
		"created":  created,
	})
}

// RemoveThing cancels every pending reminder of a deleted thing.
// @Summary Remove thing reminders
// @Description Cancels timers and deletes all non-completed notifications of the thing.
// @Tags notifications
// @Produce json
// @Param thingID path int true "Thing ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/things/{thingID}/notifications [delete]
func (h *Handler) RemoveThing(w http.ResponseWriter, r *http.Request) {
	thingID, ok := parseThingID(w, r)
	if !ok {
		return
	}

	removed, err := h.sched.RemoveThing(r.Context(), thingID)
	if err != nil {
		h.logger.Error("remove thing failed", "thing_id", thingID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove notifications")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"thing_id": thingID,
		"removed":  removed,
	})
}

// Rebuild runs the daily rebuild immediately.
// @Summary Trigger rebuild
// @Description Creates today's notifications for every active schedule. Idempotent.
// @Tags scheduler
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/scheduler/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.sched.Rebuild(r.Context())
	if err != nil {
		h.logger.Error("manual rebuild failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Rebuild failed")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"schedules":   res.Schedules,
		"created":     res.Created,
		"existing":    res.Existing,
		"failed":      res.Failed,
		"errors":      res.Errors,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

// SchedulerStatus reports the number of live timers.
// @Summary Scheduler status
// @Description Returns how many notifications have a live timer in this process.
// @Tags scheduler
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/scheduler/status [get]
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"pending":   h.sched.Pending(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
