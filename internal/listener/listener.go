// Package listener provides a Postgres LISTEN/NOTIFY consumer for thing
// lifecycle events. It holds a dedicated pgx connection (not from the pool)
// listening on the `thing_events` channel.
//
// When a schedule row is inserted, updated or deleted, the Postgres trigger
// fires pg_notify and this consumer asks the scheduler to create or remove
// the thing's notifications for today.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/szhabolcs/something-sub000/internal/config"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
	handleTimeout    = 30 * time.Second
)

// Event kinds sent by the notify_thing_event trigger.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// ThingEvent is the JSON payload from pg_notify('thing_events', ...).
type ThingEvent struct {
	Event   string `json:"event"`
	ThingID int64  `json:"thing_id"`
}

// Scheduler is the part of the notification scheduler the listener drives.
type Scheduler interface {
	ScheduleThing(ctx context.Context, thingID int64) (int, error)
	RemoveThing(ctx context.Context, thingID int64) (int, error)
}

// Start opens a dedicated connection and listens on the thing_events
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, sched Scheduler, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, sched, logger)
		if ctx.Err() != nil {
			logger.Info("Thing listener stopped (context cancelled)")
			return
		}

		logger.Error("Thing listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, sched Scheduler, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+config.ThingEventsChannel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", config.ThingEventsChannel, err)
	}
	logger.Info("Thing listener connected", "channel", config.ThingEventsChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		// Process asynchronously to avoid blocking the listener
		go Handle(ctx, sched, notification.Payload, logger)
	}
}

// Handle decodes one payload and applies it to the scheduler. Malformed
// payloads and scheduler errors are logged and dropped.
func Handle(ctx context.Context, sched Scheduler, payload string, logger *slog.Logger) {
	var event ThingEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		logger.Warn("Failed to parse thing event", "payload", payload, "error", err)
		return
	}
	if event.ThingID <= 0 {
		logger.Warn("Thing event without thing_id", "payload", payload)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	logger.Debug("thing event received", "event", event.Event, "thing_id", event.ThingID)

	switch event.Event {
	case EventCreated:
		schedule(ctx, sched, event.ThingID, logger)
	case EventUpdated:
		// The old occurrence may no longer match the new schedule.
		if remove(ctx, sched, event.ThingID, logger) {
			schedule(ctx, sched, event.ThingID, logger)
		}
	case EventDeleted:
		remove(ctx, sched, event.ThingID, logger)
	default:
		logger.Warn("Unknown thing event", "event", event.Event, "thing_id", event.ThingID)
	}
}

func schedule(ctx context.Context, sched Scheduler, thingID int64, logger *slog.Logger) {
	if _, err := sched.ScheduleThing(ctx, thingID); err != nil {
		logger.Warn("schedule thing failed", "thing_id", thingID, "error", err)
	}
}

func remove(ctx context.Context, sched Scheduler, thingID int64, logger *slog.Logger) bool {
	if _, err := sched.RemoveThing(ctx, thingID); err != nil {
		logger.Warn("remove thing notifications failed", "thing_id", thingID, "error", err)
		return false
	}
	return true
}
