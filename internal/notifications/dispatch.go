package notifications

import (
	"context"
	"errors"
)

// Run reconciles persisted notifications, catches up on today's rebuild
// and then rebuilds once a day at the configured UTC hour. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func (s *Scheduler) Run(ctx context.Context) {
	res, err := s.Reconcile(ctx)
	if err != nil {
		s.logger.Error("Startup reconciliation failed", "error", err)
	} else {
		s.logger.Info("Startup reconciliation complete", "summary", res.Summary())
	}

	// Covers a process that was down across the last boundary.
	if _, err := s.Rebuild(ctx); err != nil {
		s.logger.Error("Startup rebuild failed", "error", err)
	}

	for {
		next := NextBoundary(s.now(), s.rebuildHour)
		due := make(chan struct{})
		timer := s.afterFunc(next.Sub(s.now()), func() { close(due) })
		s.logger.Info("Next rebuild scheduled", "at", next)

		select {
		case <-due:
			if _, err := s.Rebuild(ctx); err != nil {
				s.logger.Error("rebuild error", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			stopped := s.registry.StopAll()
			s.logger.Info("Notification scheduler stopped", "timers_stopped", stopped)
			return
		}
	}
}

// fire is the timer callback. Only the caller that takes id out of the
// registry proceeds, and the id stays registered as firing until the send
// is over.
func (s *Scheduler) fire(id int64) {
	if !s.registry.Take(id) {
		return
	}
	defer s.registry.Release(id)

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	s.send(ctx, id)
}

// send claims the notification (scheduled -> completed) and then delivers
// the push best-effort. A notification that is gone or already completed
// is never sent.
func (s *Scheduler) send(ctx context.Context, id int64) {
	n, user, err := s.store.Claim(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("notification gone or already completed", "notification_id", id)
		return
	case err != nil:
		s.logger.Warn("claim notification failed", "notification_id", id, "error", err)
		return
	}

	switch {
	case user.PushToken == "":
		s.logger.Debug("recipient has no push token", "notification_id", id, "user_id", user.ID)
	case s.sender != nil:
		if err := s.sender.Send(ctx, user.PushToken, n.Title, n.Body, n.Payload); err != nil {
			s.logger.Warn("push delivery failed",
				"notification_id", id, "user_id", user.ID, "error", err)
		}
	}
	s.logger.Info("Notification completed", "notification_id", id, "user_id", n.UserID)
}
