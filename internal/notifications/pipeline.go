package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// RebuildResult tracks the outcome of a daily rebuild.
type RebuildResult struct {
	Schedules int
	Created   int
	Existing  int
	Failed    int
	Duration  time.Duration
	Errors    []string
}

// Summary returns a human-readable summary.
func (r *RebuildResult) Summary() string {
	return fmt.Sprintf("schedules=%d created=%d existing=%d failed=%d dur=%s",
		r.Schedules, r.Created, r.Existing, r.Failed, r.Duration.Round(time.Millisecond))
}

// Rebuild creates today's notifications for every active schedule and each
// user with access to its thing. Per-schedule failures are recorded in the
// result; only failing to list the schedules aborts the run.
func (s *Scheduler) Rebuild(ctx context.Context) (RebuildResult, error) {
	start := time.Now()
	var result RebuildResult

	now := s.now().UTC()
	scheduled, err := s.store.ActiveToday(ctx, interval.Midnight(now), now.Weekday(), s.personalAlwaysActive)
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("active schedules: %w", err)
	}
	result.Schedules = len(scheduled)
	if len(scheduled) == 0 {
		s.logger.Info("No active schedules today")
		result.Duration = time.Since(start)
		return result, nil
	}

	// Worker pool: one channel of schedules, N workers
	workers := s.workers
	if workers > len(scheduled) {
		workers = len(scheduled)
	}

	ch := make(chan ScheduledThing, len(scheduled))
	for _, st := range scheduled {
		ch <- st
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range ch {
				created, existing, errs := s.rebuildThing(ctx, st, now)

				mu.Lock()
				result.Created += created
				result.Existing += existing
				result.Failed += len(errs)
				result.Errors = append(result.Errors, errs...)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	result.Duration = time.Since(start)

	s.logger.Info("Rebuild complete", "summary", result.Summary())
	return result, nil
}

func (s *Scheduler) rebuildThing(ctx context.Context, st ScheduledThing, now time.Time) (created, existing int, errs []string) {
	users, err := s.store.Recipients(ctx, st.Thing.ID)
	if err != nil {
		s.logger.Warn("get recipients failed", "thing_id", st.Thing.ID, "error", err)
		return 0, 0, []string{fmt.Sprintf("thing %d: %s", st.Thing.ID, err)}
	}

	iv := st.Schedule.IntervalOn(now)
	for _, u := range users {
		_, ok, err := s.CreateNotification(ctx, u, st.Thing, iv)
		if err != nil {
			s.logger.Warn("create notification failed",
				"thing_id", st.Thing.ID, "user_id", u.ID, "error", err)
			errs = append(errs, fmt.Sprintf("thing %d user %d: %s", st.Thing.ID, u.ID, err))
			continue
		}
		if ok {
			created++
		} else {
			existing++
		}
	}
	return created, existing, errs
}
