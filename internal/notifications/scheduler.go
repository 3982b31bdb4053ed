package notifications

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// Store is the persistence the scheduler needs.
type Store interface {
	ListNonCompleted(ctx context.Context) ([]Notification, error)
	// Exists returns a notification for (user, thing) scheduled inside iv,
	// or nil when there is none.
	Exists(ctx context.Context, userID, thingID int64, iv interval.Interval) (*Notification, error)
	// CreateUnlessExists inserts n unless (n.UserID, n.ThingID) already has
	// a notification inside iv, in which case that one is returned with
	// false. Atomic across every process sharing the store.
	CreateUnlessExists(ctx context.Context, n Notification, iv interval.Interval) (Notification, bool, error)
	// Claim moves a scheduled notification to completed and returns it with
	// its recipient. ErrNotFound when it is gone or already completed.
	Claim(ctx context.Context, id int64) (Notification, User, error)
	// Delete removes a notification that is still scheduled.
	Delete(ctx context.Context, id int64) error
	ListForThing(ctx context.Context, thingID int64) ([]Notification, error)
	// ActiveToday lists schedules with an occurrence today. includePersonal
	// additionally returns every schedule of a personal thing.
	ActiveToday(ctx context.Context, today time.Time, weekday time.Weekday, includePersonal bool) ([]ScheduledThing, error)
	ScheduleForThing(ctx context.Context, thingID int64) (ScheduledThing, error)
	Recipients(ctx context.Context, thingID int64) ([]User, error)
}

// Sender delivers a push. Errors are reported, never retried.
type Sender interface {
	Send(ctx context.Context, to, title, body string, data map[string]any) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }
func WithPicker(p Picker) Option            { return func(s *Scheduler) { s.pick = p } }
func WithAfterFunc(f AfterFunc) Option      { return func(s *Scheduler) { s.afterFunc = f } }

// WithWorkers bounds the rebuild fan-out.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRebuildHour sets the UTC hour of the daily rebuild.
func WithRebuildHour(h int) Option { return func(s *Scheduler) { s.rebuildHour = h } }

// WithPersonalAlwaysActive restores the legacy filter that treats every
// personal thing as active regardless of its repeat rule.
func WithPersonalAlwaysActive(on bool) Option {
	return func(s *Scheduler) { s.personalAlwaysActive = on }
}

// Scheduler is the single scheduling authority of a process. It owns the
// registry of live timers.
type Scheduler struct {
	store    Store
	sender   Sender
	registry *Registry
	logger   *slog.Logger

	now         func() time.Time
	pick        Picker
	afterFunc   AfterFunc
	workers     int
	rebuildHour int
	sendTimeout time.Duration

	personalAlwaysActive bool

	// serializes the exists-then-create check per (user, thing)
	pairLocks [lockStripes]sync.Mutex
}

func New(store Store, sender Sender, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		sender:      sender,
		registry:    NewRegistry(),
		logger:      logger,
		now:         time.Now,
		pick:        RandomInstant,
		afterFunc:   realAfterFunc,
		workers:     defaultWorkers,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending is the number of live timers.
func (s *Scheduler) Pending() int { return s.registry.Len() }

// --------------------------------------------------------------------------
// Reconciliation
// --------------------------------------------------------------------------

type ReconcileResult struct {
	Registered int
	Discarded  int
	Skipped    int
	Failed     int
}

func (r ReconcileResult) Summary() string {
	return fmt.Sprintf("registered=%d discarded=%d skipped=%d failed=%d",
		r.Registered, r.Discarded, r.Skipped, r.Failed)
}

// Reconcile registers a timer for every future non-completed notification
// and deletes the ones whose time has passed. Notifications that already
// have a timer or are being sent are left alone, so it is safe to call
// repeatedly and concurrently with firing.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	pending, err := s.store.ListNonCompleted(ctx)
	if err != nil {
		return res, fmt.Errorf("list non-completed notifications: %w", err)
	}

	for _, n := range pending {
		if s.registry.Has(n.ID) {
			res.Skipped++
			continue
		}
		if isLate(n, s.now()) {
			if err := s.store.Delete(ctx, n.ID); err != nil {
				s.logger.Warn("delete late notification failed", "notification_id", n.ID, "error", err)
				res.Failed++
				continue
			}
			s.logger.Info("Notification late, discarded",
				"notification_id", n.ID, "scheduled_at", n.ScheduledAt)
			res.Discarded++
			continue
		}
		if s.register(n) {
			res.Registered++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// register starts the timer for n. False if n already has one.
func (s *Scheduler) register(n Notification) bool {
	id := n.ID
	delay := n.ScheduledAt.Sub(s.now())
	return s.registry.Add(id, func() Timer {
		return s.afterFunc(delay, func() { s.fire(id) })
	})
}

// --------------------------------------------------------------------------
// Creation & removal
// --------------------------------------------------------------------------

// CreateNotification schedules a reminder for user inside iv unless one
// already exists there. The bool reports whether a new record was created.
// The instant is picked from the part of iv that has not elapsed yet.
// The pair lock covers this process; the store's check-and-insert covers
// other writers such as habitctl.
func (s *Scheduler) CreateNotification(ctx context.Context, user User, thing Thing, iv interval.Interval) (*Notification, bool, error) {
	l := s.pairLock(user.ID, thing.ID)
	l.Lock()
	defer l.Unlock()

	existing, err := s.store.Exists(ctx, user.ID, thing.ID, iv)
	if err != nil {
		return nil, false, fmt.Errorf("check existing notification: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	remaining := iv
	if now := s.now(); now.After(remaining.Start) {
		remaining.Start = now
	}
	if remaining.Duration() <= 0 {
		s.logger.Debug("interval already elapsed", "user_id", user.ID, "thing_id", thing.ID, "interval", iv.String())
		return nil, false, nil
	}

	n, created, err := s.store.CreateUnlessExists(ctx, Notification{
		UserID:      user.ID,
		ThingID:     thing.ID,
		Title:       thing.Name,
		Body:        buildBody(thing),
		Payload:     map[string]any{"thing_id": strconv.FormatInt(thing.ID, 10)},
		ScheduledAt: s.pick(remaining).UTC(),
		Status:      StatusScheduled,
	}, iv)
	if err != nil {
		return nil, false, fmt.Errorf("create notification: %w", err)
	}
	if !created {
		return &n, false, nil
	}
	s.register(n)
	return &n, true, nil
}

// ScheduleThing creates today's reminders for a newly created thing.
func (s *Scheduler) ScheduleThing(ctx context.Context, thingID int64) (int, error) {
	st, err := s.store.ScheduleForThing(ctx, thingID)
	if err != nil {
		return 0, fmt.Errorf("schedule for thing %d: %w", thingID, err)
	}
	now := s.now()
	if !s.active(st, now) {
		return 0, nil
	}
	users, err := s.store.Recipients(ctx, thingID)
	if err != nil {
		return 0, fmt.Errorf("recipients for thing %d: %w", thingID, err)
	}

	iv := st.Schedule.IntervalOn(now)
	created := 0
	for _, u := range users {
		_, ok, err := s.CreateNotification(ctx, u, st.Thing, iv)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	s.logger.Info("Thing scheduled", "thing_id", thingID, "created", created)
	return created, nil
}

// RemoveNotification cancels the timer (if any) and deletes the record.
// Whichever of this and the timer firing runs first wins.
func (s *Scheduler) RemoveNotification(ctx context.Context, id int64) error {
	cancelled := s.registry.Remove(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete notification %d: %w", id, err)
	}
	s.logger.Debug("notification removed", "notification_id", id, "timer_cancelled", cancelled)
	return nil
}

// RemoveThing removes every pending notification of a deleted thing.
func (s *Scheduler) RemoveThing(ctx context.Context, thingID int64) (int, error) {
	pending, err := s.store.ListForThing(ctx, thingID)
	if err != nil {
		return 0, fmt.Errorf("list notifications for thing %d: %w", thingID, err)
	}
	removed := 0
	for _, n := range pending {
		if err := s.RemoveNotification(ctx, n.ID); err != nil {
			return removed, err
		}
		removed++
	}
	s.logger.Info("Thing notifications removed", "thing_id", thingID, "count", removed)
	return removed, nil
}

func (s *Scheduler) active(st ScheduledThing, now time.Time) bool {
	if s.personalAlwaysActive && st.Thing.Type == ThingTypePersonal {
		return true
	}
	return st.Schedule.ActiveOn(now)
}

func (s *Scheduler) pairLock(userID, thingID int64) *sync.Mutex {
	h := fnv.New32a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
		buf[8+i] = byte(thingID >> (8 * i))
	}
	h.Write(buf[:])
	return &s.pairLocks[h.Sum32()%lockStripes]
}

func buildBody(t Thing) string {
	return fmt.Sprintf("Time for %s! Snap a photo to keep your streak going.", t.Name)
}
