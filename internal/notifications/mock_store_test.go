package notifications

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── Mock Store ──

type mockStore struct {
	mu            sync.Mutex
	notifications map[int64]*Notification
	nextID        int64
	schedules     []ScheduledThing
	recipients    map[int64][]User
	users         map[int64]User
	creates       int
	recipientsErr map[int64]error

	calls     []string
	afterList func() // runs once the ListNonCompleted snapshot is taken
}

func newMockStore() *mockStore {
	return &mockStore{
		notifications: make(map[int64]*Notification),
		recipients:    make(map[int64][]User),
		users:         make(map[int64]User),
		recipientsErr: make(map[int64]error),
	}
}

func (m *mockStore) addThing(st ScheduledThing, users ...User) {
	m.schedules = append(m.schedules, st)
	m.recipients[st.Thing.ID] = users
	for _, u := range users {
		m.users[u.ID] = u
	}
}

func (m *mockStore) seed(n Notification) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.notifications[n.ID] = &n
	return n.ID
}

func (m *mockStore) get(id int64) (Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

func (m *mockStore) sorted(filter func(*Notification) bool) []Notification {
	var out []Notification
	for _, n := range m.notifications {
		if filter(n) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockStore) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockStore) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockStore) ListNonCompleted(_ context.Context) ([]Notification, error) {
	m.record("ListNonCompleted")
	m.mu.Lock()
	out := m.sorted(func(n *Notification) bool { return n.Status != StatusCompleted })
	hook := m.afterList
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *mockStore) ListForThing(_ context.Context, thingID int64) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(n *Notification) bool {
		return n.ThingID == thingID && n.Status != StatusCompleted
	}), nil
}

func (m *mockStore) Exists(_ context.Context, userID, thingID int64, iv interval.Interval) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.UserID == userID && n.ThingID == thingID && iv.Contains(n.ScheduledAt) {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) CreateUnlessExists(_ context.Context, n Notification, iv interval.Interval) (Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notifications {
		if existing.UserID == n.UserID && existing.ThingID == n.ThingID && iv.Contains(existing.ScheduledAt) {
			return *existing, false, nil
		}
	}
	m.nextID++
	m.creates++
	n.ID = m.nextID
	m.notifications[n.ID] = &n
	return n, true, nil
}

func (m *mockStore) Claim(_ context.Context, id int64) (Notification, User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Status != StatusScheduled {
		return Notification{}, User{}, ErrNotFound
	}
	n.Status = StatusCompleted
	return *n, m.users[n.UserID], nil
}

func (m *mockStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok && n.Status == StatusScheduled {
		delete(m.notifications, id)
	}
	return nil
}

func (m *mockStore) ActiveToday(_ context.Context, today time.Time, _ time.Weekday, includePersonal bool) ([]ScheduledThing, error) {
	m.record("ActiveToday")
	var out []ScheduledThing
	for _, st := range m.schedules {
		if st.Schedule.ActiveOn(today) || (includePersonal && st.Thing.Type == ThingTypePersonal) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *mockStore) ScheduleForThing(_ context.Context, thingID int64) (ScheduledThing, error) {
	for _, st := range m.schedules {
		if st.Thing.ID == thingID {
			return st, nil
		}
	}
	return ScheduledThing{}, ErrScheduleNotFound
}

func (m *mockStore) Recipients(_ context.Context, thingID int64) ([]User, error) {
	if err := m.recipientsErr[thingID]; err != nil {
		return nil, err
	}
	return m.recipients[thingID], nil
}

// ── Manual timers ──

type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{delay: d, f: f}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fireAll runs every timer that is neither stopped nor fired yet.
func (m *manualTimers) fireAll() int {
	m.mu.Lock()
	pending := append([]*manualTimer(nil), m.timers...)
	m.mu.Unlock()

	n := 0
	for _, t := range pending {
		t.mu.Lock()
		run := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

// fireAt runs the i-th timer unless it was stopped or already fired.
func (m *manualTimers) fireAt(i int) bool {
	m.mu.Lock()
	t := m.timers[i]
	m.mu.Unlock()

	t.mu.Lock()
	run := !t.stopped && !t.fired
	t.fired = true
	t.mu.Unlock()
	if run {
		t.f()
	}
	return run
}

func (m *manualTimers) at(i int) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[i]
}

func (t *manualTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (m *manualTimers) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// ── Fake sender ──

type sentPush struct {
	to, title, body string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentPush
	err    error
	onSend func() // runs outside the lock while the push is in flight
}

func (f *fakeSender) Send(_ context.Context, to, title, body string, _ map[string]any) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentPush{to: to, title: title, body: body})
	hook, err := f.onSend, f.err
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
