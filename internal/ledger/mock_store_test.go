package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

var errInjected = errors.New("injected failure")

type pairKey struct {
	user  int64
	thing int64
}

type mockProof struct {
	id    int64
	user  int64
	thing int64
	at    time.Time
}

// mockStore is an in-memory Store. Writes apply immediately and are undone
// in reverse order when the transaction fails. Streak rows carry a real
// mutex held until the transaction ends.
type mockStore struct {
	mu        sync.Mutex
	rowLocks  map[pairKey]*sync.Mutex
	streaks   map[pairKey]int
	access    map[pairKey]bool
	schedules map[int64]Window
	scores    map[int64]int
	proofs    []mockProof
	nextProof int64
	badgeDefs []BadgeDefinition
	badges    map[int64]map[int64]bool
	levels    []LevelDefinition

	now       func() time.Time
	failAt    string
	lockErr   error
	afterLock func(userID, thingID int64)
}

func newMockStore(now time.Time) *mockStore {
	return &mockStore{
		rowLocks:  make(map[pairKey]*sync.Mutex),
		streaks:   make(map[pairKey]int),
		access:    make(map[pairKey]bool),
		schedules: make(map[int64]Window),
		scores:    make(map[int64]int),
		badges:    make(map[int64]map[int64]bool),
		now:       func() time.Time { return now },
	}
}

// thing grants user access to thing with the given schedule window.
func (s *mockStore) thing(userID, thingID int64, start, end string) {
	s.access[pairKey{userID, thingID}] = true
	s.schedules[thingID] = Window{Start: interval.MustParse(start), End: interval.MustParse(end)}
}

func (s *mockStore) addProof(userID, thingID int64, at time.Time) {
	s.nextProof++
	s.proofs = append(s.proofs, mockProof{id: s.nextProof, user: userID, thing: thingID, at: at})
}

func (s *mockStore) streak(userID, thingID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[pairKey{userID, thingID}]
}

func (s *mockStore) score(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[userID]
}

func (s *mockStore) proofCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.proofs)
}

func (s *mockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &mockTx{s: s}
	err := fn(ctx, tx)
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	for _, l := range tx.held {
		l.Unlock()
	}
	return err
}

type mockTx struct {
	s    *mockStore
	undo []func()
	held []*sync.Mutex
}

func (t *mockTx) check(op string) error {
	if t.s.failAt == op {
		return errInjected
	}
	return nil
}

func (t *mockTx) LockStreak(_ context.Context, userID, thingID int64) (int, error) {
	if err := t.check("LockStreak"); err != nil {
		return 0, err
	}
	if t.s.lockErr != nil {
		return 0, t.s.lockErr
	}
	k := pairKey{userID, thingID}

	t.s.mu.Lock()
	l, ok := t.s.rowLocks[k]
	if !ok {
		l = &sync.Mutex{}
		t.s.rowLocks[k] = l
	}
	t.s.mu.Unlock()

	l.Lock()
	t.held = append(t.held, l)

	t.s.mu.Lock()
	n, exists := t.s.streaks[k]
	if !exists {
		t.s.streaks[k] = 0
		t.undo = append(t.undo, func() { delete(t.s.streaks, k) })
	}
	t.s.mu.Unlock()

	if t.s.afterLock != nil {
		t.s.afterLock(userID, thingID)
	}
	return n, nil
}

func (t *mockTx) HasAccess(_ context.Context, userID, thingID int64) (bool, error) {
	if err := t.check("HasAccess"); err != nil {
		return false, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.access[pairKey{userID, thingID}], nil
}

func (t *mockTx) InsertProof(_ context.Context, sub Submission) (int64, time.Time, error) {
	if err := t.check("InsertProof"); err != nil {
		return 0, time.Time{}, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextProof++
	p := mockProof{id: t.s.nextProof, user: sub.UserID, thing: sub.ThingID, at: t.s.now()}
	t.s.proofs = append(t.s.proofs, p)
	t.undo = append(t.undo, func() {
		for i := range t.s.proofs {
			if t.s.proofs[i].id == p.id {
				t.s.proofs = append(t.s.proofs[:i], t.s.proofs[i+1:]...)
				return
			}
		}
	})
	return p.id, p.at, nil
}

func (t *mockTx) ScheduleFor(_ context.Context, thingID int64) (Window, error) {
	if err := t.check("ScheduleFor"); err != nil {
		return Window{}, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w, ok := t.s.schedules[thingID]
	if !ok {
		return Window{}, ErrScheduleNotFound
	}
	return w, nil
}

func (t *mockTx) CountProofs(_ context.Context, userID, thingID int64, within interval.Interval) (int, error) {
	if err := t.check("CountProofs"); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for _, p := range t.s.proofs {
		if p.user == userID && p.thing == thingID && within.Contains(p.at) {
			n++
		}
	}
	return n, nil
}

func (t *mockTx) SetStreak(_ context.Context, userID, thingID int64, count int) error {
	if err := t.check("SetStreak"); err != nil {
		return err
	}
	k := pairKey{userID, thingID}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	old := t.s.streaks[k]
	t.s.streaks[k] = count
	t.undo = append(t.undo, func() { t.s.streaks[k] = old })
	return nil
}

func (t *mockTx) IncrementScore(_ context.Context, userID int64, delta int) (int, error) {
	if err := t.check("IncrementScore"); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.scores[userID] += delta
	t.undo = append(t.undo, func() { t.s.scores[userID] -= delta })
	return t.s.scores[userID], nil
}

func (t *mockTx) CountCompleted(_ context.Context, userID int64) (int, error) {
	if err := t.check("CountCompleted"); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for _, p := range t.s.proofs {
		if p.user == userID {
			n++
		}
	}
	return n, nil
}

func (t *mockTx) UnearnedBadges(_ context.Context, userID int64, actionType string, count int) ([]BadgeDefinition, error) {
	if err := t.check("UnearnedBadges"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []BadgeDefinition
	for _, d := range t.s.badgeDefs {
		if d.ActionType == actionType && d.Threshold <= count && !t.s.badges[userID][d.ID] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Threshold != out[j].Threshold {
			return out[i].Threshold < out[j].Threshold
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *mockTx) AwardBadge(_ context.Context, userID, badgeID int64) error {
	if err := t.check("AwardBadge"); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.badges[userID] == nil {
		t.s.badges[userID] = make(map[int64]bool)
	}
	t.s.badges[userID][badgeID] = true
	t.undo = append(t.undo, func() { delete(t.s.badges[userID], badgeID) })
	return nil
}

func (t *mockTx) Levels(_ context.Context) ([]LevelDefinition, error) {
	if err := t.check("Levels"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return append([]LevelDefinition(nil), t.s.levels...), nil
}
