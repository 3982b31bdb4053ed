package notifications

import (
	"sync"
	"time"
)

// Timer is the handle of a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a one-shot timer. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NoopAfterFunc never runs f. For processes that only write notifications
// and leave firing to the server.
func NoopAfterFunc(time.Duration, func()) Timer { return noopTimer{} }

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

// Registry maps notification ids to their live timers. All access goes
// through its mutex; a given id holds at most one timer. An id whose timer
// has fired stays in the firing set until Release, so it cannot be
// registered again while its push is in flight.
type Registry struct {
	mu     sync.Mutex
	timers map[int64]Timer
	firing map[int64]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		timers: make(map[int64]Timer),
		firing: make(map[int64]struct{}),
	}
}

// Add starts a timer for id via start unless one is already registered or
// firing. start runs under the registry lock, so a timer that fires
// immediately still finds its own entry.
func (r *Registry) Add(id int64, start func() Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known(id) {
		return false
	}
	r.timers[id] = start()
	return true
}

// Take moves id from the live timers to the firing set. Only the caller
// that gets true may act on the notification, and must Release it after.
func (r *Registry) Take(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.timers[id]; !exists {
		return false
	}
	delete(r.timers, id)
	r.firing[id] = struct{}{}
	return true
}

// Release forgets a fired id.
func (r *Registry) Release(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.firing, id)
}

// Remove stops and removes id's timer. A firing id is not affected.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, exists := r.timers[id]
	if !exists {
		return false
	}
	t.Stop()
	delete(r.timers, id)
	return true
}

// Has reports whether id has a live timer or is firing.
func (r *Registry) Has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known(id)
}

// Len counts live timers only.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// StopAll stops every live timer and empties the registry of them.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.timers)
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	return n
}

func (r *Registry) known(id int64) bool {
	_, live := r.timers[id]
	_, firing := r.firing[id]
	return live || firing
}
