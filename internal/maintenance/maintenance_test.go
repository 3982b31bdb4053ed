package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/szhabolcs/something-sub000/internal/notifications"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCleaner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeCleaner) CleanupCompleted(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

type fakeReconciler struct {
	calls int
	err   error
}

func (f *fakeReconciler) Reconcile(_ context.Context) (notifications.ReconcileResult, error) {
	f.calls++
	return notifications.ReconcileResult{Registered: 2}, f.err
}

func TestCleanup(t *testing.T) {
	cutoff := time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC)

	c := &fakeCleaner{n: 3}
	if got := Cleanup(context.Background(), c, cutoff, testLogger()); got != 3 {
		t.Errorf("Cleanup = %d, want 3", got)
	}
	if !c.cutoff.Equal(cutoff) {
		t.Errorf("cutoff = %s, want %s", c.cutoff, cutoff)
	}

	failing := &fakeCleaner{n: 5, err: errors.New("db down")}
	if got := Cleanup(context.Background(), failing, cutoff, testLogger()); got != 0 {
		t.Errorf("failed Cleanup = %d, want 0", got)
	}
}

func TestRunLoopRunsOnTickUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	rec := &fakeReconciler{}
	done := make(chan struct{})

	go func() {
		runLoop(ctx, ticks, func() { Sweep(ctx, rec, testLogger()) })
		close(done)
	}()

	ticks <- time.Now()
	ticks <- time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runLoop did not stop after cancel")
	}
	if rec.calls != 2 {
		t.Errorf("reconcile calls = %d, want 2", rec.calls)
	}
}

func TestStartReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Start(ctx, &fakeCleaner{}, &fakeReconciler{}, DefaultConfig(), testLogger())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
