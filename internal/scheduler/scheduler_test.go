package scheduler

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	syncpkg "github.com/autogratuity/tipsync/internal/sync"
)

// fakeRunner counts cycle invocations.
type fakeRunner struct {
	mu    gosync.Mutex
	calls int
}

func (f *fakeRunner) RunSyncCycle(ctx context.Context) (*syncpkg.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &syncpkg.CycleResult{}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitForCalls(t *testing.T, r *fakeRunner, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected at least %d cycle(s), got %d", want, r.count())
}

// TestPeriodicCycles verifies the timer loop drives cycles while online.
func TestPeriodicCycles(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, Config{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	waitForCalls(t, runner, 2)
}

// TestOfflineSkipsCycles verifies no cycles run while offline.
func TestOfflineSkipsCycles(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, Config{Interval: 10 * time.Millisecond})

	s.SetOnlineStatus(context.Background(), false)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if n := runner.count(); n != 0 {
		t.Errorf("Expected no cycles while offline, got %d", n)
	}
}

// TestOnlineTransitionTriggersImmediateCycle verifies coming back online
// drains the queue without waiting for the next tick.
func TestOnlineTransitionTriggersImmediateCycle(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, Config{Interval: time.Hour}) // tick never fires

	s.Start(context.Background())
	defer s.Stop()

	s.SetOnlineStatus(context.Background(), false)
	s.SetOnlineStatus(context.Background(), true)

	waitForCalls(t, runner, 1)
}

// TestOnlineToOnlineNoTrigger verifies repeated online reports do not fire
// extra cycles.
func TestOnlineToOnlineNoTrigger(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, Config{Interval: time.Hour})

	s.Start(context.Background())
	defer s.Stop()

	s.SetOnlineStatus(context.Background(), true)
	s.SetOnlineStatus(context.Background(), true)

	time.Sleep(50 * time.Millisecond)
	if n := runner.count(); n != 0 {
		t.Errorf("Expected no cycles for unchanged status, got %d", n)
	}
}

// TestTriggerSync verifies manual triggering runs a cycle.
func TestTriggerSync(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, Config{Interval: time.Hour})

	s.TriggerSync(context.Background())
	waitForCalls(t, runner, 1)
}

// TestStopHaltsLoop verifies Stop is idempotent and ends the timer loop.
func TestStopHaltsLoop(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, Config{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("Expected scheduler running after Start")
	}

	s.Stop()
	s.Stop() // idempotent
	if s.IsRunning() {
		t.Error("Expected scheduler stopped")
	}

	n := runner.count()
	time.Sleep(50 * time.Millisecond)
	if runner.count() != n {
		t.Error("Expected no cycles after Stop")
	}
}
