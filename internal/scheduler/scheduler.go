// Package scheduler triggers periodic background sync cycles.
package scheduler

import (
	"context"
	gosync "sync"
	"time"

	"github.com/autogratuity/tipsync/internal/logging"
	syncpkg "github.com/autogratuity/tipsync/internal/sync"
)

// CycleRunner is the coordinator surface the scheduler drives. The
// coordinator itself coalesces overlapping invocations, so the scheduler can
// fire on a timer without duplicate-write concerns.
type CycleRunner interface {
	RunSyncCycle(ctx context.Context) (*syncpkg.CycleResult, error)
}

// Config holds scheduler configuration.
type Config struct {
	Interval time.Duration // how often to run a cycle when online
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{Interval: 15 * time.Minute}
}

// Scheduler runs sync cycles on a timer while online. Connectivity events
// from the host application flip the online flag and can trigger an
// immediate cycle.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	stopCh   chan struct{}
	wg       gosync.WaitGroup

	mu        gosync.RWMutex
	isRunning bool
	isOnline  bool
}

// New creates a Scheduler.
func New(runner CycleRunner, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Scheduler{
		runner:   runner,
		interval: config.Interval,
		stopCh:   make(chan struct{}),
		isOnline: true, // assume online until told otherwise
	}
}

// Start launches the periodic loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_minutes": s.interval.Minutes()})
}

// Stop stops the scheduler and waits for the loop to exit. A cycle already
// in progress finishes on its own; the coordinator handles mid-cycle
// cancellation through its context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus records connectivity changes from the host application.
// Transitioning offline→online triggers an immediate cycle to drain the
// queue built up while disconnected.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})

	if isOnline {
		s.TriggerSync(ctx)
	}
}

// IsOnline reports the current connectivity flag.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// TriggerSync starts a cycle now, without waiting for the next tick.
// Coalescing in the coordinator makes this safe while a cycle is running.
func (s *Scheduler) TriggerSync(ctx context.Context) {
	go s.runOnce(ctx)
}

// loop is the periodic driver.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				logging.Debug("Skipping scheduled sync while offline", nil)
				continue
			}
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one cycle and logs the outcome.
func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.runner.RunSyncCycle(ctx)
	if err != nil {
		logging.Error("Scheduled sync cycle failed", err, nil)
		return
	}
	if result == nil {
		return
	}
	logging.Debug("Scheduled sync cycle finished", map[string]interface{}{
		"attempted": result.Attempted,
		"completed": result.Completed,
	})
}
