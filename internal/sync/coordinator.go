package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/autogratuity/tipsync/internal/conflict"
	"github.com/autogratuity/tipsync/internal/errors"
	"github.com/autogratuity/tipsync/internal/logging"
	"github.com/autogratuity/tipsync/internal/models"
	"github.com/autogratuity/tipsync/internal/queue"
	"github.com/autogratuity/tipsync/internal/remote"
	"github.com/autogratuity/tipsync/internal/retry"
)

// defaultCallTimeout bounds each individual remote call.
const defaultCallTimeout = 30 * time.Second

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Attempted  int
	Completed  int
	Retrying   int // failed this cycle, retry scheduled
	GivenUp    int // failed this cycle with no retries left
	Conflicted int
	Skipped    int // left pending due to cancellation or concurrent transitions
}

// Coordinator drains the pending-operation queue against the remote store.
// It is the sole writer of operation status transitions and of the published
// sync status.
type Coordinator struct {
	store       *queue.Store
	remote      remote.DocumentStore
	policy      *retry.Policy
	detector    conflict.Detector
	publisher   *Publisher
	callTimeout time.Duration
	now         func() time.Time

	// Single-flight guard: one cycle at a time, concurrent callers wait on
	// the in-progress cycle instead of starting another.
	mu         gosync.Mutex
	inProgress bool
	cycleDone  chan struct{}
	lastResult *CycleResult
	lastErr    error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy overrides the default retry policy.
func WithPolicy(p *retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithDetector overrides the default conflict detector.
func WithDetector(d conflict.Detector) Option {
	return func(c *Coordinator) { c.detector = d }
}

// WithCallTimeout overrides the per-remote-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.callTimeout = d }
}

// NewCoordinator creates a Coordinator. The initial published status is
// reconstructed from the operation store.
func NewCoordinator(store *queue.Store, docs remote.DocumentStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		remote:      docs,
		policy:      retry.DefaultPolicy(),
		detector:    conflict.Composite{},
		callTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	initial := models.SyncStatus{Phase: models.PhaseIdle}
	if stats, err := store.Stats(); err == nil {
		initial.PendingOperations = stats.Pending
		initial.FailedOperations = stats.TerminallyFailed
		initial.ConflictedOps = stats.Conflicted
		if stats.TerminallyFailed > 0 || stats.Conflicted > 0 {
			initial.Phase = models.PhaseError
		}
	}
	c.publisher = NewPublisher(initial)
	return c
}

// Status returns the status publisher for observation by the UI layer.
func (c *Coordinator) Status() *Publisher {
	return c.publisher
}

// RunSyncCycle drains eligible pending operations and reconciles them with
// the remote store. Only one cycle runs at a time: a concurrent invocation
// waits for the in-progress cycle and returns its result without
// re-processing any record.
func (c *Coordinator) RunSyncCycle(ctx context.Context) (*CycleResult, error) {
	c.mu.Lock()
	if c.inProgress {
		done := c.cycleDone
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrSyncCancelled, "cancelled while waiting for in-progress cycle", ctx.Err())
		}

		c.mu.Lock()
		result, err := c.lastResult, c.lastErr
		c.mu.Unlock()
		return result, err
	}
	c.inProgress = true
	c.cycleDone = make(chan struct{})
	c.mu.Unlock()

	result, err := c.runCycle(ctx)

	c.mu.Lock()
	c.lastResult, c.lastErr = result, err
	c.inProgress = false
	close(c.cycleDone)
	c.mu.Unlock()

	return result, err
}

// runCycle executes one full cycle. Per-operation failures never abort the
// cycle; only a queue-store outage does.
func (c *Coordinator) runCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{StartTime: c.now()}
	defer func() {
		result.EndTime = c.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	ops, err := c.store.ListPending()
	if err != nil {
		err = errors.Wrap(errors.ErrSyncFailed, "cannot read operation queue", err)
		c.publishFromStats(err)
		return result, err
	}

	c.publisher.Publish(models.SyncStatus{
		Phase:             models.PhaseSyncing,
		LastSyncAt:        c.publisher.CurrentStatus().LastSyncAt,
		PendingOperations: len(ops),
	})

	logging.Info("Sync cycle started", map[string]interface{}{"eligible": len(ops)})

	cancelled := false
	for i, op := range ops {
		// Cancellation stops before the next not-yet-attempted record. An
		// in-flight remote call always runs to completion, so no record is
		// ever left stuck in_flight.
		if ctx.Err() != nil {
			cancelled = true
			result.Skipped += len(ops) - i
			break
		}

		c.processOperation(op, result)
	}

	cycleErr := c.publishFromStats(nil)
	hadUnresolved := cycleErr || cancelled || result.Retrying > 0

	if !hadUnresolved {
		status := c.publisher.CurrentStatus()
		status.LastSyncAt = c.now().Unix()
		c.publisher.Publish(status)
	}

	logging.Info("Sync cycle finished", map[string]interface{}{
		"attempted":  result.Attempted,
		"completed":  result.Completed,
		"retrying":   result.Retrying,
		"given_up":   result.GivenUp,
		"conflicted": result.Conflicted,
		"skipped":    result.Skipped,
		"cancelled":  cancelled,
	})

	if cancelled {
		return result, errors.Wrap(errors.ErrSyncCancelled, "sync cycle cancelled", ctx.Err())
	}
	return result, nil
}

// processOperation runs the attempt pipeline for a single record.
func (c *Coordinator) processOperation(op *models.OperationRecord, result *CycleResult) {
	inflight, err := c.store.MarkInFlight(op.ID.String())
	if err != nil {
		// Completed or transitioned by a concurrent actor; nothing to do.
		result.Skipped++
		logging.Debug("Operation skipped", map[string]interface{}{
			"operation_id": op.ID.String(),
			"reason":       err.Error(),
		})
		return
	}
	op = inflight
	result.Attempted++

	payload, err := op.PayloadMap()
	if err != nil {
		// Undecodable payload cannot ever succeed; park it as failed with no
		// retry rather than dropping it.
		c.giveUp(op, retry.Classification{Category: retry.CategoryUnknown, Code: errors.ErrInternal}, err, result)
		return
	}

	// Conflict detection applies to mutations of existing entities.
	if op.Kind == models.OperationUpdate || op.Kind == models.OperationDelete {
		proceed := c.reconcile(op, &payload, result)
		if !proceed {
			return
		}
	}

	if err := c.write(op, payload); err != nil {
		c.recordFailure(op, err, result)
		return
	}

	if err := c.store.MarkCompleted(op.ID.String()); err != nil {
		logging.Error("Failed to finalize completed operation", err,
			map[string]interface{}{"operation_id": op.ID.String()})
		return
	}
	result.Completed++
}

// reconcile fetches the remote snapshot and applies conflict policy.
// Returns false when processing of this record must stop here.
func (c *Coordinator) reconcile(op *models.OperationRecord, payload *map[string]interface{}, result *CycleResult) bool {
	snapshot, err := c.fetchSnapshot(op)
	if err != nil {
		c.recordFailure(op, err, result)
		return false
	}

	detected := c.detector.Detect(op, snapshot)
	if !detected.HasConflict() {
		return true
	}

	strategy := conflict.Recommend(detected, op.Collection)
	detected.Strategy = strategy

	if strategy == models.ResolveManual {
		if _, err := c.store.MarkConflicted(op.ID.String(), detected); err != nil {
			logging.Error("Failed to mark operation conflicted", err,
				map[string]interface{}{"operation_id": op.ID.String()})
			return false
		}
		result.Conflicted++
		return false
	}

	transformed, hasWork := conflict.Transform(strategy, detected, *payload, snapshot)
	logging.Info("Conflict auto-resolved", map[string]interface{}{
		"operation_id":  op.ID.String(),
		"conflict_type": string(detected.Type),
		"strategy":      string(strategy),
		"fields":        detected.ConflictingFields,
	})
	if !hasWork {
		// Every local change lost to the remote's newer values; nothing to
		// write means the operation is effectively complete.
		if err := c.store.MarkCompleted(op.ID.String()); err == nil {
			result.Completed++
		}
		return false
	}
	*payload = transformed
	return true
}

// fetchSnapshot loads the remote state for conflict detection. A missing
// remote document is not an error: the detector degrades to no-conflict.
func (c *Coordinator) fetchSnapshot(op *models.OperationRecord) (*models.Document, error) {
	ctx, cancel := c.callContext()
	defer cancel()

	snapshot, err := c.remote.Get(ctx, op.Collection, op.EntityID)
	if err != nil {
		if errors.Is(err, errors.ErrRemoteNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

// write performs the remote mutation for an operation.
func (c *Coordinator) write(op *models.OperationRecord, payload map[string]interface{}) error {
	ctx, cancel := c.callContext()
	defer cancel()

	switch op.Kind {
	case models.OperationCreate:
		// Client-generated entity IDs fall back to the operation ID so the
		// write stays idempotent across retries.
		id := op.EntityID
		if id == "" {
			id = op.ID.String()
		}
		return c.remote.Put(ctx, op.Collection, id, payload)

	case models.OperationUpdate:
		return c.remote.Put(ctx, op.Collection, op.EntityID, payload)

	case models.OperationDelete:
		err := c.remote.Delete(ctx, op.Collection, op.EntityID)
		if err != nil && errors.Is(err, errors.ErrRemoteNotFound) {
			// Already gone; delete is idempotent.
			return nil
		}
		return err
	}
	return errors.New(errors.ErrInvalid, "unknown operation kind")
}

// callContext bounds a single remote call. Deliberately detached from the
// cycle context: cancelling a cycle lets the current call finish so no record
// is left in_flight (see runCycle).
func (c *Coordinator) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.callTimeout)
}

// recordFailure classifies an attempt error and updates retry state. The
// record's own attempt ceiling applies on top of the policy's.
func (c *Coordinator) recordFailure(op *models.OperationRecord, cause error, result *CycleResult) {
	cls := retry.Classify(cause)

	if c.policy.ShouldRetry(op.AttemptCount+1, cls) && op.AttemptCount+1 < op.MaxRetries {
		nextAt := c.policy.NextRetryTime(c.now(), op.AttemptCount+1, cls)
		if _, err := c.store.MarkFailed(op.ID.String(), cls, cause, nextAt); err != nil {
			logging.Error("Failed to record operation failure", err,
				map[string]interface{}{"operation_id": op.ID.String()})
			return
		}
		result.Retrying++
		return
	}

	c.giveUp(op, cls, cause, result)
}

// giveUp marks an operation permanently failed: retained and queryable,
// surfaced for manual intervention, never silently dropped.
func (c *Coordinator) giveUp(op *models.OperationRecord, cls retry.Classification, cause error, result *CycleResult) {
	if _, err := c.store.MarkFailed(op.ID.String(), cls, cause, time.Time{}); err != nil {
		logging.Error("Failed to record permanent failure", err,
			map[string]interface{}{"operation_id": op.ID.String()})
		return
	}
	result.GivenUp++
	logging.ErrorWithCode("Operation permanently failed", string(cls.Code), cause,
		map[string]interface{}{
			"operation_id":  op.ID.String(),
			"attempt_count": op.AttemptCount + 1,
			"category":      string(cls.Category),
		})
}

// publishFromStats publishes a status derived from queue statistics.
// Returns true when the published phase is error.
func (c *Coordinator) publishFromStats(cycleErr error) bool {
	status := models.SyncStatus{
		Phase:      models.PhaseIdle,
		LastSyncAt: c.publisher.CurrentStatus().LastSyncAt,
	}
	if cycleErr != nil {
		status.Phase = models.PhaseError
		status.LastError = cycleErr.Error()
		c.publisher.Publish(status)
		return true
	}

	stats, err := c.store.Stats()
	if err != nil {
		status.Phase = models.PhaseError
		status.LastError = err.Error()
		c.publisher.Publish(status)
		return true
	}

	status.PendingOperations = stats.Pending + stats.Failed - stats.TerminallyFailed
	status.FailedOperations = stats.TerminallyFailed
	status.ConflictedOps = stats.Conflicted
	if stats.TerminallyFailed > 0 || stats.Conflicted > 0 {
		status.Phase = models.PhaseError
		status.LastError = c.publisher.CurrentStatus().LastError
	}
	c.publisher.Publish(status)
	return status.Phase == models.PhaseError
}
