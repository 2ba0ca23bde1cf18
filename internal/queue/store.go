// Package queue provides the durable store of pending sync operations.
// Records survive process restarts; every status transition goes through
// this package so the on-disk state is always consistent.
package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/autogratuity/tipsync/internal/db"
	"github.com/autogratuity/tipsync/internal/errors"
	"github.com/autogratuity/tipsync/internal/logging"
	"github.com/autogratuity/tipsync/internal/models"
	"github.com/autogratuity/tipsync/internal/retry"
	"github.com/autogratuity/tipsync/internal/uuid"
)

// DefaultMaxRetries is the attempt ceiling applied when a request does not
// set its own.
const DefaultMaxRetries = 8

// Store manages durable operation records.
type Store struct {
	repo    *db.Repository
	maxSize int
	now     func() time.Time
}

// NewStore creates a Store over the given repository. maxSize bounds the
// number of stored records; zero means unbounded.
func NewStore(repo *db.Repository, maxSize int) *Store {
	return &Store{
		repo:    repo,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// EnqueueRequest describes a mutation a domain repository could not confirm
// remotely. Payload validation happens at the domain edge; here only the
// structural invariants are enforced.
type EnqueueRequest struct {
	Kind       models.OperationKind
	Collection string
	EntityID   string
	Payload    map[string]interface{}
	MaxRetries int

	// Remote state the payload was computed against, for conflict detection.
	BasisTimestamp int64
	BasisVersion   int64
}

// Enqueue validates the request and persists a new pending record.
func (s *Store) Enqueue(req EnqueueRequest) (*models.OperationRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if s.maxSize > 0 {
		count, err := s.repo.CountOperations()
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to count operations", err)
		}
		if count >= s.maxSize {
			return nil, errors.New(errors.ErrQueueFull, "operation queue is full")
		}
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "payload is not serializable", err)
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	now := s.now().Unix()
	op := &models.OperationRecord{
		ID:             models.UUID(uuid.New()),
		Kind:           req.Kind,
		Collection:     req.Collection,
		EntityID:       req.EntityID,
		Payload:        payload,
		Status:         models.StatusPending,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		NextRetryAt:    now,
		BasisTimestamp: req.BasisTimestamp,
		BasisVersion:   req.BasisVersion,
	}

	if err := s.repo.InsertOperation(op); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to persist operation", err)
	}

	logging.Info("Operation enqueued", map[string]interface{}{
		"operation_id": op.ID.String(),
		"kind":         string(op.Kind),
		"collection":   op.Collection,
		"entity_id":    op.EntityID,
	})

	return op, nil
}

func validate(req EnqueueRequest) error {
	switch req.Kind {
	case models.OperationCreate, models.OperationUpdate, models.OperationDelete:
	default:
		return errors.New(errors.ErrValidation, "unknown operation kind")
	}
	if req.Collection == "" {
		return errors.New(errors.ErrValidation, "target collection is required")
	}
	if req.EntityID == "" && req.Kind != models.OperationCreate {
		return errors.New(errors.ErrValidation, "target entity ID is required for update/delete")
	}
	if len(req.Payload) == 0 && req.Kind != models.OperationDelete {
		return errors.New(errors.ErrValidation, "payload is required for create/update")
	}
	return nil
}

// Get returns a single record by ID.
func (s *Store) Get(id string) (*models.OperationRecord, error) {
	op, err := s.repo.GetOperation(id)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrOperationMissing, "operation not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load operation", err)
	}
	return op, nil
}

// ListPending returns all records eligible for processing now, oldest first.
// Includes failed records whose retry window has opened.
func (s *Store) ListPending() ([]*models.OperationRecord, error) {
	ops, err := s.repo.ListEligible(s.now().Unix())
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list pending operations", err)
	}
	return ops, nil
}

// ListConflicted returns all records awaiting manual conflict resolution.
func (s *Store) ListConflicted() ([]*models.OperationRecord, error) {
	ops, err := s.repo.ListByStatus(models.StatusConflicted)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list conflicted operations", err)
	}
	return ops, nil
}

// MarkInFlight transitions a record to in_flight before a remote attempt.
func (s *Store) MarkInFlight(id string) (*models.OperationRecord, error) {
	op, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	op.LastAttemptAt = s.now().Unix()

	// Eligible records are either pending or failed-awaiting-retry.
	from := op.Status
	if from != models.StatusPending && from != models.StatusFailed {
		return nil, errors.New(errors.ErrInvalid, "operation is not eligible for processing")
	}
	ok, err := s.repo.TransitionStatus(id, from, models.StatusInFlight, op)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to mark operation in flight", err)
	}
	if !ok {
		// Removed or transitioned by a concurrent actor between load and update.
		return nil, errors.New(errors.ErrOperationMissing, "operation no longer eligible")
	}
	op.Status = models.StatusInFlight
	return op, nil
}

// MarkCompleted removes a completed record from the pending set.
func (s *Store) MarkCompleted(id string) error {
	ok, err := s.repo.DeleteOperation(id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to complete operation", err)
	}
	if !ok {
		return errors.New(errors.ErrOperationMissing, "operation not found")
	}
	logging.Debug("Operation completed", map[string]interface{}{"operation_id": id})
	return nil
}

// MarkFailed records a failed attempt: bumps the attempt count, stores the
// error classification, and schedules the next retry. When nextRetryAt is the
// zero time the record stays failed with no retry scheduled (permanent).
func (s *Store) MarkFailed(id string, c retry.Classification, cause error, nextRetryAt time.Time) (*models.OperationRecord, error) {
	op, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	op.AttemptCount++
	op.LastAttemptAt = s.now().Unix()
	op.LastErrorCode = string(c.Code)
	if cause != nil {
		op.LastError = cause.Error()
	}
	if nextRetryAt.IsZero() {
		op.NextRetryAt = 0
	} else {
		op.NextRetryAt = nextRetryAt.Unix()
	}

	ok, err := s.repo.TransitionStatus(id, op.Status, models.StatusFailed, op)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to mark operation failed", err)
	}
	if !ok {
		return nil, errors.New(errors.ErrOperationMissing, "operation not found")
	}
	op.Status = models.StatusFailed

	logging.Warn("Operation attempt failed", map[string]interface{}{
		"operation_id":  id,
		"attempt_count": op.AttemptCount,
		"max_retries":   op.MaxRetries,
		"category":      string(c.Category),
		"retryable":     c.Retryable,
		"next_retry_at": op.NextRetryAt,
	})

	return op, nil
}

// MarkConflicted parks a record for manual resolution with its conflict
// metadata attached. Conflicted records are never auto-retried.
func (s *Store) MarkConflicted(id string, result *models.ConflictResult) (*models.OperationRecord, error) {
	if result == nil || !result.HasConflict() {
		return nil, errors.New(errors.ErrInvalid, "conflict metadata is required")
	}

	op, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	info, err := result.Marshal()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode conflict metadata", err)
	}
	op.ConflictInfo = info
	op.LastErrorCode = string(errors.ErrSyncConflict)
	op.LastError = result.Detail
	op.NextRetryAt = 0

	ok, err := s.repo.TransitionStatus(id, op.Status, models.StatusConflicted, op)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to mark operation conflicted", err)
	}
	if !ok {
		return nil, errors.New(errors.ErrOperationMissing, "operation not found")
	}
	op.Status = models.StatusConflicted

	logging.Warn("Operation conflicted, manual resolution required", map[string]interface{}{
		"operation_id":  id,
		"conflict_type": string(result.Type),
		"fields":        result.ConflictingFields,
	})

	return op, nil
}

// Stats returns record counts by status plus terminal-failure counts.
type Stats struct {
	Pending          int
	InFlight         int
	Failed           int
	TerminallyFailed int
	Conflicted       int
}

// Stats reads current queue statistics.
func (s *Store) Stats() (Stats, error) {
	counts, err := s.repo.CountByStatus()
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrDatabase, "failed to read queue stats", err)
	}
	terminal, err := s.repo.CountTerminallyFailed()
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrDatabase, "failed to read queue stats", err)
	}
	return Stats{
		Pending:          counts[models.StatusPending],
		InFlight:         counts[models.StatusInFlight],
		Failed:           counts[models.StatusFailed],
		TerminallyFailed: terminal,
		Conflicted:       counts[models.StatusConflicted],
	}, nil
}

// RetryAll resets permanently failed records to pending with a fresh attempt
// budget. Exposed for manual intervention from the UI layer.
func (s *Store) RetryAll() (int, error) {
	n, err := s.repo.ResetFailed(s.now().Unix())
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to reset failed operations", err)
	}
	if n > 0 {
		logging.Info("Failed operations reset for retry", map[string]interface{}{"count": n})
	}
	return n, nil
}

// Recover resets records left in_flight by a crashed process back to
// pending. Called once when the store is opened at startup.
func (s *Store) Recover() (int, error) {
	n, err := s.repo.ResetInFlight(s.now().Unix())
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to recover in-flight operations", err)
	}
	if n > 0 {
		logging.Warn("Recovered in-flight operations from previous session",
			map[string]interface{}{"count": n})
	}
	return n, nil
}
