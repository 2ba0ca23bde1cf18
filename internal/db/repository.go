// Package db provides CRUD repository operations for TipSync data models.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/autogratuity/tipsync/internal/models"
)

// Repository provides storage operations for sync operation records.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const operationColumns = `id, kind, collection, entity_id, payload, status,
	attempt_count, max_retries, created_at, last_attempt_at, next_retry_at,
	last_error, last_error_code, basis_timestamp, basis_version, conflict_info`

// InsertOperation persists a new operation record.
func (r *Repository) InsertOperation(op *models.OperationRecord) error {
	query := `
	INSERT INTO sync_operations (` + operationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		op.ID, op.Kind, op.Collection, op.EntityID, string(op.Payload), op.Status,
		op.AttemptCount, op.MaxRetries, op.CreatedAt, op.LastAttemptAt, op.NextRetryAt,
		op.LastError, op.LastErrorCode, op.BasisTimestamp, op.BasisVersion, string(op.ConflictInfo),
	)
	return err
}

// GetOperation retrieves an operation record by ID.
// Returns sql.ErrNoRows if the record does not exist.
func (r *Repository) GetOperation(id string) (*models.OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanOperation(stmt.QueryRow(id))
}

// ListEligible returns records ready for processing at the given time:
// pending records, plus failed records with a retry scheduled (next_retry_at
// of zero means permanently failed, no retry) whose window has opened.
// Ordered oldest created first (FIFO) to bound staleness.
func (r *Repository) ListEligible(now int64) ([]*models.OperationRecord, error) {
	query := `
	SELECT ` + operationColumns + ` FROM sync_operations
	WHERE (status = 'pending' AND next_retry_at <= ?)
	   OR (status = 'failed' AND attempt_count < max_retries
	       AND next_retry_at > 0 AND next_retry_at <= ?)
	ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(query, now, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.OperationRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListByStatus returns all records with the given status, oldest first.
func (r *Repository) ListByStatus(status models.OperationStatus) ([]*models.OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations
	WHERE status = ? ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.OperationRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// TransitionStatus atomically moves a record between statuses and updates its
// retry bookkeeping. The update only applies if the record currently has the
// expected status; returns false if the record is missing or in another state.
func (r *Repository) TransitionStatus(id string, from, to models.OperationStatus, op *models.OperationRecord) (bool, error) {
	query := `
	UPDATE sync_operations
	SET status = ?, attempt_count = ?, last_attempt_at = ?, next_retry_at = ?,
	    last_error = ?, last_error_code = ?, conflict_info = ?
	WHERE id = ? AND status = ?
	`
	res, err := r.db.Exec(query,
		to, op.AttemptCount, op.LastAttemptAt, op.NextRetryAt,
		op.LastError, op.LastErrorCode, string(op.ConflictInfo),
		id, from,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteOperation removes a record. Returns false if it did not exist.
func (r *Repository) DeleteOperation(id string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM sync_operations WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountOperations returns the total number of stored records.
func (r *Repository) CountOperations() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sync_operations").Scan(&count)
	return count, err
}

// CountByStatus returns record counts grouped by status.
func (r *Repository) CountByStatus() (map[models.OperationStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM sync_operations GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.OperationStatus]int)
	for rows.Next() {
		var status models.OperationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CountTerminallyFailed returns the number of failed records with no
// retry scheduled: either out of attempts or classified non-retryable.
func (r *Repository) CountTerminallyFailed() (int, error) {
	var count int
	err := r.db.QueryRow(`
	SELECT COUNT(*) FROM sync_operations
	WHERE status = 'failed'
	  AND (attempt_count >= max_retries OR next_retry_at = 0)`).Scan(&count)
	return count, err
}

// ResetInFlight moves records stuck in_flight back to pending. Called at
// startup to recover from a crash mid-cycle.
func (r *Repository) ResetInFlight(now int64) (int, error) {
	res, err := r.db.Exec(`
	UPDATE sync_operations
	SET status = 'pending', next_retry_at = ?
	WHERE status = 'in_flight'`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ResetFailed moves permanently failed records back to pending with a fresh
// attempt budget. Manual-intervention hook for the UI layer.
func (r *Repository) ResetFailed(now int64) (int, error) {
	res, err := r.db.Exec(`
	UPDATE sync_operations
	SET status = 'pending', attempt_count = 0, next_retry_at = ?,
	    last_error = '', last_error_code = ''
	WHERE status = 'failed'`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*models.OperationRecord, error) {
	var op models.OperationRecord
	var payload, conflictInfo string
	err := row.Scan(
		&op.ID, &op.Kind, &op.Collection, &op.EntityID, &payload, &op.Status,
		&op.AttemptCount, &op.MaxRetries, &op.CreatedAt, &op.LastAttemptAt, &op.NextRetryAt,
		&op.LastError, &op.LastErrorCode, &op.BasisTimestamp, &op.BasisVersion, &conflictInfo,
	)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		op.Payload = []byte(payload)
	}
	if conflictInfo != "" {
		op.ConflictInfo = []byte(conflictInfo)
	}
	return &op, nil
}
