// Package models provides data model definitions for the TipSync core.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// OperationKind represents the kind of remote mutation an operation performs.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// OperationStatus represents the lifecycle status of a queued operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusInFlight   OperationStatus = "in_flight"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusConflicted OperationStatus = "conflicted"
)

// OperationRecord describes one pending mutation against one remote entity.
// Maps to rows in the sync_operations table.
type OperationRecord struct {
	ID             UUID            `db:"id" json:"id"`
	Kind           OperationKind   `db:"kind" json:"kind"`
	Collection     string          `db:"collection" json:"collection"`
	EntityID       string          `db:"entity_id" json:"entity_id,omitempty"` // empty for create
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Status         OperationStatus `db:"status" json:"status"`
	AttemptCount   int             `db:"attempt_count" json:"attempt_count"`
	MaxRetries     int             `db:"max_retries" json:"max_retries"`
	CreatedAt      int64           `db:"created_at" json:"created_at"`
	LastAttemptAt  int64           `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextRetryAt    int64           `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	LastErrorCode  string          `db:"last_error_code" json:"last_error_code,omitempty"`
	BasisTimestamp int64           `db:"basis_timestamp" json:"basis_timestamp,omitempty"` // remote updated_at the payload was based on
	BasisVersion   int64           `db:"basis_version" json:"basis_version,omitempty"`     // remote version captured at enqueue
	ConflictInfo   json.RawMessage `db:"conflict_info" json:"conflict_info,omitempty"`
}

// TableName returns the table name for OperationRecord.
func (OperationRecord) TableName() string {
	return "sync_operations"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *OperationRecord) CreatedAtTime() time.Time {
	return time.Unix(o.CreatedAt, 0)
}

// Terminal reports whether the operation has reached a state the coordinator
// will not process again without manual intervention.
func (o *OperationRecord) Terminal() bool {
	switch o.Status {
	case StatusCompleted, StatusConflicted:
		return true
	case StatusFailed:
		// NextRetryAt of zero means no retry was scheduled (non-retryable).
		return o.AttemptCount >= o.MaxRetries || o.NextRetryAt == 0
	}
	return false
}

// PayloadMap decodes the payload into a field map.
func (o *OperationRecord) PayloadMap() (map[string]interface{}, error) {
	if len(o.Payload) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(o.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetPayloadMap encodes a field map into the payload.
func (o *OperationRecord) SetPayloadMap(m map[string]interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	o.Payload = data
	return nil
}
