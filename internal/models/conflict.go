package models

import "encoding/json"

// ConflictType classifies how a queued operation disagrees with remote state.
type ConflictType string

const (
	ConflictNone      ConflictType = "none"
	ConflictTimestamp ConflictType = "timestamp"
	ConflictVersion   ConflictType = "version"
	ConflictField     ConflictType = "field"
)

// ResolutionStrategy defines how a detected conflict should be resolved.
type ResolutionStrategy string

const (
	ResolveLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolveMerge         ResolutionStrategy = "merge"
	ResolveManual        ResolutionStrategy = "manual"
)

// ConflictResult is the outcome of running conflict detection for one
// operation against the remote snapshot of its entity.
type ConflictResult struct {
	Type              ConflictType       `json:"type"`
	ConflictingFields []string           `json:"conflicting_fields,omitempty"`
	Strategy          ResolutionStrategy `json:"strategy,omitempty"` // unset when Type == none
	Detail            string             `json:"detail,omitempty"`
	LocalTimestamp    int64              `json:"local_timestamp,omitempty"`
	RemoteTimestamp   int64              `json:"remote_timestamp,omitempty"`
	DetectedAt        int64              `json:"detected_at,omitempty"`
}

// HasConflict reports whether any conflict was detected.
func (r *ConflictResult) HasConflict() bool {
	return r != nil && r.Type != ConflictNone
}

// Marshal encodes the result for persistence on an operation record.
func (r *ConflictResult) Marshal() (json.RawMessage, error) {
	return json.Marshal(r)
}

// UnmarshalConflictResult decodes persisted conflict metadata.
func UnmarshalConflictResult(data json.RawMessage) (*ConflictResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var r ConflictResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
