package models

import "time"

// SyncPhase represents the coordinator's current phase.
type SyncPhase string

const (
	PhaseIdle    SyncPhase = "idle"
	PhaseSyncing SyncPhase = "syncing"
	PhaseError   SyncPhase = "error"
)

// SyncStatus is a point-in-time snapshot of the sync engine state.
// It is a value type: the coordinator publishes copies, observers never
// share mutable state with it.
type SyncStatus struct {
	Phase             SyncPhase `json:"phase"`
	LastSyncAt        int64     `json:"last_sync_at,omitempty"` // unix seconds, zero if never
	LastError         string    `json:"last_error,omitempty"`
	PendingOperations int       `json:"pending_operations"`
	FailedOperations  int       `json:"failed_operations"`
	ConflictedOps     int       `json:"conflicted_operations"`
}

// LastSyncTime returns LastSyncAt as time.Time, zero time if never synced.
func (s SyncStatus) LastSyncTime() time.Time {
	if s.LastSyncAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.LastSyncAt, 0)
}
