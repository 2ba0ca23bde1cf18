// Package conflict decides whether a locally-queued mutation is safe to
// apply given the remote entity's current state.
//
// Detection never returns an error: when information is missing (no remote
// snapshot, no basis captured at enqueue) it degrades to "no conflict" with a
// logged warning. Availability over strict correctness is a deliberate
// trade-off here, not a defect.
package conflict

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/autogratuity/tipsync/internal/logging"
	"github.com/autogratuity/tipsync/internal/models"
)

// Bookkeeping fields excluded from field-level comparison.
var skipFields = map[string]bool{
	"createdAt":    true,
	"updatedAt":    true,
	"version":      true,
	"timestamp":    true,
	"lastModified": true,
}

// Detector classifies the relationship between a queued operation and the
// remote snapshot of its entity.
type Detector interface {
	Detect(op *models.OperationRecord, remote *models.Document) *models.ConflictResult
}

// none builds an empty result with a detail message.
func none(detail string) *models.ConflictResult {
	return &models.ConflictResult{Type: models.ConflictNone, Detail: detail}
}

// TimestampDetector reports a conflict when the remote entity was modified
// after the timestamp the local operation was based on.
type TimestampDetector struct{}

// Detect implements Detector.
func (TimestampDetector) Detect(op *models.OperationRecord, remote *models.Document) *models.ConflictResult {
	if remote == nil {
		logging.Warn("Conflict detection skipped: no remote snapshot", map[string]interface{}{
			"operation_id": op.ID.String(),
		})
		return none("no remote snapshot available")
	}
	if op.BasisTimestamp == 0 || remote.UpdatedAt == 0 {
		return none("no timestamp information available")
	}

	// Equal timestamps mean the remote has not moved since the payload was
	// computed. Only a strictly newer remote write conflicts.
	if remote.UpdatedAt <= op.BasisTimestamp {
		return none("remote unchanged since operation basis")
	}

	return &models.ConflictResult{
		Type:            models.ConflictTimestamp,
		LocalTimestamp:  op.BasisTimestamp,
		RemoteTimestamp: remote.UpdatedAt,
		DetectedAt:      time.Now().Unix(),
		Detail: fmt.Sprintf("remote modified at %d, operation based on %d",
			remote.UpdatedAt, op.BasisTimestamp),
	}
}

// VersionDetector reports a conflict when the remote version counter differs
// from the version expected at enqueue time.
type VersionDetector struct{}

// Detect implements Detector.
func (VersionDetector) Detect(op *models.OperationRecord, remote *models.Document) *models.ConflictResult {
	if remote == nil {
		logging.Warn("Conflict detection skipped: no remote snapshot", map[string]interface{}{
			"operation_id": op.ID.String(),
		})
		return none("no remote snapshot available")
	}
	if op.BasisVersion == 0 || remote.Version == 0 {
		return none("no version information available")
	}

	if remote.Version == op.BasisVersion {
		return none("remote version matches operation basis")
	}

	return &models.ConflictResult{
		Type:       models.ConflictVersion,
		DetectedAt: time.Now().Unix(),
		Detail: fmt.Sprintf("expected remote version %d, found %d",
			op.BasisVersion, remote.Version),
	}
}

// FieldDetector refines timestamp detection to field granularity: a conflict
// exists only when the payload and the remote's concurrent change touched the
// same fields. Non-overlapping changes merge cleanly.
type FieldDetector struct{}

// Detect implements Detector.
func (FieldDetector) Detect(op *models.OperationRecord, remote *models.Document) *models.ConflictResult {
	base := TimestampDetector{}.Detect(op, remote)
	if !base.HasConflict() {
		return base
	}

	payload, err := op.PayloadMap()
	if err != nil {
		// Payload opaque to us; fall back to the coarser timestamp verdict.
		return base
	}

	fields := conflictingFields(payload, remote)
	if len(fields) == 0 {
		return none("remote change does not overlap operation fields")
	}

	return &models.ConflictResult{
		Type:              models.ConflictField,
		ConflictingFields: fields,
		LocalTimestamp:    op.BasisTimestamp,
		RemoteTimestamp:   remote.UpdatedAt,
		DetectedAt:        time.Now().Unix(),
		Detail:            fmt.Sprintf("%d field(s) changed both locally and remotely", len(fields)),
	}
}

// conflictingFields returns payload fields whose remote values diverge,
// skipping bookkeeping fields, sorted for stable output.
func conflictingFields(payload map[string]interface{}, remote *models.Document) []string {
	var fields []string
	for name, localValue := range payload {
		if skipFields[name] {
			continue
		}
		remoteValue, ok := remote.Field(name)
		if !ok {
			continue
		}
		if !reflect.DeepEqual(localValue, remoteValue) {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// Composite chains version, then field-level detection. Version divergence is
// the strongest signal; field-level refinement avoids flagging changes that
// merge cleanly.
type Composite struct{}

// Detect implements Detector.
func (Composite) Detect(op *models.OperationRecord, remote *models.Document) *models.ConflictResult {
	if result := (VersionDetector{}).Detect(op, remote); result.HasConflict() {
		return result
	}
	return FieldDetector{}.Detect(op, remote)
}
