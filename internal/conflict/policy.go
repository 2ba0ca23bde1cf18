package conflict

import (
	"github.com/autogratuity/tipsync/internal/models"
)

// entityStrategies maps collection names to their safe automatic resolution.
// Tip amounts are corrections the driver just typed, so the local write wins;
// address flags accumulate from several devices and merge; user profiles have
// no safe automatic policy. Unknown collections default to manual.
var entityStrategies = map[string]models.ResolutionStrategy{
	models.CollectionDeliveries:   models.ResolveLastWriteWins,
	models.CollectionAddresses:    models.ResolveMerge,
	models.CollectionUserProfiles: models.ResolveManual,
}

// Recommend selects the resolution strategy for a detected conflict on the
// given collection. Version conflicts always escalate to manual: the basis
// the payload was computed from no longer exists, so no automatic rewrite of
// it is safe.
func Recommend(result *models.ConflictResult, collection string) models.ResolutionStrategy {
	if result == nil || !result.HasConflict() {
		return ""
	}
	if result.Type == models.ConflictVersion {
		return models.ResolveManual
	}
	if strategy, ok := entityStrategies[collection]; ok {
		return strategy
	}
	return models.ResolveManual
}

// Transform rewrites an operation payload according to an automatic
// resolution strategy:
//
//   - last_write_wins keeps the local payload as-is, clobbering the remote's
//     concurrent change.
//   - merge keeps the remote value for contested fields (the remote write is
//     the newer one, which is why a conflict was detected) and preserves the
//     local change everywhere else.
//
// Returns the payload map to write and whether the operation still has
// anything to send.
func Transform(strategy models.ResolutionStrategy, result *models.ConflictResult,
	payload map[string]interface{}, remote *models.Document) (map[string]interface{}, bool) {

	switch strategy {
	case models.ResolveLastWriteWins:
		return payload, len(payload) > 0

	case models.ResolveMerge:
		merged := make(map[string]interface{}, len(payload))
		for name, value := range payload {
			merged[name] = value
		}
		for _, name := range result.ConflictingFields {
			if remoteValue, ok := remote.Field(name); ok {
				merged[name] = remoteValue
			} else {
				delete(merged, name)
			}
		}
		return merged, len(merged) > 0
	}

	return nil, false
}
