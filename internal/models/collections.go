package models

// Remote collection names for the synced entity types.
const (
	CollectionDeliveries   = "deliveries"
	CollectionAddresses    = "addresses"
	CollectionUserProfiles = "user_profiles"
)

// entityCollections maps domain entity type names to their remote collection.
var entityCollections = map[string]string{
	"delivery":     CollectionDeliveries,
	"address":      CollectionAddresses,
	"user_profile": CollectionUserProfiles,
}

// CollectionFor returns the remote collection for a domain entity type.
// Domain repositories use this when enqueueing operations so collection
// naming stays in one place.
func CollectionFor(entityType string) (string, bool) {
	c, ok := entityCollections[entityType]
	return c, ok
}
