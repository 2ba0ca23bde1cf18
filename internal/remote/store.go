// Package remote provides the client for the cloud document store.
// The sync core only needs point reads and writes by collection and entity
// ID; no query features of the backing store are used.
package remote

import (
	"context"

	"github.com/autogratuity/tipsync/internal/models"
)

// DocumentStore defines the remote operations the sync coordinator performs.
type DocumentStore interface {
	// Get fetches the current snapshot of an entity.
	// Returns an error carrying REMOTE_NOT_FOUND if the entity is missing.
	Get(ctx context.Context, collection, id string) (*models.Document, error)

	// Put writes the given fields of an entity, creating it if absent.
	// Fields not named in the payload are left untouched.
	Put(ctx context.Context, collection, id string, fields map[string]interface{}) error

	// Delete removes an entity.
	Delete(ctx context.Context, collection, id string) error
}
