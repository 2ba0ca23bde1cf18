package remote

import (
	"context"
	"sync"

	"github.com/autogratuity/tipsync/internal/errors"
	"github.com/autogratuity/tipsync/internal/models"
)

// MemoryStore is an in-process DocumentStore used by tests and local runs.
// Writes bump the entity version and updated-at timestamp the way the real
// backend does.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document // key: collection + "/" + id
	now  int64

	// FailWith, when set, is returned by every call. Used to simulate
	// outages and permission failures.
	FailWith error

	// Calls counts remote operations by method name.
	Calls map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]*models.Document),
		now:   1,
		Calls: make(map[string]int),
	}
}

func key(collection, id string) string {
	return collection + "/" + id
}

// Seed installs a document snapshot directly, without version bookkeeping.
func (m *MemoryStore) Seed(doc *models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key(doc.Collection, doc.ID)] = doc
}

// Get implements DocumentStore.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["get"]++
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, ok := m.docs[key(collection, id)]
	if !ok {
		return nil, errors.New(errors.ErrRemoteNotFound, "document not found")
	}

	// Return a copy so callers cannot mutate stored state.
	fields := make(map[string]interface{}, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	return &models.Document{
		Collection: doc.Collection,
		ID:         doc.ID,
		Fields:     fields,
		UpdatedAt:  doc.UpdatedAt,
		Version:    doc.Version,
	}, nil
}

// Put implements DocumentStore with merge semantics.
func (m *MemoryStore) Put(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["put"]++
	if m.FailWith != nil {
		return m.FailWith
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.now++
	doc, ok := m.docs[key(collection, id)]
	if !ok {
		doc = &models.Document{
			Collection: collection,
			ID:         id,
			Fields:     make(map[string]interface{}),
		}
		m.docs[key(collection, id)] = doc
	}
	for k, v := range fields {
		doc.Fields[k] = v
	}
	doc.Version++
	doc.UpdatedAt = m.now
	return nil
}

// Delete implements DocumentStore. Deleting a missing document succeeds.
func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["delete"]++
	if m.FailWith != nil {
		return m.FailWith
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delete(m.docs, key(collection, id))
	return nil
}
