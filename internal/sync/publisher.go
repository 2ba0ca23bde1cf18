// Package sync orchestrates the offline write-queue reconciliation cycle.
package sync

import (
	gosync "sync"

	"github.com/autogratuity/tipsync/internal/models"
)

// observerBuffer bounds each observer channel. Slow observers drop
// intermediate states rather than blocking a sync cycle; the latest state is
// always retrievable through CurrentStatus.
const observerBuffer = 8

// Publisher broadcasts the current sync status to any number of observers.
// In-memory only: status is reconstructable from the operation store at
// startup.
type Publisher struct {
	mu        gosync.RWMutex
	status    models.SyncStatus
	observers map[int]chan models.SyncStatus
	nextID    int
}

// NewPublisher creates a Publisher with the given initial status.
func NewPublisher(initial models.SyncStatus) *Publisher {
	return &Publisher{
		status:    initial,
		observers: make(map[int]chan models.SyncStatus),
	}
}

// CurrentStatus returns a point-in-time copy of the sync status.
func (p *Publisher) CurrentStatus() models.SyncStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Observe registers an observer. The returned channel receives a copy of the
// status on every transition, starting with the current one. The cancel
// function unregisters the observer and closes the channel.
func (p *Publisher) Observe() (<-chan models.SyncStatus, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan models.SyncStatus, observerBuffer)
	ch <- p.status
	p.observers[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.observers[id]; ok {
			delete(p.observers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish replaces the current status and notifies observers. Sends never
// block: an observer with a full buffer misses intermediate states.
func (p *Publisher) Publish(status models.SyncStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = status
	for _, ch := range p.observers {
		select {
		case ch <- status:
		default:
		}
	}
}
