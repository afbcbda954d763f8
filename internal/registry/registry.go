// Package registry holds the latest published snapshot per provider role and
// the refresh callbacks connectors expose to the transfer flow.
package registry

import (
	"context"
	"sync"

	"github.com/kelsos/mesh-link/internal/config"
	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/models"
)

var log = logger.With("registry")

// RefreshFunc re-fetches a provider's data and republishes its snapshot.
type RefreshFunc func(ctx context.Context) error

// Listener is notified after every publish.
type Listener func(role config.Role, snapshot models.ProviderSnapshot)

type Registry struct {
	mu         sync.RWMutex
	snapshots  map[config.Role]*models.ProviderSnapshot
	refreshers map[config.Role]RefreshFunc
	listeners  []Listener
}

func New() *Registry {
	return &Registry{
		snapshots:  make(map[config.Role]*models.ProviderSnapshot),
		refreshers: make(map[config.Role]RefreshFunc),
	}
}

// Publish replaces the whole snapshot for role. The last write wins.
func (r *Registry) Publish(role config.Role, snapshot models.ProviderSnapshot) {
	stored := snapshot.Clone()

	r.mu.Lock()
	r.snapshots[role] = &stored
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	log.Debug("Published %s snapshot (label=%q, address=%q)", role, snapshot.AccountLabel, snapshot.ManagedAddress)

	for _, listener := range listeners {
		listener(role, snapshot.Clone())
	}
}

// Snapshot returns a copy of the latest snapshot for role, and false if the
// role has never published.
func (r *Registry) Snapshot(role config.Role) (models.ProviderSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.snapshots[role]
	if !ok || stored == nil {
		return models.ProviderSnapshot{}, false
	}
	return stored.Clone(), true
}

// RegisterRefresher makes fn available to other components. A nil fn
// unregisters the role.
func (r *Registry) RegisterRefresher(role config.Role, fn RefreshFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.refreshers, role)
		return
	}
	r.refreshers[role] = fn
}

func (r *Registry) Refresher(role config.Role) (RefreshFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.refreshers[role]
	return fn, ok
}

// Subscribe registers a listener for every subsequent publish.
func (r *Registry) Subscribe(listener Listener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}
