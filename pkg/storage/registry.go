package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/docmediator/docmediator/internal/concurrency"
	"github.com/docmediator/docmediator/pkg/metadata"
)

// Registry holds the datastores entities are served from. An entity names
// its backend; entities naming none use the default backend.
type Registry struct {
	mu         sync.RWMutex
	defaultKey string
	backends   map[string]Datastore
}

// NewRegistry returns a registry whose default backend is named
// defaultBackend.
func NewRegistry(defaultBackend string) *Registry {
	return &Registry{
		defaultKey: defaultBackend,
		backends:   map[string]Datastore{},
	}
}

// Register adds a datastore under name, replacing any previous one.
func (r *Registry) Register(name string, ds Datastore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = ds
}

// Datastore returns the datastore serving entity.
func (r *Registry) Datastore(entity *metadata.Entity) (Datastore, error) {
	name := entity.Backend
	if name == "" {
		name = r.defaultKey
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q for entity %s", ErrUnknownBackend, name, entity.Key())
	}
	return ds, nil
}

// Retriever returns the retriever serving entity.
func (r *Registry) Retriever(entity *metadata.Entity) (Retriever, error) {
	return r.Datastore(entity)
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsReady checks every backend concurrently. The registry is ready when all
// backends are.
func (r *Registry) IsReady(ctx context.Context) (ReadinessStatus, error) {
	names := r.Names()
	statuses := make([]ReadinessStatus, len(names))

	pool := concurrency.NewPool(ctx, len(names)+1)
	for i, name := range names {
		r.mu.RLock()
		ds := r.backends[name]
		r.mu.RUnlock()
		pool.Go(func(ctx context.Context) error {
			s, err := ds.IsReady(ctx)
			if err != nil {
				return fmt.Errorf("backend %s: %w", name, err)
			}
			statuses[i] = s
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return ReadinessStatus{}, err
	}
	for i, s := range statuses {
		if !s.IsReady {
			return ReadinessStatus{Message: names[i] + ": " + s.Message}, nil
		}
	}
	return ReadinessStatus{IsReady: true}, nil
}

// Close closes every backend.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.backends {
		ds.Close()
	}
	r.backends = map[string]Datastore{}
}
