package artifact

import (
	"sort"
	"sync"

	"github.com/hupe1980/evalmesh/core"
)

var _ core.ArtifactStore = (*InMemoryStore)(nil)

// InMemoryStore is an in-process ArtifactStore for tests, examples and single
// process evaluations. Data is copied on save and retrieval so callers cannot
// mutate stored buffers.
//
// Layout: namespace -> artifactID -> raw bytes
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]byte
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the artifact bytes for the given namespace and id.
func (a *InMemoryStore) Save(namespace, artifactID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.artifacts[namespace]; !exists {
		a.artifacts[namespace] = make(map[string][]byte)
	}
	a.artifacts[namespace][artifactID] = append([]byte{}, data...)
	return nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(namespace, artifactID string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.artifacts[namespace][artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, data...), nil
}

// List returns the sorted artifact ids stored in namespace. An unknown
// namespace yields an empty slice.
func (a *InMemoryStore) List(namespace string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.artifacts[namespace]
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(namespace, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.artifacts[namespace]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}
	delete(m, artifactID)
	return nil
}
