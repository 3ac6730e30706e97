package cache

import (
	"sort"
	"sync"
)

// Registry holds one Index per entity type.
type Registry[E comparable] struct {
	numShards int

	mu      sync.RWMutex
	indexes map[string]*Index[E]
}

// NewRegistry creates an empty Registry whose indexes use numShards stripes.
func NewRegistry[E comparable](numShards int) *Registry[E] {
	return &Registry[E]{
		numShards: numShards,
		indexes:   make(map[string]*Index[E]),
	}
}

// For returns the index for typeName, creating it on first use.
func (r *Registry[E]) For(typeName string) *Index[E] {
	r.mu.RLock()
	idx, ok := r.indexes[typeName]
	r.mu.RUnlock()
	if ok {
		return idx
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexes[typeName]; ok {
		return idx
	}
	idx = NewIndex[E](typeName, r.numShards)
	r.indexes[typeName] = idx
	return idx
}

// Index returns the index for typeName without creating it.
func (r *Registry[E]) Index(typeName string) (*Index[E], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[typeName]
	return idx, ok
}

// Lookup returns the instance registered under (name, value) for typeName.
// It reports a miss, not an error, when the type has no index yet.
func (r *Registry[E]) Lookup(typeName, name string, value any) (E, bool) {
	idx, ok := r.Index(typeName)
	if !ok {
		var zero E
		return zero, false
	}
	return idx.Lookup(name, value)
}

// Register registers e under keys in typeName's index.
func (r *Registry[E]) Register(typeName string, e E, keys ...Key) error {
	return r.For(typeName).Register(e, keys...)
}

// Alias adds alias keys for e in typeName's index.
func (r *Registry[E]) Alias(typeName string, e E, keys ...Key) error {
	return r.For(typeName).Alias(e, keys...)
}

// Types returns the names of all types with an index, sorted.
func (r *Registry[E]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
