package model

import (
	"sync"

	"github.com/jacentio/canon/source"
)

// Entity is an instance of a registered type. Property values are read and
// written through an [Accessor]; the backing store is never exposed.
//
// Entities handed out by a Resolver are shared: every lookup that converges
// on the same logical entity returns the same *Entity. All methods are safe
// for concurrent use.
type Entity struct {
	typ *Type

	mu        sync.RWMutex
	values    map[string]any
	dirty     map[string]struct{}
	persisted bool
	loaded    source.Gateway
	autoSave  bool

	// saveMu serializes Save and Remove on this entity.
	saveMu sync.Mutex
}

func newEntity(t *Type) *Entity {
	return &Entity{
		typ:    t,
		values: make(map[string]any),
		dirty:  make(map[string]struct{}),
	}
}

// Type returns the entity's type.
func (e *Entity) Type() *Type { return e.typ }

// TypeName returns the entity's type name.
func (e *Entity) TypeName() string { return e.typ.name }

// ID returns the primary key value, or nil while it is unset.
func (e *Entity) ID() any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.values[e.typ.primaryKey]
}

// Persisted reports whether the entity is stored in a data source.
func (e *Entity) Persisted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.persisted
}

// LoadedSource returns the gateway the entity was loaded from or saved to.
func (e *Entity) LoadedSource() source.Gateway {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// AutoSave reports whether releasing the entity's guard saves it.
func (e *Entity) AutoSave() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.autoSave
}

// SetAutoSave enables or disables saving on guard release.
func (e *Entity) SetAutoSave(on bool) {
	e.mu.Lock()
	e.autoSave = on
	e.mu.Unlock()
}

// Discard disables autosave without saving.
func (e *Entity) Discard() {
	e.SetAutoSave(false)
}

// Dirty returns the names of properties written since the last load or save.
func (e *Entity) Dirty() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.dirty))
	for name := range e.dirty {
		out = append(out, name)
	}
	return out
}

// Get reads a property through the entity's accessor.
func (e *Entity) Get(name string) (any, error) {
	return e.accessor().GetRawValue(name)
}

// Set writes a property through the entity's accessor.
func (e *Entity) Set(name string, value any) error {
	return e.accessor().SetRawValue(name, value)
}

// Add appends to a container property through the entity's accessor.
func (e *Entity) Add(name string, value any) error {
	return e.accessor().RawAddToValue(name, value)
}

func (e *Entity) accessor() *Accessor {
	return NewAccessor(e, e.typ.composite)
}

// snapshot copies the state needed to serialize the entity.
func (e *Entity) snapshot() (values map[string]any, dirty map[string]struct{}, persisted bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	values = make(map[string]any, len(e.values))
	for k, v := range e.values {
		values[k] = v
	}
	dirty = make(map[string]struct{}, len(e.dirty))
	for k := range e.dirty {
		dirty[k] = struct{}{}
	}
	return values, dirty, e.persisted
}

func (e *Entity) markStored(gw source.Gateway, persisted bool) {
	e.mu.Lock()
	e.persisted = persisted
	if gw != nil {
		e.loaded = gw
	}
	e.mu.Unlock()
}
