package model

import (
	"reflect"

	"github.com/jacentio/canon/meta"
	"github.com/jacentio/canon/source"
)

// Accessor reads and writes an entity's properties, enforcing the access
// flags of its composite descriptor. It never touches the identity cache.
//
// Container values are stored as []any. Writes replace the stored slice
// rather than mutating it, so a failed write leaves the entity untouched and
// values returned by GetRawValue cannot be used to modify the entity.
type Accessor struct {
	e *Entity
	c *meta.Composite
}

// NewAccessor creates an accessor for e described by c.
func NewAccessor(e *Entity, c *meta.Composite) *Accessor {
	return &Accessor{e: e, c: c}
}

func (a *Accessor) property(name, op string) (*meta.Property, error) {
	p, err := a.c.Property(name)
	if err != nil || !p.IsProperty() {
		return nil, &PropertyError{Type: a.c.Name(), Property: name, Op: op, Err: ErrPropertyNotFound}
	}
	return p, nil
}

// GetRawValue returns the stored value of name, or its default when unset.
func (a *Accessor) GetRawValue(name string) (any, error) {
	p, err := a.property(name, "get")
	if err != nil {
		return nil, err
	}
	if !p.Readable() {
		return nil, &PropertyError{Type: a.c.Name(), Property: name, Op: "get", Err: ErrPropertyNotReadable}
	}

	a.e.mu.RLock()
	v, ok := a.e.values[name]
	a.e.mu.RUnlock()
	if !ok {
		return p.Default(), nil
	}
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...), nil
	}
	return v, nil
}

// SetRawValue replaces the value of name. Slices written to a container are
// copied into a []any.
func (a *Accessor) SetRawValue(name string, value any) error {
	p, err := a.property(name, "set")
	if err != nil {
		return err
	}
	if !p.Writable() {
		return &PropertyError{Type: a.c.Name(), Property: name, Op: "set", Err: ErrPropertyNotWritable}
	}
	if p.IsContainer() {
		if list, ok := toList(value); ok {
			value = list
		}
	}

	a.e.mu.Lock()
	a.e.values[name] = value
	a.e.dirty[name] = struct{}{}
	a.e.mu.Unlock()
	return nil
}

// RawAddToValue appends value to the container name, starting from the
// default (an empty list unless declared otherwise) when unset.
func (a *Accessor) RawAddToValue(name string, value any) error {
	p, err := a.property(name, "add")
	if err != nil {
		return err
	}
	if !p.IsContainer() {
		return &PropertyError{Type: a.c.Name(), Property: name, Op: "add", Err: ErrPropertyNotAContainer}
	}
	if !p.Writable() {
		return &PropertyError{Type: a.c.Name(), Property: name, Op: "add", Err: ErrPropertyNotWritable}
	}

	a.e.mu.Lock()
	defer a.e.mu.Unlock()

	cur, ok := a.e.values[name]
	if !ok {
		cur = p.Default()
	}
	list, _ := toList(cur)
	next := make([]any, len(list), len(list)+1)
	copy(next, list)
	a.e.values[name] = append(next, value)
	a.e.dirty[name] = struct{}{}
	return nil
}

// Hydrate loads described properties from rec regardless of their access
// flags and clears their dirty marks. Unknown fields are ignored.
func (a *Accessor) Hydrate(rec source.Record) {
	a.e.mu.Lock()
	defer a.e.mu.Unlock()

	for _, p := range a.c.Properties() {
		if !p.IsProperty() {
			continue
		}
		v, ok := rec[p.Name()]
		if !ok {
			continue
		}
		if p.IsContainer() {
			if list, ok := toList(v); ok {
				v = list
			}
		}
		a.e.values[p.Name()] = v
		delete(a.e.dirty, p.Name())
	}
}

// Merge writes data saved to a source back into the entity, regardless of
// access flags, and clears every dirty mark. Reference properties and
// properties holding entities keep their in-memory value, since data may
// hold a key in their place. Unknown fields are ignored.
func (a *Accessor) Merge(data source.Record) {
	a.e.mu.Lock()
	defer a.e.mu.Unlock()
	for name, v := range data {
		p, err := a.c.Property(name)
		if err != nil || !p.IsProperty() || p.Type() == meta.Reference || holdsEntity(a.e.values[name]) {
			continue
		}
		if p.IsContainer() {
			if list, ok := toList(v); ok {
				v = list
			}
		}
		a.e.values[name] = v
	}
	a.e.dirty = make(map[string]struct{})
}

func holdsEntity(v any) bool {
	list, ok := v.([]any)
	if !ok {
		_, ok := v.(*Entity)
		return ok
	}
	for _, item := range list {
		if _, ok := item.(*Entity); ok {
			return true
		}
	}
	return false
}

// toList converts a slice or array to a fresh []any. nil converts to an
// empty list.
func toList(v any) ([]any, bool) {
	if v == nil {
		return []any{}, true
	}
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}
