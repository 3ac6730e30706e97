package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacentio/canon/source"
)

// New returns a blank instance of typeName with autosave enabled, and the
// guard that saves it on release. The instance is not cached until it is
// saved and has a primary key.
//
//	e, guard, err := r.New("user")
//	if err != nil {
//	    return err
//	}
//	defer guard.Release(ctx)
func (r *Resolver) New(typeName string) (*Entity, *Guard, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, nil, err
	}
	e := t.Blank()
	e.autoSave = true
	return e, &Guard{r: r, e: e}, nil
}

// Guard saves its entity when released if autosave is still enabled.
type Guard struct {
	r    *Resolver
	e    *Entity
	once sync.Once
	err  error
}

// Entity returns the guarded entity.
func (g *Guard) Entity() *Entity { return g.e }

// Release saves the entity if its autosave flag is set. Only the first call
// has any effect; later calls return the first call's error.
func (g *Guard) Release(ctx context.Context) error {
	g.once.Do(func() {
		if !g.e.AutoSave() {
			return
		}
		if _, err := g.r.Save(ctx, g.e); err != nil {
			g.r.logger.Warn("autosave failed",
				"type", g.e.typ.name,
				"id", g.e.ID(),
				"error", err,
			)
			g.err = err
		}
	})
	return g.err
}

// gatewayFor returns the entity's loaded source, else its type's default.
func (r *Resolver) gatewayFor(e *Entity) source.Gateway {
	if gw := e.LoadedSource(); gw != nil {
		return gw
	}
	return e.typ.gateway
}

// Save writes e to its loaded source, or its type's default source. It
// returns false without an error when there is neither.
//
// A new entity is created and adopts the returned identifier; a persisted
// one is updated. When the source can save dirty fields, updates carry only
// properties written since the last load or save. Afterwards the saved data
// is merged back into the entity and it is cached under its keys.
func (r *Resolver) Save(ctx context.Context, e *Entity) (bool, error) {
	gw := r.gatewayFor(e)
	if gw == nil {
		return false, nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	caps := gw.Capabilities()
	persisted := e.Persisted()
	data := r.serialize(e, caps, map[*Entity]bool{})

	t := e.typ
	if !persisted {
		id, err := gw.Create(ctx, data)
		if err != nil {
			return false, fmt.Errorf("create %s: %w", t.name, err)
		}
		if id != nil {
			data[t.primaryKey] = id
		}
	} else {
		if err := gw.Update(ctx, e.ID(), data); err != nil {
			return false, fmt.Errorf("update %s %v: %w", t.name, e.ID(), err)
		}
	}

	t.Accessor(e).Merge(data)
	e.markStored(gw, true)
	if err := r.register(e); err != nil {
		return true, err
	}
	return true, nil
}

// Remove deletes e from its source and marks it unpersisted, then evicts all
// of its cache keys. It is a no-op for an entity that is not persisted.
func (r *Resolver) Remove(ctx context.Context, e *Entity) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if !e.Persisted() {
		return nil
	}
	gw := r.gatewayFor(e)
	if gw == nil {
		return fmt.Errorf("%w: %s", ErrNoSource, e.typ.name)
	}
	if err := gw.Delete(ctx, e.ID()); err != nil {
		return fmt.Errorf("delete %s %v: %w", e.typ.name, e.ID(), err)
	}
	e.markStored(nil, false)
	r.Evict(e)
	return nil
}

// serialize converts e into a record. Properties that are neither readable
// nor writable are not stored. Unset properties contribute their default,
// except an unset primary key. With CanSaveDirty, a persisted entity
// contributes only its dirty properties.
func (r *Resolver) serialize(e *Entity, caps source.Capabilities, visited map[*Entity]bool) source.Record {
	visited[e] = true
	values, dirty, persisted := e.snapshot()
	t := e.typ

	rec := source.Record{}
	for _, p := range t.composite.Properties() {
		if !p.IsProperty() || !(p.Readable() || p.Writable()) {
			continue
		}
		name := p.Name()
		if caps.CanSaveDirty && persisted {
			if _, ok := dirty[name]; !ok {
				continue
			}
		}
		v, set := values[name]
		if !set {
			if name == t.primaryKey {
				continue
			}
			v = p.Default()
		}
		rec[name] = r.flatten(v, caps, visited)
	}
	return rec
}

// flatten serializes nested entities: as their primary key for relational
// sources, otherwise as embedded records. An entity already on the current
// path is always written as its key, which cuts cycles.
func (r *Resolver) flatten(v any, caps source.Capabilities, visited map[*Entity]bool) any {
	switch x := v.(type) {
	case *Entity:
		if x == nil {
			return nil
		}
		if caps.Relational || visited[x] {
			return x.ID()
		}
		embedded := r.serialize(x, source.Capabilities{}, visited)
		delete(visited, x)
		return map[string]any(embedded)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = r.flatten(item, caps, visited)
		}
		return out
	default:
		return v
	}
}
