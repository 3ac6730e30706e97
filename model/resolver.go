package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jacentio/canon/cache"
	"github.com/jacentio/canon/internal/shard"
	"github.com/jacentio/canon/meta"
	"github.com/jacentio/canon/source"
)

// Resolver materializes entities from the identity cache, type builders and
// hooks, or data source queries.
//
// A Resolver owns its identity cache; there is no package-level state.
// It is safe for concurrent use. Concurrent From calls for the same
// (type, key, value) share a single build.
type Resolver struct {
	config Config
	meta   *meta.Store
	cache  *cache.Registry[*Entity]
	logger *slog.Logger

	mu    sync.RWMutex
	types map[string]*Type

	flights singleflight.Group
}

// NewResolver creates a resolver with no registered types.
func NewResolver(config Config) *Resolver {
	config.validate()
	return &Resolver{
		config: config,
		meta:   config.Meta,
		cache:  cache.NewRegistry[*Entity](config.Shards),
		logger: config.Logger,
		types:  make(map[string]*Type),
	}
}

// Meta returns the resolver's metadata store.
func (r *Resolver) Meta() *meta.Store { return r.meta }

// Register declares a type. Its descriptor is built immediately so that
// invalid prototypes fail here rather than on first use.
func (r *Resolver) Register(spec TypeSpec) (*Type, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTypeSpec)
	}

	var err error
	switch {
	case spec.Composite != nil:
		if spec.Composite.Name() != spec.Name {
			return nil, fmt.Errorf("%w: composite %q registered as %q", ErrInvalidTypeSpec, spec.Composite.Name(), spec.Name)
		}
		err = r.meta.RegisterComposite(spec.Composite)
	case spec.Prototype != nil:
		err = r.meta.Register(spec.Name, spec.Prototype)
	default:
		return nil, fmt.Errorf("%w: %s has neither prototype nor composite", ErrInvalidTypeSpec, spec.Name)
	}
	if err != nil {
		return nil, err
	}

	c, err := r.meta.Describe(spec.Name)
	if err != nil {
		return nil, err
	}
	t, err := newType(r, spec, c)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.types[t.name] = t
	r.mu.Unlock()
	return t, nil
}

// Type returns a registered type.
func (r *Resolver) Type(name string) (*Type, error) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, name)
	}
	return t, nil
}

// Types returns the registered type names, sorted.
func (r *Resolver) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call parses a dynamic request name and dispatches it: "fromX" to From and
// "findByX" to FindBy.
func (r *Resolver) Call(ctx context.Context, typeName, name string, args ...any) (any, error) {
	req, err := ParseRequest(name)
	if err != nil {
		var me *MethodError
		if errors.As(err, &me) {
			me.Type = typeName
		}
		return nil, err
	}
	switch req.Kind {
	case From:
		return r.From(ctx, typeName, req.Suffix, args...)
	default:
		return r.FindBy(ctx, typeName, req.Suffix, args...)
	}
}

// flightAbandoned marks a shared build that stopped because its leader's
// context ended. Waiters with a live context start a new build.
type flightAbandoned struct{ err error }

func (f *flightAbandoned) Error() string { return f.err.Error() }
func (f *flightAbandoned) Unwrap() error { return f.err }

// From resolves one entity by key. The key name's first letter is
// lower-cased, so "Email" and "email" are the same key.
//
// Resolution order: the identity cache, then the type's builder for key.
// A built entity is cached under (key, coerced value) and its primary and
// unique keys before it is returned. Without a builder, From fails with a
// *CreateError.
func (r *Resolver) From(ctx context.Context, typeName, key string, args ...any) (*Entity, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	key = lowerFirst(key)
	args = t.normalizeArgs(key, args)
	val := Coerce(args)

	if e, ok := r.cache.Lookup(t.name, key, val); ok {
		return e, nil
	}
	build, ok := t.builders[key]
	if !ok {
		return nil, &CreateError{Type: t.name, Key: key, Value: val}
	}

	flightKey := shard.KeyString(t.name+"."+key, val)
	for {
		ch := r.flights.DoChan(flightKey, func() (any, error) {
			return r.build(ctx, t, build, key, val, args)
		})
		select {
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(*Entity), nil
			}
			var abandoned *flightAbandoned
			if errors.As(res.Err, &abandoned) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			return nil, res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// build runs one builder invocation inside a flight.
func (r *Resolver) build(ctx context.Context, t *Type, build BuilderFunc, key string, val any, args []any) (*Entity, error) {
	// A previous flight may have finished between Lookup and DoChan.
	if e, ok := r.cache.Lookup(t.name, key, val); ok {
		return e, nil
	}

	r.logger.Debug("building entity", "type", t.name, "key", key, "value", val)
	e, err := build(ctx, t, args)
	if cerr := ctx.Err(); cerr != nil {
		return nil, &flightAbandoned{err: cerr}
	}
	if err != nil {
		return nil, &CreateError{Type: t.name, Key: key, Value: val, Err: err}
	}
	if e == nil {
		return nil, &CreateError{Type: t.name, Key: key, Value: val}
	}
	if e.typ != t {
		return nil, &CreateError{Type: t.name, Key: key, Value: val,
			Err: fmt.Errorf("%w: got %s", ErrTypeMismatch, e.typ.name)}
	}

	if err := r.register(e, cache.Key{Name: key, Value: val}); err != nil {
		return nil, &CreateError{Type: t.name, Key: key, Value: val, Err: err}
	}
	return e, nil
}

// FindBy resolves entities by criteria. The type's "__findBy<criteria>" hook
// is always tried first. Without one, FindBy returns an unexecuted
// *source.Query against the type's default source: "Latest"/"Highest"
// prefixes order descending, "Earliest"/"Lowest" ascending (see
// ParseCriteria), and anything else filters criteria == args[0]. Without a
// default source the missing hook is reported as a *HookError.
func (r *Resolver) FindBy(ctx context.Context, typeName, criteria string, args ...any) (any, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}

	res, err := r.invokeHook(ctx, t, "findBy", criteria, args)
	if err == nil {
		return res, nil
	}
	if _, missing := err.(*HookError); !missing || t.gateway == nil {
		return nil, err
	}
	return applyCriteria(t.gateway.Query(), criteria, args), nil
}

// invokeHook runs the hook named HookName(kind, suffix) against a blank
// receiver, then runs the type's Init on it. It returns the hook's result, or
// the receiver when the result is nil. A missing hook is reported as an
// unwrapped *HookError.
func (r *Resolver) invokeHook(ctx context.Context, t *Type, kind, suffix string, args []any) (any, error) {
	name := HookName(kind, suffix)
	hook, ok := t.hooks[name]
	if !ok {
		return nil, &HookError{Type: t.name, Kind: kind, Suffix: suffix}
	}

	recv := t.Blank()
	out, err := hook(ctx, recv, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", t.name, name, err)
	}
	if err := t.finalize(ctx, recv); err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}
	return recv, nil
}

// Find executes q and materializes every record through InstanceFromData.
func (r *Resolver) Find(ctx context.Context, q *source.Query) ([]*Entity, error) {
	t, err := r.Type(q.TypeName())
	if err != nil {
		return nil, err
	}
	recs, err := q.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", q, err)
	}
	out := make([]*Entity, 0, len(recs))
	for _, rec := range recs {
		e, err := r.instanceFromData(ctx, t, rec, q.Gateway())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// InstanceFromData returns the entity for a raw record of typeName loaded
// from the type's default source. When any of the record's fields matches a
// cached key, the cached instance is reloaded from the record and returned.
// Otherwise a new instance is hydrated, initialized and cached. Either way
// the entity is marked persisted.
func (r *Resolver) InstanceFromData(ctx context.Context, typeName string, rec source.Record) (*Entity, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	return r.instanceFromData(ctx, t, rec, t.gateway)
}

// Instance returns the entity with the given primary key value, from the
// cache when present.
func (r *Resolver) Instance(ctx context.Context, typeName string, id any) (*Entity, error) {
	t, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	return r.instanceFromData(ctx, t, source.Record{t.primaryKey: id}, t.gateway)
}

func (r *Resolver) instanceFromData(ctx context.Context, t *Type, rec source.Record, gw source.Gateway) (*Entity, error) {
	load := func() (any, error) {
		if e := r.findFromData(t, rec); e != nil {
			t.Accessor(e).Hydrate(rec)
			e.markStored(gw, true)
			return e, r.register(e)
		}

		e := t.Blank()
		t.Accessor(e).Hydrate(rec)
		if err := t.finalize(ctx, e); err != nil {
			return nil, err
		}
		e.markStored(gw, true)
		if err := r.register(e); err != nil {
			return nil, err
		}
		return e, nil
	}

	id := rec[t.primaryKey]
	if id == nil || !hashable(id) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return v.(*Entity), nil
	}

	// Concurrent loads of one primary key converge on one instance.
	v, err, _ := r.flights.Do(shard.KeyString("data:"+t.name, id), load)
	if err != nil {
		return nil, err
	}
	return v.(*Entity), nil
}

// findFromData looks the record's fields up in the cache, primary and
// unique keys first.
func (r *Resolver) findFromData(t *Type, rec source.Record) *Entity {
	seen := make(map[string]bool, len(rec))
	for _, name := range t.keyNames() {
		seen[name] = true
		if v, ok := rec[name]; ok {
			if e, ok := r.cache.Lookup(t.name, name, v); ok {
				return e
			}
		}
	}

	rest := make([]string, 0, len(rec))
	for name := range rec {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		if e, ok := r.cache.Lookup(t.name, name, rec[name]); ok {
			return e
		}
	}
	return nil
}

// register caches e under its primary and unique keys, then under aliases.
// An alias never displaces the entity's own value for the same key name.
// Unset and uncomparable key values are skipped.
func (r *Resolver) register(e *Entity, aliases ...cache.Key) error {
	t := e.typ
	keys := make([]cache.Key, 0, len(t.uniqueKeys)+1)

	e.mu.RLock()
	for _, name := range t.keyNames() {
		v, ok := e.values[name]
		if !ok || v == nil || !hashable(v) {
			continue
		}
		keys = append(keys, cache.Key{Name: name, Value: v})
	}
	e.mu.RUnlock()

	if len(keys) > 0 {
		if err := r.cache.Register(t.name, e, keys...); err != nil {
			return err
		}
	}
	if len(aliases) > 0 {
		return r.cache.Alias(t.name, e, aliases...)
	}
	return nil
}

// Lookup returns the cached entity of typeName registered under (key, value).
func (r *Resolver) Lookup(typeName, key string, value any) (*Entity, bool) {
	return r.cache.Lookup(typeName, key, value)
}

// Evict removes every cache key of e and reports how many were removed.
func (r *Resolver) Evict(e *Entity) int {
	idx, ok := r.cache.Index(e.typ.name)
	if !ok {
		return 0
	}
	return idx.Evict(e)
}

// EvictKey removes a single cache key and returns the entity it pointed at.
func (r *Resolver) EvictKey(typeName, key string, value any) (*Entity, bool) {
	idx, ok := r.cache.Index(typeName)
	if !ok {
		return nil, false
	}
	return idx.EvictKey(cache.Key{Name: key, Value: value})
}

// EvictID evicts every cache key of the entity of typeName whose primary
// key is id. It reports how many keys were removed.
func (r *Resolver) EvictID(typeName string, id any) int {
	t, err := r.Type(typeName)
	if err != nil {
		return 0
	}
	e, ok := r.cache.Lookup(t.name, t.primaryKey, id)
	if !ok {
		return 0
	}
	return r.Evict(e)
}

// Cached returns the number of distinct cached entities of typeName.
func (r *Resolver) Cached(typeName string) int {
	idx, ok := r.cache.Index(typeName)
	if !ok {
		return 0
	}
	return idx.Instances()
}

func hashable(v any) bool {
	return reflect.TypeOf(v).Comparable()
}

// Accessor returns a property accessor for e.
func (r *Resolver) Accessor(e *Entity) *Accessor {
	return e.typ.Accessor(e)
}
