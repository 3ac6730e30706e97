package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/jacentio/canon/meta"
	"github.com/jacentio/canon/source"
)

// BuilderFunc materializes an entity for a key. It receives the original,
// normalized request arguments. Returning a nil entity without an error means
// the key does not resolve.
type BuilderFunc func(ctx context.Context, t *Type, args []any) (*Entity, error)

// HookFunc is a named hook run against a fresh blank instance. A non-nil
// result is returned to the caller; otherwise the receiver is.
type HookFunc func(ctx context.Context, recv *Entity, args []any) (any, error)

// NormalizeFunc rewrites request arguments before coercion.
type NormalizeFunc func(key string, args []any) []any

// InitFunc finishes construction of an entity after its properties load.
type InitFunc func(ctx context.Context, e *Entity) error

// TypeSpec declares an entity type to a Resolver.
type TypeSpec struct {
	// Name is the type name. Required.
	Name string

	// Prototype is a struct (or pointer to struct) introspected for property
	// and method descriptors. Ignored when Composite is set.
	Prototype any

	// Composite is an explicitly built descriptor. Its name must match Name.
	Composite *meta.Composite

	// PrimaryKey names the identifier property.
	// Default: "id"
	PrimaryKey string

	// UniqueKeys name further properties an entity is cached under.
	UniqueKeys []string

	// Builders maps key names to builder functions. Key names are
	// normalized to start with a lower-case letter.
	Builders map[string]BuilderFunc

	// Hooks maps hook names (see HookName) to hook functions.
	Hooks map[string]HookFunc

	// Normalize rewrites arguments of from requests. Default: identity.
	Normalize NormalizeFunc

	// Source is the type's default data source.
	Source source.Source

	// Init runs after an entity's properties are loaded.
	Init InitFunc
}

// HookName returns the conventional name of a hook, "__" + kind + suffix.
func HookName(kind, suffix string) string {
	return "__" + kind + suffix
}

// Type is a registered entity type.
type Type struct {
	name       string
	composite  *meta.Composite
	primaryKey string
	uniqueKeys []string
	builders   map[string]BuilderFunc
	hooks      map[string]HookFunc
	normalize  NormalizeFunc
	init       InitFunc
	gateway    source.Gateway
	resolver   *Resolver
}

func newType(r *Resolver, spec TypeSpec, c *meta.Composite) (*Type, error) {
	t := &Type{
		name:       spec.Name,
		composite:  c,
		primaryKey: spec.PrimaryKey,
		uniqueKeys: append([]string(nil), spec.UniqueKeys...),
		builders:   make(map[string]BuilderFunc, len(spec.Builders)),
		hooks:      make(map[string]HookFunc, len(spec.Hooks)),
		normalize:  spec.Normalize,
		init:       spec.Init,
		resolver:   r,
	}
	if t.primaryKey == "" {
		t.primaryKey = "id"
	}
	for key, b := range spec.Builders {
		t.builders[lowerFirst(key)] = b
	}
	for name, h := range spec.Hooks {
		t.hooks[name] = h
	}

	for _, key := range append([]string{t.primaryKey}, t.uniqueKeys...) {
		if _, err := c.Property(key); err != nil {
			return nil, fmt.Errorf("%w: %s key %q: %v", ErrInvalidTypeSpec, t.name, key, err)
		}
	}

	if spec.Source != nil {
		gw, err := spec.Source.Bind(t.name)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", t.name, err)
		}
		t.gateway = gw
	}
	return t, nil
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Composite returns the type's descriptor.
func (t *Type) Composite() *meta.Composite { return t.composite }

// PrimaryKey returns the identifier property name.
func (t *Type) PrimaryKey() string { return t.primaryKey }

// UniqueKeys returns the additional cache key names.
func (t *Type) UniqueKeys() []string { return append([]string(nil), t.uniqueKeys...) }

// Gateway returns the default gateway, or nil when the type has no source.
func (t *Type) Gateway() source.Gateway { return t.gateway }

// Resolver returns the resolver the type is registered with.
func (t *Type) Resolver() *Resolver { return t.resolver }

// HasBuilder reports whether the type declares a builder for key.
func (t *Type) HasBuilder(key string) bool {
	_, ok := t.builders[lowerFirst(key)]
	return ok
}

// Hooks returns the declared hook names, sorted.
func (t *Type) Hooks() []string {
	names := make([]string, 0, len(t.hooks))
	for name := range t.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Blank returns a new, unpersisted, uncached instance with no values set.
func (t *Type) Blank() *Entity {
	return newEntity(t)
}

// Accessor returns an accessor for e described by this type.
func (t *Type) Accessor(e *Entity) *Accessor {
	return NewAccessor(e, t.composite)
}

func (t *Type) normalizeArgs(key string, args []any) []any {
	if t.normalize == nil {
		return args
	}
	return t.normalize(key, args)
}

func (t *Type) finalize(ctx context.Context, e *Entity) error {
	if t.init == nil {
		return nil
	}
	if err := t.init(ctx, e); err != nil {
		return fmt.Errorf("init %s: %w", t.name, err)
	}
	return nil
}

// keyNames returns the primary key followed by the unique keys.
func (t *Type) keyNames() []string {
	return append([]string{t.primaryKey}, t.uniqueKeys...)
}
