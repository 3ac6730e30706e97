// Package memory provides an in-process source.Source.
//
// Records live in per-type maps keyed by the string form of their id. Query
// results are snapshots: mutating a returned record does not affect storage.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/canon/source"
)

// Config holds configuration for the Source.
type Config struct {
	// Capabilities reported by every gateway.
	// Default: CanSaveDirty and Relational
	Capabilities source.Capabilities

	// IDField is the record key holding the identifier.
	// Default: "id"
	IDField string

	// Types restricts Bind to the listed type names. Empty allows any type.
	Types []string
}

// DefaultConfig returns a config for a dirty-saving, relational source.
func DefaultConfig() Config {
	return Config{
		Capabilities: source.Capabilities{CanSaveDirty: true, Relational: true},
		IDField:      "id",
	}
}

func (c *Config) validate() {
	if c.IDField == "" {
		c.IDField = "id"
	}
}

// Source is an in-memory source. It is safe for concurrent use.
type Source struct {
	config  Config
	allowed map[string]bool

	mu     sync.RWMutex
	tables map[string]map[string]source.Record
	order  map[string][]string
}

// New creates an empty Source.
func New(config Config) *Source {
	config.validate()
	s := &Source{
		config: config,
		tables: make(map[string]map[string]source.Record),
		order:  make(map[string][]string),
	}
	if len(config.Types) > 0 {
		s.allowed = make(map[string]bool, len(config.Types))
		for _, t := range config.Types {
			s.allowed[t] = true
		}
	}
	return s
}

// Bind implements source.Source.
func (s *Source) Bind(typeName string) (source.Gateway, error) {
	if s.allowed != nil && !s.allowed[typeName] {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownType, typeName)
	}
	return &Gateway{src: s, typeName: typeName}, nil
}

// Seed stores records directly, bypassing Create. Records without an id get
// a generated one.
func (s *Source) Seed(typeName string, recs ...source.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		rec = rec.Clone()
		if rec[s.config.IDField] == nil {
			rec[s.config.IDField] = newID()
		}
		s.put(typeName, rec)
	}
}

// Get returns a copy of a stored record.
func (s *Source) Get(typeName string, id any) (source.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tables[typeName][idKey(id)]
	return rec.Clone(), ok
}

// Len returns the number of records stored for typeName.
func (s *Source) Len(typeName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[typeName])
}

// put stores rec under its id. Caller holds s.mu.
func (s *Source) put(typeName string, rec source.Record) {
	table := s.tables[typeName]
	if table == nil {
		table = make(map[string]source.Record)
		s.tables[typeName] = table
	}
	key := idKey(rec[s.config.IDField])
	if _, exists := table[key]; !exists {
		s.order[typeName] = append(s.order[typeName], key)
	}
	table[key] = rec
}

func (s *Source) snapshot(typeName string) []source.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.tables[typeName]
	out := make([]source.Record, 0, len(table))
	for _, key := range s.order[typeName] {
		if rec, ok := table[key]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Gateway is a source.Gateway over one in-memory table.
type Gateway struct {
	src      *Source
	typeName string
}

// TypeName implements source.Gateway.
func (g *Gateway) TypeName() string { return g.typeName }

// Capabilities implements source.Gateway.
func (g *Gateway) Capabilities() source.Capabilities { return g.src.config.Capabilities }

// Query implements source.Gateway. Results are in insertion order unless
// the query orders them.
func (g *Gateway) Query() *source.Query {
	return source.NewQuery(g, func(ctx context.Context, q *source.Query) ([]source.Record, error) {
		return source.Apply(g.src.snapshot(g.typeName), q), nil
	})
}

// Create implements source.Gateway. A nil id is replaced by a UUIDv7.
func (g *Gateway) Create(ctx context.Context, rec source.Record) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idField := g.src.config.IDField
	rec = rec.Clone()
	if rec == nil {
		rec = source.Record{}
	}
	if rec[idField] == nil {
		rec[idField] = newID()
	}
	id := rec[idField]

	g.src.mu.Lock()
	defer g.src.mu.Unlock()
	if _, exists := g.src.tables[g.typeName][idKey(id)]; exists {
		return nil, fmt.Errorf("%w: %s %v", source.ErrAlreadyExists, g.typeName, id)
	}
	g.src.put(g.typeName, rec)
	return id, nil
}

// Update implements source.Gateway. Fields in rec are merged over the stored
// record; the id is never changed.
func (g *Gateway) Update(ctx context.Context, id any, rec source.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == nil {
		return source.ErrMissingID
	}

	g.src.mu.Lock()
	defer g.src.mu.Unlock()
	cur, ok := g.src.tables[g.typeName][idKey(id)]
	if !ok {
		return fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
	}
	next := cur.Clone()
	for k, v := range rec {
		if k == g.src.config.IDField {
			continue
		}
		next[k] = v
	}
	g.src.tables[g.typeName][idKey(id)] = next
	return nil
}

// Delete implements source.Gateway.
func (g *Gateway) Delete(ctx context.Context, id any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == nil {
		return source.ErrMissingID
	}

	g.src.mu.Lock()
	defer g.src.mu.Unlock()
	key := idKey(id)
	if _, ok := g.src.tables[g.typeName][key]; !ok {
		return fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
	}
	delete(g.src.tables[g.typeName], key)
	order := g.src.order[g.typeName]
	for i, k := range order {
		if k == key {
			g.src.order[g.typeName] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
	return nil
}

func idKey(id any) string {
	return fmt.Sprint(id)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
