// Package redissource provides a source.Source backed by Redis hashes.
//
// Each type is stored in one hash, KeyPrefix + type name, whose fields are
// record ids and whose values are JSON-encoded records. Updates merge into
// the stored record inside a WATCH transaction. Queries load the whole hash
// and apply filters, ordering and limits client-side.
package redissource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jacentio/canon/source"
)

// ErrConflict is returned when an update loses a race with another writer
// after all retries.
var ErrConflict = errors.New("canon(source): concurrent update conflict")

// Config holds configuration for the Source.
type Config struct {
	// KeyPrefix is prepended to the hash key of each type.
	// Default: "canon:"
	KeyPrefix string

	// IDField is the record key holding the identifier.
	// Default: "id"
	IDField string

	// MaxRetries bounds optimistic update retries.
	// Default: 3
	MaxRetries int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "canon:",
		IDField:    "id",
		MaxRetries: 3,
	}
}

func (c *Config) validate() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "canon:"
	}
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 3
	}
}

// Source binds types to Redis hashes.
type Source struct {
	client redis.UniversalClient
	config Config
}

// New creates a new Source.
func New(client redis.UniversalClient, config Config) *Source {
	config.validate()
	return &Source{client: client, config: config}
}

// Bind implements source.Source.
func (s *Source) Bind(typeName string) (source.Gateway, error) {
	return &Gateway{src: s, typeName: typeName, key: s.config.KeyPrefix + typeName}, nil
}

// Gateway reads and writes one type's hash.
type Gateway struct {
	src      *Source
	typeName string
	key      string
}

// TypeName implements source.Gateway.
func (g *Gateway) TypeName() string { return g.typeName }

// Key returns the hash key backing the gateway.
func (g *Gateway) Key() string { return g.key }

// Capabilities implements source.Gateway. Records are stored whole, so
// nested entities are embedded.
func (g *Gateway) Capabilities() source.Capabilities {
	return source.Capabilities{CanSaveDirty: true}
}

// Query implements source.Gateway.
func (g *Gateway) Query() *source.Query {
	return source.NewQuery(g, g.execute)
}

// Create implements source.Gateway. A nil id is replaced by a UUIDv7.
func (g *Gateway) Create(ctx context.Context, rec source.Record) (any, error) {
	idField := g.src.config.IDField
	rec = rec.Clone()
	if rec == nil {
		rec = source.Record{}
	}
	if rec[idField] == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		rec[idField] = id.String()
	}
	id := rec[idField]

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", g.typeName, err)
	}
	ok, err := g.src.client.HSetNX(ctx, g.key, fmt.Sprint(id), data).Result()
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", g.typeName, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", source.ErrAlreadyExists, g.typeName, id)
	}
	return id, nil
}

// Update implements source.Gateway. Fields in rec are merged over the stored
// record; the id is never changed.
func (g *Gateway) Update(ctx context.Context, id any, rec source.Record) error {
	if id == nil {
		return source.ErrMissingID
	}
	field := fmt.Sprint(id)
	idField := g.src.config.IDField

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, g.key, field).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		for k, v := range rec {
			if k != idField {
				cur[k] = v
			}
		}
		data, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("encode %s: %w", g.typeName, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, g.key, field, data)
			return nil
		})
		return err
	}

	for i := 0; i < g.src.config.MaxRetries; i++ {
		err := g.src.client.Watch(ctx, txf, g.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s %v", ErrConflict, g.typeName, id)
}

// Delete implements source.Gateway.
func (g *Gateway) Delete(ctx context.Context, id any) error {
	if id == nil {
		return source.ErrMissingID
	}
	n, err := g.src.client.HDel(ctx, g.key, fmt.Sprint(id)).Result()
	if err != nil {
		return fmt.Errorf("delete %s %v: %w", g.typeName, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
	}
	return nil
}

// execute loads every record of the type in id order and applies q.
func (g *Gateway) execute(ctx context.Context, q *source.Query) ([]source.Record, error) {
	all, err := g.src.client.HGetAll(ctx, g.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", g.typeName, err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	recs := make([]source.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := decode([]byte(all[id]))
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", g.typeName, id, err)
		}
		recs = append(recs, rec)
	}
	return source.Apply(recs, q), nil
}

func decode(raw []byte) (source.Record, error) {
	var rec source.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
