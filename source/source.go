// Package source defines the data source gateway consumed by the resolver.
//
// A [Source] binds a type name to a [Gateway], which persists raw records and
// hands out lazily executed [Query] builders. Adapters live in subpackages:
//
//   - source/memory: in-process maps, the default for tests
//   - source/dynamo: DynamoDB tables with TTL soft deletes
//   - source/sqlsource: database/sql tables built with squirrel
//   - source/redissource: one Redis hash per type
//
// Field names passed to [Query.Order] and [Query.Where] are the names parsed
// from a finder request (for example "Created"). Adapters resolve them to
// record keys through [PropertyName].
package source

import (
	"context"
	"errors"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("canon(source): record not found")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("canon(source): record already exists")

	// ErrUnknownType is returned when a source cannot bind a type name.
	ErrUnknownType = errors.New("canon(source): unknown type")

	// ErrNoExecutor is returned when executing a query with nothing to run it.
	ErrNoExecutor = errors.New("canon(source): query has no executor")

	// ErrMissingID is returned when an update or delete is given a nil id.
	ErrMissingID = errors.New("canon(source): missing record id")
)

// Record is a raw record keyed by property name.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Direction is a sort direction.
type Direction int

const (
	// Ascending sorts lowest first.
	Ascending Direction = iota
	// Descending sorts highest first.
	Descending
)

// String returns "ASC" or "DESC".
func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Capabilities are read once per save.
type Capabilities struct {
	// CanSaveDirty means updates may carry only the changed fields.
	CanSaveDirty bool

	// Relational means nested entities serialize as their primary key
	// rather than as embedded records.
	Relational bool
}

// Source binds entity types to gateways.
type Source interface {
	Bind(typeName string) (Gateway, error)
}

// Gateway persists and queries raw records for one type.
type Gateway interface {
	// TypeName returns the bound type.
	TypeName() string

	// Capabilities returns the gateway's save capabilities.
	Capabilities() Capabilities

	// Query returns a new, unexecuted query against the gateway.
	Query() *Query

	// Create stores a new record and returns its identifier.
	Create(ctx context.Context, rec Record) (any, error)

	// Update writes rec over the record identified by id.
	Update(ctx context.Context, id any, rec Record) error

	// Delete removes the record identified by id.
	Delete(ctx context.Context, id any) error
}

// PropertyName maps a parsed field name ("Created") to the property name used
// as a record key ("created").
func PropertyName(field string) string {
	r, size := utf8.DecodeRuneInString(field)
	if r == utf8.RuneError {
		return field
	}
	return string(unicode.ToLower(r)) + field[size:]
}
