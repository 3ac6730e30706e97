// Package sqlsource provides a source.Source backed by SQL tables.
//
// Statements are built with squirrel and run through database/sql, so any
// driver works. Record keys map to snake_case columns ("createdAt" is stored
// in created_at) and columns map back to lowerCamel record keys on read.
// Queries push filters, ordering and limits down into the SELECT.
//
// List and map values are stored as JSON text. Text columns holding a JSON
// array are decoded back into []any.
package sqlsource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jacentio/canon/source"
)

// ErrInvalidIdentifier is returned when a field name cannot be used as a
// column name.
var ErrInvalidIdentifier = errors.New("canon(source): invalid sql identifier")

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// column returns the column for a query field or record key. Names that are
// not plain identifiers are rejected, since they are written into the
// statement text.
func column(field string) (string, error) {
	if !identifierRE.MatchString(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, field)
	}
	return Column(source.PropertyName(field)), nil
}

// DB is the subset of *sql.DB used by the Source.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Config holds configuration for the Source.
type Config struct {
	// Tables maps type names to table names. Types not listed use
	// TablePrefix + snake_case(type name).
	Tables map[string]string

	// TablePrefix is prepended to unmapped table names.
	TablePrefix string

	// IDColumn is the primary key column of every table.
	// Default: "id"
	IDColumn string

	// AutoIncrement leaves id generation to the database and reads the new
	// id from LastInsertId. Otherwise missing ids are UUIDv7 strings.
	AutoIncrement bool

	// Placeholder is "?" or "$" (numbered, for PostgreSQL).
	// Default: "?"
	Placeholder string
}

// DefaultConfig returns a config for "?" placeholder drivers with
// generated UUIDv7 ids.
func DefaultConfig() Config {
	return Config{
		IDColumn:    "id",
		Placeholder: "?",
	}
}

func (c *Config) validate() {
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.Placeholder != "$" {
		c.Placeholder = "?"
	}
}

func (c *Config) table(typeName string) string {
	if t, ok := c.Tables[typeName]; ok && t != "" {
		return t
	}
	return c.TablePrefix + Column(typeName)
}

// Source binds types to SQL tables.
type Source struct {
	db      DB
	config  Config
	builder sq.StatementBuilderType
}

// New creates a new Source.
func New(db DB, config Config) *Source {
	config.validate()
	format := sq.PlaceholderFormat(sq.Question)
	if config.Placeholder == "$" {
		format = sq.Dollar
	}
	return &Source{
		db:      db,
		config:  config,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// Bind implements source.Source.
func (s *Source) Bind(typeName string) (source.Gateway, error) {
	return &Gateway{src: s, typeName: typeName, table: s.config.table(typeName)}, nil
}

// Gateway reads and writes one type's table.
type Gateway struct {
	src      *Source
	typeName string
	table    string
}

// TypeName implements source.Gateway.
func (g *Gateway) TypeName() string { return g.typeName }

// Table returns the table backing the gateway.
func (g *Gateway) Table() string { return g.table }

// Capabilities implements source.Gateway.
func (g *Gateway) Capabilities() source.Capabilities {
	return source.Capabilities{CanSaveDirty: true, Relational: true}
}

// Query implements source.Gateway.
func (g *Gateway) Query() *source.Query {
	return source.NewQuery(g, g.execute)
}

// Create implements source.Gateway.
func (g *Gateway) Create(ctx context.Context, rec source.Record) (any, error) {
	cfg := g.src.config
	idKey := Property(cfg.IDColumn)
	id := rec[idKey]
	if id == nil && !cfg.AutoIncrement {
		v7, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		id = v7.String()
	}

	cols, vals, err := columns(rec, idKey)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", g.typeName, err)
	}
	if id != nil {
		cols = append([]string{cfg.IDColumn}, cols...)
		vals = append([]any{id}, vals...)
	}

	query, args, err := g.src.builder.Insert(g.table).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert %s: %w", g.typeName, err)
	}
	res, err := g.src.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", g.typeName, err)
	}
	if id == nil {
		n, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert %s: last insert id: %w", g.typeName, err)
		}
		id = n
	}
	return id, nil
}

// Update implements source.Gateway. It fails with source.ErrNotFound when no
// row has the id.
func (g *Gateway) Update(ctx context.Context, id any, rec source.Record) error {
	if id == nil {
		return source.ErrMissingID
	}
	idCol := g.src.config.IDColumn
	cols, vals, err := columns(rec, Property(idCol))
	if err != nil {
		return fmt.Errorf("update %s: %w", g.typeName, err)
	}
	if len(cols) == 0 {
		return nil
	}

	set := make(map[string]any, len(cols))
	for i, c := range cols {
		set[c] = vals[i]
	}
	query, args, err := g.src.builder.Update(g.table).SetMap(set).Where(sq.Eq{idCol: id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update %s: %w", g.typeName, err)
	}
	return g.execOne(ctx, "update", id, query, args)
}

// Delete implements source.Gateway. It fails with source.ErrNotFound when no
// row has the id.
func (g *Gateway) Delete(ctx context.Context, id any) error {
	if id == nil {
		return source.ErrMissingID
	}
	query, args, err := g.src.builder.Delete(g.table).Where(sq.Eq{g.src.config.IDColumn: id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete %s: %w", g.typeName, err)
	}
	return g.execOne(ctx, "delete", id, query, args)
}

func (g *Gateway) execOne(ctx context.Context, op string, id any, query string, args []any) error {
	res, err := g.src.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s %v: %w", op, g.typeName, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s %v: rows affected: %w", op, g.typeName, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
	}
	return nil
}

// selectFor builds the SELECT for q.
func (g *Gateway) selectFor(q *source.Query) (sq.SelectBuilder, error) {
	b := g.src.builder.Select("*").From(g.table)
	for _, f := range q.Filters() {
		col, err := column(f.Field)
		if err != nil {
			return b, err
		}
		b = b.Where(sq.Eq{col: f.Value})
	}
	for _, o := range q.Orders() {
		col, err := column(o.Field)
		if err != nil {
			return b, err
		}
		b = b.OrderBy(col + " " + o.Direction.String())
	}
	if n := q.MaxResults(); n > 0 {
		b = b.Limit(uint64(n))
	}
	return b, nil
}

func (g *Gateway) execute(ctx context.Context, q *source.Query) ([]source.Record, error) {
	sel, err := g.selectFor(q)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", g.typeName, err)
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", g.typeName, err)
	}
	rows, err := g.src.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", g.typeName, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]source.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []source.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(source.Record, len(cols))
		for i, c := range cols {
			rec[Property(c)] = fromColumn(vals[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// columns returns rec's columns in name order, skipping idKey.
func columns(rec source.Record, idKey string) ([]string, []any, error) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != idKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	vals := make([]any, len(keys))
	for i, k := range keys {
		col, err := column(k)
		if err != nil {
			return nil, nil, err
		}
		v, err := toColumn(rec[k])
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", k, err)
		}
		cols[i] = col
		vals[i] = v
	}
	return cols, vals, nil
}

func toColumn(v any) (any, error) {
	switch v.(type) {
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

func fromColumn(v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "[") {
		return v
	}
	var list []any
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return v
	}
	return list
}

// Column converts a record key to its snake_case column name.
func Column(key string) string {
	var b strings.Builder
	runes := []rune(key)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Property converts a snake_case column name to its lowerCamel record key.
func Property(column string) string {
	parts := strings.Split(column, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}
