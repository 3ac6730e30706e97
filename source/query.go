package source

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Order is one ordering term.
type Order struct {
	Field     string
	Direction Direction
}

// Filter is one equality filter.
type Filter struct {
	Field string
	Value any
}

// Executor runs a query and returns its records.
type Executor func(ctx context.Context, q *Query) ([]Record, error)

// Query is a chainable query builder bound to a gateway. Builder methods
// mutate the query in place and return it. Nothing runs until Execute.
//
// A Query is not safe for concurrent mutation.
type Query struct {
	gateway Gateway
	exec    Executor
	orders  []Order
	filters []Filter
	limit   int
}

// NewQuery creates an empty query for g, run by exec.
func NewQuery(g Gateway, exec Executor) *Query {
	return &Query{gateway: g, exec: exec}
}

// Gateway returns the gateway the query is bound to.
func (q *Query) Gateway() Gateway { return q.gateway }

// TypeName returns the bound type name.
func (q *Query) TypeName() string {
	if q.gateway == nil {
		return ""
	}
	return q.gateway.TypeName()
}

// Order appends an ordering term.
func (q *Query) Order(field string, dir Direction) *Query {
	q.orders = append(q.orders, Order{Field: field, Direction: dir})
	return q
}

// Where appends an equality filter.
func (q *Query) Where(field string, value any) *Query {
	q.filters = append(q.filters, Filter{Field: field, Value: value})
	return q
}

// Limit caps the number of records returned. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		n = 0
	}
	q.limit = n
	return q
}

// Orders returns a copy of the ordering terms.
func (q *Query) Orders() []Order {
	return append([]Order(nil), q.orders...)
}

// Filters returns a copy of the equality filters.
func (q *Query) Filters() []Filter {
	return append([]Filter(nil), q.filters...)
}

// MaxResults returns the limit, zero when unlimited.
func (q *Query) MaxResults() int { return q.limit }

// Execute runs the query. The returned slice is fully materialized and may be
// iterated any number of times.
func (q *Query) Execute(ctx context.Context) ([]Record, error) {
	if q.exec == nil {
		return nil, ErrNoExecutor
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return q.exec(ctx, q)
}

// String renders the query for logs.
func (q *Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query(%s)", q.TypeName())
	for _, f := range q.filters {
		fmt.Fprintf(&b, " where %s = %v", f.Field, f.Value)
	}
	for _, o := range q.orders {
		fmt.Fprintf(&b, " order %s %s", o.Field, o.Direction)
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.limit)
	}
	return b.String()
}

// Apply filters, orders and limits records in memory according to q.
// Adapters that cannot push a query down to their backend use it after
// loading candidate records. The input slice is not modified.
func Apply(records []Record, q *Query) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if matches(rec, q.filters) {
			out = append(out, rec)
		}
	}

	if len(q.orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.orders {
				key := PropertyName(o.Field)
				c := Compare(out[i][key], out[j][key])
				if c == 0 {
					continue
				}
				if o.Direction == Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out
}

func matches(rec Record, filters []Filter) bool {
	for _, f := range filters {
		v, ok := rec[PropertyName(f.Field)]
		if !ok && f.Value != nil {
			return false
		}
		if !Equal(v, f.Value) {
			return false
		}
	}
	return true
}

// Equal reports whether two record values are equal. Numbers compare by
// value regardless of their Go type, so 7 equals 7.0 and int64(7).
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Compare orders two record values: nil sorts first, numbers by value,
// strings lexically, times chronologically, false before true. Other values
// compare by their string form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
