package model

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jacentio/canon/source"
)

// RequestKind classifies a dynamic request.
type RequestKind int

const (
	// From resolves a single entity by key.
	From RequestKind = iota + 1
	// FindBy resolves entities by criteria.
	FindBy
)

// String returns "from" or "findBy".
func (k RequestKind) String() string {
	switch k {
	case From:
		return "from"
	case FindBy:
		return "findBy"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// Request is a parsed dynamic request such as "fromEmail" or "findByLatestCreated".
type Request struct {
	Kind   RequestKind
	Suffix string
}

// ParseRequest classifies a request name. Names starting with "findBy" or
// "from" followed by a non-empty suffix parse; anything else fails with
// ErrNoSuchDynamicMethod.
func ParseRequest(name string) (Request, error) {
	for _, p := range []struct {
		prefix string
		kind   RequestKind
	}{
		{"findBy", FindBy},
		{"from", From},
	} {
		if suffix, ok := strings.CutPrefix(name, p.prefix); ok && suffix != "" {
			return Request{Kind: p.kind, Suffix: suffix}, nil
		}
	}
	return Request{}, &MethodError{Name: name}
}

// Coerce computes the cache key value of a from request: nil without
// arguments; the elements of a slice or array joined into one string; the
// string form of a structured value; a scalar as-is. A []byte is a string.
// Pointers are dereferenced unless they implement fmt.Stringer.
func Coerce(args []any) any {
	if len(args) == 0 {
		return nil
	}
	v := args[0]
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		if _, ok := v.(fmt.Stringer); ok {
			return fmt.Sprint(v)
		}
		rv = rv.Elem()
		v = rv.Interface()
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var b strings.Builder
		for i := 0; i < rv.Len(); i++ {
			fmt.Fprint(&b, rv.Index(i).Interface())
		}
		return b.String()
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// directional prefixes, checked in order.
var directions = []struct {
	prefix string
	dir    source.Direction
}{
	{"Latest", source.Descending},
	{"Highest", source.Descending},
	{"Earliest", source.Ascending},
	{"Lowest", source.Ascending},
}

// ParseCriteria splits finder criteria into an ordering term. A prefix only
// counts when the remainder starts with an upper-case letter or a digit, so
// "LatestCreated" orders by "Created" while "LatestlyModified" is a plain
// field name.
func ParseCriteria(criteria string) (field string, dir source.Direction, ordered bool) {
	for _, d := range directions {
		rest, ok := strings.CutPrefix(criteria, d.prefix)
		if !ok || rest == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			return rest, d.dir, true
		}
	}
	return criteria, source.Ascending, false
}

// DefaultFilterValue is the value an equality finder called without
// arguments filters on, so findByActive() means active = 1.
const DefaultFilterValue = 1

// applyCriteria adds the ordering or equality term for criteria to q.
func applyCriteria(q *source.Query, criteria string, args []any) *source.Query {
	if field, dir, ok := ParseCriteria(criteria); ok {
		return q.Order(field, dir)
	}
	var value any = DefaultFilterValue
	if len(args) > 0 {
		value = args[0]
	}
	return q.Where(criteria, value)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
