package meta

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// TagName is the struct tag key read by Introspect.
const TagName = "canon"

var timeType = reflect.TypeOf(time.Time{})

// Introspect builds a composite from a prototype struct.
//
// Exported fields become properties. The canon tag has the form
//
//	`canon:"name,readable,writable,container"`
//
// where name defaults to the field name with its first letter lower-cased,
// "rw" is short for readable and writable, and one of scalar, container or
// reference overrides the type tag inferred from the field's kind. A field
// tagged "-" is skipped. Untagged fields are described but neither readable
// nor writable. The prototype's field values become property defaults.
// Exported methods of the prototype's pointer type become method descriptors.
func Introspect(name string, prototype any) (*Composite, error) {
	v := reflect.ValueOf(prototype)
	if !v.IsValid() {
		return nil, ErrInvalidPrototype
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v = reflect.New(v.Type().Elem()).Elem()
		} else {
			v = v.Elem()
		}
	}
	t := v.Type()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPrototype, t.Kind())
	}

	var members []Member
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, hasTag := f.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}
		p, err := fieldProperty(f, v.Field(i), tag, hasTag)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, f.Name, err)
		}
		members = append(members, p)
	}

	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		params := make([]Parameter, 0, m.Type.NumIn()-1)
		for j := 1; j < m.Type.NumIn(); j++ {
			params = append(params, Parameter{Index: j - 1, Type: m.Type.In(j).String()})
		}
		members = append(members, NewMethod(m.Name, params...))
	}

	return NewComposite(name, members...)
}

func fieldProperty(f reflect.StructField, fv reflect.Value, tag string, hasTag bool) (*Property, error) {
	p := &Property{name: lowerFirst(f.Name), tag: inferTag(f.Type)}

	if hasTag {
		parts := strings.Split(tag, ",")
		if n := strings.TrimSpace(parts[0]); n != "" {
			p.name = n
		}
		for _, opt := range parts[1:] {
			switch strings.TrimSpace(opt) {
			case "readable":
				p.readable = true
			case "writable":
				p.writable = true
			case "rw":
				p.readable = true
				p.writable = true
			case "":
			default:
				tt, err := ParseTypeTag(opt)
				if err != nil {
					return nil, err
				}
				p.tag = tt
			}
		}
	}

	def, err := defaultOf(fv, p.tag)
	if err != nil {
		return nil, err
	}
	p.def = def
	return p, nil
}

// inferTag maps a Go field type to a type tag.
func inferTag(t reflect.Type) TypeTag {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return Scalar
		}
		return Container
	case reflect.Pointer:
		return Reference
	case reflect.Struct:
		if t == timeType {
			return Scalar
		}
		return Reference
	default:
		return Scalar
	}
}

// defaultOf converts a prototype field value into a descriptor default.
// Container defaults are normalized to []any.
func defaultOf(fv reflect.Value, tag TypeTag) (any, error) {
	if tag != Container {
		if isNilable(fv) && fv.IsNil() {
			return nil, nil
		}
		return fv.Interface(), nil
	}
	switch fv.Kind() {
	case reflect.Slice, reflect.Array:
		if fv.Kind() == reflect.Slice && fv.IsNil() {
			return nil, nil
		}
		out := make([]any, fv.Len())
		for i := range out {
			out[i] = fv.Index(i).Interface()
		}
		return out, nil
	case reflect.Interface:
		if fv.IsNil() {
			return nil, nil
		}
		return defaultOf(fv.Elem(), tag)
	default:
		return nil, fmt.Errorf("%w: %s cannot be a container", ErrInvalidTag, fv.Kind())
	}
}

func isNilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
