// Package meta describes entity types: their properties (access flags, type
// tag, default value) and methods.
//
// Descriptors are immutable once built. A [Store] builds each type's
// [Composite] lazily on first [Store.Describe] and memoizes it, either from an
// explicit registration ([Store.RegisterComposite]) or by introspecting a
// prototype struct ([Store.Register]).
package meta

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeNotRegistered is returned when describing an unknown type.
	ErrTypeNotRegistered = errors.New("canon(meta): type not registered")

	// ErrAlreadyRegistered is returned when a type name is registered twice.
	ErrAlreadyRegistered = errors.New("canon(meta): type already registered")

	// ErrPropertyNotFound is returned when a type has no property of that name.
	ErrPropertyNotFound = errors.New("canon(meta): property not found")

	// ErrMethodNotFound is returned when a type has no method of that name.
	ErrMethodNotFound = errors.New("canon(meta): method not found")

	// ErrDuplicateMember is returned when a composite declares a name twice.
	ErrDuplicateMember = errors.New("canon(meta): duplicate member")

	// ErrInvalidPrototype is returned when a prototype is not a struct or pointer to struct.
	ErrInvalidPrototype = errors.New("canon(meta): prototype must be a struct")

	// ErrInvalidTag is returned for an unparseable canon struct tag.
	ErrInvalidTag = errors.New("canon(meta): invalid struct tag")
)

// TypeTag classifies a property's values.
type TypeTag int

const (
	// Untyped marks a member that carries no value type.
	Untyped TypeTag = iota
	// Scalar values are stored and replaced whole.
	Scalar
	// Container values are lists that support appending.
	Container
	// Reference values point at other entities.
	Reference
)

// String returns the tag's lower-case name.
func (t TypeTag) String() string {
	switch t {
	case Untyped:
		return "untyped"
	case Scalar:
		return "scalar"
	case Container:
		return "container"
	case Reference:
		return "reference"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseTypeTag parses a tag name produced by String (case-insensitive).
func ParseTypeTag(s string) (TypeTag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "untyped", "":
		return Untyped, nil
	case "scalar":
		return Scalar, nil
	case "container":
		return Container, nil
	case "reference":
		return Reference, nil
	default:
		return Untyped, fmt.Errorf("%w: unknown type tag %q", ErrInvalidTag, s)
	}
}

// Member is a Property or a Method.
type Member interface {
	MemberName() string
	member()
}

// Property describes one named property of an entity type.
type Property struct {
	name     string
	readable bool
	writable bool
	tag      TypeTag
	def      any
	owner    *Composite
}

// PropertyOption configures a Property under construction.
type PropertyOption func(*Property)

// Readable marks the property readable.
func Readable() PropertyOption {
	return func(p *Property) { p.readable = true }
}

// Writable marks the property writable.
func Writable() PropertyOption {
	return func(p *Property) { p.writable = true }
}

// ReadWrite marks the property readable and writable.
func ReadWrite() PropertyOption {
	return func(p *Property) {
		p.readable = true
		p.writable = true
	}
}

// Default sets the value returned for the property before it is first written.
func Default(v any) PropertyOption {
	return func(p *Property) { p.def = v }
}

// NewProperty creates a property descriptor. It becomes owned by the
// composite it is passed to.
func NewProperty(name string, tag TypeTag, opts ...PropertyOption) *Property {
	p := &Property{name: name, tag: tag}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Property) member() {}

// MemberName implements Member.
func (p *Property) MemberName() string { return p.name }

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// Readable reports whether the property may be read.
func (p *Property) Readable() bool { return p.readable }

// Writable reports whether the property may be written.
func (p *Property) Writable() bool { return p.writable }

// Type returns the property's type tag.
func (p *Property) Type() TypeTag { return p.tag }

// Owner returns the composite the property belongs to.
func (p *Property) Owner() *Composite { return p.owner }

// IsProperty reports whether the member carries a value type.
func (p *Property) IsProperty() bool { return p.tag != Untyped }

// IsContainer reports whether the property holds a list.
func (p *Property) IsContainer() bool { return p.tag == Container }

// Default returns the default value. Container defaults are copied so
// callers can never alias the descriptor's list.
func (p *Property) Default() any {
	if list, ok := p.def.([]any); ok {
		out := make([]any, len(list))
		copy(out, list)
		return out
	}
	if p.def == nil && p.tag == Container {
		return []any{}
	}
	return p.def
}

// Parameter is one parameter of a method.
type Parameter struct {
	Index int
	Type  string
}

// Method describes a method of an entity type.
type Method struct {
	name   string
	params []Parameter
	owner  *Composite
}

// NewMethod creates a method descriptor with ordered parameters.
func NewMethod(name string, params ...Parameter) *Method {
	ps := make([]Parameter, len(params))
	copy(ps, params)
	return &Method{name: name, params: ps}
}

func (m *Method) member() {}

// MemberName implements Member.
func (m *Method) MemberName() string { return m.name }

// Name returns the method name.
func (m *Method) Name() string { return m.name }

// Owner returns the composite the method belongs to.
func (m *Method) Owner() *Composite { return m.owner }

// Params returns a copy of the ordered parameter list.
func (m *Method) Params() []Parameter {
	out := make([]Parameter, len(m.params))
	copy(out, m.params)
	return out
}

// Composite describes an entity type.
type Composite struct {
	name       string
	props      []*Property
	propByName map[string]*Property
	methods    []*Method
	methByName map[string]*Method
}

// NewComposite builds a composite from properties and methods.
// Members are copied, so the same *Property may seed several composites.
func NewComposite(name string, members ...Member) (*Composite, error) {
	c := &Composite{
		name:       name,
		propByName: make(map[string]*Property),
		methByName: make(map[string]*Method),
	}
	for _, m := range members {
		switch v := m.(type) {
		case *Property:
			if _, dup := c.propByName[v.name]; dup {
				return nil, fmt.Errorf("%w: property %q on %s", ErrDuplicateMember, v.name, name)
			}
			p := *v
			p.owner = c
			c.props = append(c.props, &p)
			c.propByName[p.name] = &p
		case *Method:
			if _, dup := c.methByName[v.name]; dup {
				return nil, fmt.Errorf("%w: method %q on %s", ErrDuplicateMember, v.name, name)
			}
			mm := &Method{name: v.name, params: v.Params(), owner: c}
			c.methods = append(c.methods, mm)
			c.methByName[mm.name] = mm
		}
	}
	return c, nil
}

// Name returns the type name.
func (c *Composite) Name() string { return c.name }

// Property returns the named property descriptor.
func (c *Composite) Property(name string) (*Property, error) {
	if p, ok := c.propByName[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, c.name, name)
}

// Properties returns the property descriptors in declaration order.
func (c *Composite) Properties() []*Property {
	out := make([]*Property, len(c.props))
	copy(out, c.props)
	return out
}

// Method returns the named method descriptor.
func (c *Composite) Method(name string) (*Method, error) {
	if m, ok := c.methByName[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, c.name, name)
}

// Methods returns the method descriptors in declaration order.
func (c *Composite) Methods() []*Method {
	out := make([]*Method, len(c.methods))
	copy(out, c.methods)
	return out
}
