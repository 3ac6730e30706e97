package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeNotRegistered is returned for a type name the resolver does not know.
	ErrTypeNotRegistered = errors.New("canon: type not registered")

	// ErrInvalidTypeSpec is returned when a TypeSpec cannot be registered.
	ErrInvalidTypeSpec = errors.New("canon: invalid type spec")

	// ErrPropertyNotFound is returned when a type has no descriptor for a property.
	ErrPropertyNotFound = errors.New("canon: property not found")

	// ErrPropertyNotReadable is returned when reading a property that is not readable.
	ErrPropertyNotReadable = errors.New("canon: property not readable")

	// ErrPropertyNotWritable is returned when writing a property that is not writable.
	ErrPropertyNotWritable = errors.New("canon: property not writable")

	// ErrPropertyNotAContainer is returned when appending to a non-container property.
	ErrPropertyNotAContainer = errors.New("canon: property is not a container")

	// ErrNoSuchHook is returned when a type declares no hook for a request.
	ErrNoSuchHook = errors.New("canon: no such hook")

	// ErrCannotCreateEntity is returned when an entity cannot be resolved by key.
	ErrCannotCreateEntity = errors.New("canon: cannot create entity")

	// ErrNoSuchDynamicMethod is returned for a request name that is neither
	// a from nor a findBy request.
	ErrNoSuchDynamicMethod = errors.New("canon: no such dynamic method")

	// ErrNoSource is returned when an operation needs a data source and the
	// entity has none.
	ErrNoSource = errors.New("canon: no data source")

	// ErrTypeMismatch is returned when a builder returns an entity of another type.
	ErrTypeMismatch = errors.New("canon: entity type mismatch")
)

// PropertyError reports a failed property access.
type PropertyError struct {
	Type     string
	Property string
	Op       string // "get", "set" or "add"
	Err      error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%v: %s.%s (%s)", e.Err, e.Type, e.Property, e.Op)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// HookError reports a missing hook.
type HookError struct {
	Type   string
	Kind   string
	Suffix string
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%v: %s on %s", ErrNoSuchHook, HookName(e.Kind, e.Suffix), e.Type)
}

func (e *HookError) Unwrap() error { return ErrNoSuchHook }

// CreateError reports a keyed resolution that produced no entity. Err holds
// the builder's failure, if any.
type CreateError struct {
	Type  string
	Key   string
	Value any
	Err   error
}

func (e *CreateError) Error() string {
	msg := fmt.Sprintf("%v: %s by %s=%v", ErrCannotCreateEntity, e.Type, e.Key, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CreateError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCannotCreateEntity}
	}
	return []error{ErrCannotCreateEntity, e.Err}
}

// MethodError reports an unrecognized request name.
type MethodError struct {
	Type string
	Name string
}

func (e *MethodError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%v: %s", ErrNoSuchDynamicMethod, e.Name)
	}
	return fmt.Sprintf("%v: %s.%s", ErrNoSuchDynamicMethod, e.Type, e.Name)
}

func (e *MethodError) Unwrap() error { return ErrNoSuchDynamicMethod }
