package meta

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Store builds and memoizes composites by type name.
type Store struct {
	// mu guards registration; lookups go through the sync.Map.
	mu      sync.Mutex
	entries sync.Map // map[string]*entry
}

// entry builds its composite exactly once.
type entry struct {
	once  sync.Once
	build func() (*Composite, error)
	c     *Composite
	err   error
}

func (e *entry) get() (*Composite, error) {
	e.once.Do(func() {
		e.c, e.err = e.build()
		e.build = nil
	})
	return e.c, e.err
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Register records a prototype struct (or pointer to struct) for name.
// The prototype is introspected on the first Describe.
func (s *Store) Register(name string, prototype any) error {
	t := reflect.TypeOf(prototype)
	if t == nil {
		return ErrInvalidPrototype
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("%w: got %s", ErrInvalidPrototype, t.Kind())
	}
	return s.add(name, func() (*Composite, error) {
		return Introspect(name, prototype)
	})
}

// RegisterComposite records an explicitly built composite under its name.
func (s *Store) RegisterComposite(c *Composite) error {
	return s.add(c.Name(), func() (*Composite, error) { return c, nil })
}

func (s *Store) add(name string, build func() (*Composite, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries.Load(name); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	s.entries.Store(name, &entry{build: build})
	return nil
}

// Describe returns the memoized composite for name, building it on first use.
func (s *Store) Describe(name string) (*Composite, error) {
	v, ok := s.entries.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, name)
	}
	return v.(*entry).get()
}

// Property returns the descriptor of typeName.name.
func (s *Store) Property(typeName, name string) (*Property, error) {
	c, err := s.Describe(typeName)
	if err != nil {
		return nil, err
	}
	return c.Property(name)
}

// Types returns the registered type names, sorted.
func (s *Store) Types() []string {
	var names []string
	s.entries.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}
