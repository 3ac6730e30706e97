// Package cache provides the multi-key identity cache.
//
// Each entity type owns an independent [Index]. An index maps (key name, key
// value) pairs to a canonical instance, and several pairs may point at the same
// instance: after
//
//	idx.Register(user, cache.Key{Name: "id", Value: 9}, cache.Key{Name: "email", Value: "a@b.com"})
//
// a lookup by either key returns the identical pointer.
//
// # Eviction policy
//
// The index keeps a reverse map from instance to its registered keys so that
// entries never go stale silently:
//
//   - Overwriting a key moves it to the new instance and drops it from the
//     displaced instance's key set. The displaced instance keeps its other keys.
//   - Registering an instance under a new value for a key name it already holds
//     removes the old (name, value) entry.
//   - Aliases added with [Index.Alias] sit next to the instance's own keys and
//     never displace them, nor are they displaced by a later [Index.Register].
//   - [Index.Evict] removes every key of an instance.
//
// # Concurrency
//
// An index is split into stripes selected by FNV hash of the key. Lookups take
// a single stripe read lock. Writers serialize on a per-index mutex so the
// reverse map and the stripes stay consistent.
package cache

import (
	"errors"
	"reflect"
	"sync"

	"github.com/jacentio/canon/internal/shard"
)

var (
	// ErrUncomparableKey is returned when a key value cannot be used as a map key.
	ErrUncomparableKey = errors.New("canon(cache): key value is not comparable")

	// ErrEmptyKeyName is returned when a key has no name.
	ErrEmptyKeyName = errors.New("canon(cache): empty key name")
)

// Key is a (key name, key value) pair. Value must be comparable.
type Key struct {
	Name  string
	Value any
}

func (k Key) valid() error {
	if k.Name == "" {
		return ErrEmptyKeyName
	}
	if k.Value != nil && !reflect.TypeOf(k.Value).Comparable() {
		return ErrUncomparableKey
	}
	return nil
}

// stripe is one lock-protected slice of an index.
type stripe[E comparable] struct {
	mu      sync.RWMutex
	entries map[Key]E
}

// Index is the identity map for a single entity type.
type Index[E comparable] struct {
	typeName string
	stripes  []*stripe[E]

	// mu serializes writers and guards owners. The flag marks aliases.
	mu     sync.Mutex
	owners map[E]map[Key]bool
}

// NewIndex creates an empty index with numShards stripes (clamped to 1..256).
func NewIndex[E comparable](typeName string, numShards int) *Index[E] {
	n := shard.Clamp(numShards)
	stripes := make([]*stripe[E], n)
	for i := range stripes {
		stripes[i] = &stripe[E]{entries: make(map[Key]E)}
	}
	return &Index[E]{
		typeName: typeName,
		stripes:  stripes,
		owners:   make(map[E]map[Key]bool),
	}
}

// TypeName returns the entity type this index belongs to.
func (idx *Index[E]) TypeName() string {
	return idx.typeName
}

func (idx *Index[E]) stripeFor(k Key) *stripe[E] {
	return idx.stripes[shard.For(shard.KeyString(k.Name, k.Value), len(idx.stripes))]
}

// Register inserts or overwrites index entries pointing at e. Each key
// replaces e's previous value for the same key name.
// Either every key is registered or, if any key is invalid, none is.
func (idx *Index[E]) Register(e E, keys ...Key) error {
	return idx.insert(e, false, keys)
}

// Alias inserts or overwrites extra entries pointing at e. Unlike Register it
// keeps e's other values for the same key names, so a lookup alias such as
// ("id", "9") can live next to the instance's own ("id", 9).
func (idx *Index[E]) Alias(e E, keys ...Key) error {
	return idx.insert(e, true, keys)
}

func (idx *Index[E]) insert(e E, alias bool, keys []Key) error {
	for _, k := range keys {
		if err := k.valid(); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	owned := idx.owners[e]
	if owned == nil {
		owned = make(map[Key]bool, len(keys))
		idx.owners[e] = owned
	}

	for _, k := range keys {
		if !alias {
			for old, isAlias := range owned {
				if !isAlias && old.Name == k.Name && old != k {
					idx.deleteIfOwner(old, e)
					delete(owned, old)
				}
			}
		}

		s := idx.stripeFor(k)
		s.mu.Lock()
		prev, existed := s.entries[k]
		s.entries[k] = e
		s.mu.Unlock()

		if existed && prev != e {
			if prevKeys := idx.owners[prev]; prevKeys != nil {
				delete(prevKeys, k)
				if len(prevKeys) == 0 {
					delete(idx.owners, prev)
				}
			}
		}
		if isAlias, ok := owned[k]; ok && !isAlias {
			continue
		}
		owned[k] = alias
	}

	if len(owned) == 0 {
		delete(idx.owners, e)
	}
	return nil
}

// deleteIfOwner removes k only while it still points at e. Caller holds idx.mu.
func (idx *Index[E]) deleteIfOwner(k Key, e E) {
	s := idx.stripeFor(k)
	s.mu.Lock()
	if cur, ok := s.entries[k]; ok && cur == e {
		delete(s.entries, k)
	}
	s.mu.Unlock()
}

// Lookup returns the instance registered under (name, value).
// Uncomparable values never match.
func (idx *Index[E]) Lookup(name string, value any) (E, bool) {
	var zero E
	k := Key{Name: name, Value: value}
	if k.valid() != nil {
		return zero, false
	}
	s := idx.stripeFor(k)
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	return e, ok
}

// Evict removes every key registered for e and reports how many were removed.
func (idx *Index[E]) Evict(e E) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	owned := idx.owners[e]
	for k := range owned {
		idx.deleteIfOwner(k, e)
	}
	delete(idx.owners, e)
	return len(owned)
}

// EvictKey removes a single key and returns the instance it pointed at.
func (idx *Index[E]) EvictKey(k Key) (E, bool) {
	var zero E
	if k.valid() != nil {
		return zero, false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.stripeFor(k)
	s.mu.Lock()
	e, ok := s.entries[k]
	if ok {
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if !ok {
		return zero, false
	}
	if owned := idx.owners[e]; owned != nil {
		delete(owned, k)
		if len(owned) == 0 {
			delete(idx.owners, e)
		}
	}
	return e, true
}

// Keys returns a snapshot of the keys registered for e (order is unspecified).
func (idx *Index[E]) Keys(e E) []Key {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	owned := idx.owners[e]
	keys := make([]Key, 0, len(owned))
	for k := range owned {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of (name, value) entries in the index.
func (idx *Index[E]) Len() int {
	n := 0
	for _, s := range idx.stripes {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Instances returns the number of distinct instances in the index.
func (idx *Index[E]) Instances() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.owners)
}

// Reset clears all entries.
func (idx *Index[E]) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, s := range idx.stripes {
		s.mu.Lock()
		s.entries = make(map[Key]E)
		s.mu.Unlock()
	}
	idx.owners = make(map[E]map[Key]bool)
}
