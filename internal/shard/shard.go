// Package shard provides stripe selection for the striped identity cache.
package shard

import (
	"fmt"
	"hash/fnv"
)

// MaxShards is the upper bound on stripes per index.
const MaxShards = 256

// Clamp bounds n to [1, MaxShards].
func Clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxShards {
		return MaxShards
	}
	return n
}

// For returns the stripe for a key string.
// With numShards=1, every key goes to stripe 0.
// With numShards>1, keys are distributed by FNV-1a hash.
func For(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}

// KeyString renders a (name, value) cache key as a stable string for hashing.
// The value's Go type is included so 7 and "7" land on independent stripes.
func KeyString(name string, value any) string {
	return fmt.Sprintf("%s#%T#%v", name, value, value)
}
