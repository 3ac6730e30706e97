package model

import (
	"log/slog"

	"github.com/jacentio/canon/internal/shard"
	"github.com/jacentio/canon/meta"
)

// Config holds configuration for the Resolver.
type Config struct {
	// Shards is the number of lock stripes per identity-cache index.
	// Higher values reduce read contention on hot types.
	// Default: 16
	// Max: 256
	Shards int

	// Meta is the metadata store types are described in. A nil store is
	// replaced by a fresh one owned by the resolver.
	Meta *meta.Store

	// Logger receives build and autosave diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Shards: 16,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	c.Shards = shard.Clamp(c.Shards)
	if c.Meta == nil {
		c.Meta = meta.NewStore()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
