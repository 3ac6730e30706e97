// Package config loads resolver and data source settings from a YAML file
// and CANON_* environment variables.
//
//	shards: 32
//	source: dynamo
//	dynamo:
//	  region: eu-west-1
//	  table_prefix: prod-
//	  tables:
//	    user: prod-accounts
//
// Environment variables override the file with "." replaced by "_", e.g.
// CANON_DYNAMO_TABLE_PREFIX or CANON_REDIS_ADDR. Keys are case-insensitive,
// so type names under "tables" are read lower-cased.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/jacentio/canon/model"
	"github.com/jacentio/canon/source"
	"github.com/jacentio/canon/source/dynamo"
	"github.com/jacentio/canon/source/memory"
	"github.com/jacentio/canon/source/redissource"
	"github.com/jacentio/canon/source/sqlsource"
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "CANON"

// Source kinds.
const (
	SourceMemory = "memory"
	SourceDynamo = "dynamo"
	SourceSQL    = "sql"
	SourceRedis  = "redis"
)

// ErrUnknownSource is returned by Open for an unsupported source kind.
var ErrUnknownSource = errors.New("canon(config): unknown source")

// File is the decoded configuration.
type File struct {
	// Shards is the resolver's identity-cache stripe count.
	Shards int `mapstructure:"shards"`

	// Source selects the default data source: memory, dynamo, sql or redis.
	Source string `mapstructure:"source"`

	Dynamo Dynamo `mapstructure:"dynamo"`
	SQL    SQL    `mapstructure:"sql"`
	Redis  Redis  `mapstructure:"redis"`
}

// Dynamo configures the DynamoDB source.
type Dynamo struct {
	Region      string            `mapstructure:"region"`
	Profile     string            `mapstructure:"profile"`
	TablePrefix string            `mapstructure:"table_prefix"`
	IDAttribute string            `mapstructure:"id_attribute"`
	Tables      map[string]string `mapstructure:"tables"`
}

// SQL configures the SQL source.
type SQL struct {
	Driver        string            `mapstructure:"driver"`
	DSN           string            `mapstructure:"dsn"`
	TablePrefix   string            `mapstructure:"table_prefix"`
	IDColumn      string            `mapstructure:"id_column"`
	AutoIncrement bool              `mapstructure:"auto_increment"`
	Placeholder   string            `mapstructure:"placeholder"`
	Tables        map[string]string `mapstructure:"tables"`
}

// Redis configures the Redis source.
type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func setDefaults(v *viper.Viper) {
	d := model.DefaultConfig()
	v.SetDefault("shards", d.Shards)
	v.SetDefault("source", SourceMemory)

	v.SetDefault("dynamo.region", "")
	v.SetDefault("dynamo.profile", "")
	v.SetDefault("dynamo.table_prefix", "")
	v.SetDefault("dynamo.id_attribute", dynamo.DefaultConfig().IDAttribute)
	v.SetDefault("dynamo.tables", map[string]string{})

	s := sqlsource.DefaultConfig()
	v.SetDefault("sql.driver", "sqlite")
	v.SetDefault("sql.dsn", "canon.db")
	v.SetDefault("sql.table_prefix", s.TablePrefix)
	v.SetDefault("sql.id_column", s.IDColumn)
	v.SetDefault("sql.auto_increment", s.AutoIncrement)
	v.SetDefault("sql.placeholder", s.Placeholder)
	v.SetDefault("sql.tables", map[string]string{})

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", redissource.DefaultConfig().KeyPrefix)
}

// Load reads the configuration at path. An empty path loads defaults and
// environment overrides only; a named file must exist.
func Load(path string) (File, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return File{}, fmt.Errorf("read config: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("decode config: %w", err)
	}
	f.Source = strings.ToLower(strings.TrimSpace(f.Source))
	return f, nil
}

// Model returns the resolver configuration.
func (f File) Model(logger *slog.Logger) model.Config {
	c := model.DefaultConfig()
	c.Shards = f.Shards
	c.Logger = logger
	return c
}

// DynamoConfig returns the DynamoDB source configuration.
func (f File) DynamoConfig() dynamo.Config {
	c := dynamo.DefaultConfig()
	c.TablePrefix = f.Dynamo.TablePrefix
	if f.Dynamo.IDAttribute != "" {
		c.IDAttribute = f.Dynamo.IDAttribute
	}
	for k, t := range f.Dynamo.Tables {
		c.Tables[k] = t
	}
	return c
}

// SQLConfig returns the SQL source configuration.
func (f File) SQLConfig() sqlsource.Config {
	c := sqlsource.DefaultConfig()
	c.TablePrefix = f.SQL.TablePrefix
	c.AutoIncrement = f.SQL.AutoIncrement
	if f.SQL.IDColumn != "" {
		c.IDColumn = f.SQL.IDColumn
	}
	if f.SQL.Placeholder != "" {
		c.Placeholder = f.SQL.Placeholder
	}
	if len(f.SQL.Tables) > 0 {
		c.Tables = f.SQL.Tables
	}
	return c
}

// RedisConfig returns the Redis source configuration.
func (f File) RedisConfig() redissource.Config {
	c := redissource.DefaultConfig()
	if f.Redis.KeyPrefix != "" {
		c.KeyPrefix = f.Redis.KeyPrefix
	}
	return c
}

// RedisOptions returns client options for the configured server.
func (f File) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     f.Redis.Addr,
		Password: f.Redis.Password,
		DB:       f.Redis.DB,
	}
}

// Open connects the configured source. The returned close function releases
// any connection it holds and is never nil.
func (f File) Open(ctx context.Context) (source.Source, func() error, error) {
	noop := func() error { return nil }

	switch f.Source {
	case "", SourceMemory:
		return memory.New(memory.DefaultConfig()), noop, nil

	case SourceDynamo:
		var opts []func(*awsconfig.LoadOptions) error
		if f.Dynamo.Region != "" {
			opts = append(opts, awsconfig.WithRegion(f.Dynamo.Region))
		}
		if f.Dynamo.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(f.Dynamo.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		return dynamo.New(dynamodb.NewFromConfig(cfg), f.DynamoConfig()), noop, nil

	case SourceSQL:
		db, err := sql.Open(f.SQL.Driver, f.SQL.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", f.SQL.Driver, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping %s: %w", f.SQL.Driver, err)
		}
		return sqlsource.New(db, f.SQLConfig()), db.Close, nil

	case SourceRedis:
		client := redis.NewClient(f.RedisOptions())
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", f.Redis.Addr, err)
		}
		return redissource.New(client, f.RedisConfig()), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, f.Source)
	}
}
