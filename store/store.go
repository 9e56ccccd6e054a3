// Package store provides a versioned, namespaced key-value storage
// abstraction with pluggable backends.
//
// Application code talks to a [Space], which delegates to exactly one
// [Adapter]. Four adapters ship with the package:
//
//   - [NewPersistent]: a namespaced layer over a synchronous [Backend]
//     handle (in-memory, bbolt file, or PostgreSQL), with version
//     detection and migration at open time.
//   - [NewEphemeral]: the same operational surface bound to a
//     session-scoped backend; session data is never migrated.
//   - [NewStructured]: a transactional document store over bbolt with a
//     primary key path and secondary indexes; migrations run inside the
//     store's own upgrade transaction.
//   - [NewRemote]: a client for a namespaced HTTP endpoint; versioning is
//     a server concern.
//
// Adapters share one capability set. Operations a backend cannot express
// fail with [ErrNotSupported] so callers can branch on capability
// explicitly.
package store

import (
	"context"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/quietstack/go-stash/httpx"
)

// KeyValue is the result of a mutating operation: the key the adapter
// persisted under (possibly generated) and the value as persisted, before
// any get-transforms. Space callbacks receive it verbatim.
type KeyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// MigrationFunc upgrades data between two registered versions. It receives
// an adapter that is already bound to the target version; for the
// structured adapter the ops run inside the upgrade transaction.
type MigrationFunc func(ctx context.Context, a Adapter) error

// Adapter is the capability set every storage backend implements.
//
// Not every backend supports every operation: Rename and Key are
// meaningless for the structured and remote adapters, and Upgrade is a
// server concern for the remote adapter. Those return [ErrNotSupported].
type Adapter interface {
	// Open prepares the adapter for use, running any pending version
	// migration. It is idempotent and single-flight: concurrent callers
	// share one in-flight open instead of repeating the migration scan.
	Open(ctx context.Context) error

	// Set persists value at key, overwriting any existing value. An empty
	// key asks the adapter to generate one.
	Set(ctx context.Context, key string, value any) (KeyValue, error)

	// Update shallow-merges value over the existing value when both are
	// composite (object-like); otherwise it behaves like Set. This is a
	// read-modify-write with no compare-and-swap: the last writer wins.
	Update(ctx context.Context, key string, value any) (KeyValue, error)

	// Get returns the value at key, or an error matching [ErrNotFound].
	Get(ctx context.Context, key string) (any, error)

	// GetAll returns every value in the namespace.
	GetAll(ctx context.Context) ([]any, error)

	// Contains returns nil if key is present and an [ErrNotFound] error
	// otherwise.
	Contains(ctx context.Context, key string) error

	// Upgrade registers a migration between two versions. Nothing executes
	// until Open runs; registering after Open has completed has no effect
	// on already-migrated data.
	Upgrade(oldVersion, newVersion string, fn MigrationFunc) error

	// Rename moves every key in the namespace under a new name and removes
	// the old keys.
	Rename(ctx context.Context, name string) error

	// Key returns the namespace-local key at index. With full=true the key
	// keeps its namespace prefix.
	Key(ctx context.Context, index int, full bool) (string, error)

	// Keys returns the keys in the namespace, sorted. With full=true the
	// keys keep their namespace prefix.
	Keys(ctx context.Context, full bool) ([]string, error)

	// Remove deletes key and returns the pre-removal value (nil when the
	// key was absent).
	Remove(ctx context.Context, key string) (KeyValue, error)

	// Clear removes every key in the namespace.
	Clear(ctx context.Context) error

	// Configure merges non-zero fields of cfg into the adapter's
	// configuration.
	Configure(cfg Config)
}

// Factory constructs an adapter from a configuration. The four shipped
// factories are [NewPersistent], [NewEphemeral], [NewStructured] and
// [NewRemote].
type Factory func(cfg Config) (Adapter, error)

// Config carries the namespace identity plus adapter-specific settings.
// The zero value is usable for the persistent and ephemeral adapters,
// which fall back to a fresh in-memory backend.
type Config struct {
	// Name, Version and Store identify the namespace. Two spaces with
	// different (Name, Store) never observe each other's keys.
	Name    string
	Version string
	Store   string

	// Backend is the storage handle for the persistent and ephemeral
	// adapters.
	Backend Backend

	// DB or Path locate the bbolt database for the structured adapter.
	// When only Path is set the adapter opens and owns the database.
	DB   *bolt.DB
	Path string

	// KeyPath names the document field holding the primary key; Indexes
	// declares secondary indexes. Structured adapter only.
	KeyPath string
	Indexes []string

	// Endpoint is the base URL for the remote adapter; Client overrides
	// the default HTTP client.
	Endpoint string
	Client   *httpx.Client

	// Logger receives migration warnings and open-time diagnostics.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// merge overlays non-zero fields of other onto c.
func (c *Config) merge(other Config) {
	if other.Name != "" {
		c.Name = other.Name
	}
	if other.Version != "" {
		c.Version = other.Version
	}
	if other.Store != "" {
		c.Store = other.Store
	}
	if other.Backend != nil {
		c.Backend = other.Backend
	}
	if other.DB != nil {
		c.DB = other.DB
	}
	if other.Path != "" {
		c.Path = other.Path
	}
	if other.KeyPath != "" {
		c.KeyPath = other.KeyPath
	}
	if len(other.Indexes) > 0 {
		c.Indexes = other.Indexes
	}
	if other.Endpoint != "" {
		c.Endpoint = other.Endpoint
	}
	if other.Client != nil {
		c.Client = other.Client
	}
	if other.Logger != nil {
		c.Logger = other.Logger
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
