package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	bolt "go.etcd.io/bbolt"
)

const (
	metaVersionKey = "version"
	indexSeparator = "\x00"
)

// Structured is the adapter over a transactional document store (bbolt)
// with a primary key path and secondary indexes declared at configuration
// time. Every operation runs in its own transaction; migrations run
// inside the single upgrade transaction opened by Open, driven by the
// version record the store itself keeps.
//
// The database identity is immutable, so Rename is not supported, and
// the store has no positional key order, so Key(index) is not supported.
type Structured struct {
	guard      openGuard
	cfgMu      sync.Mutex
	db         *bolt.DB
	ownsDB     bool
	cfg        Config
	ns         namespace
	logger     *slog.Logger
	migrations []migration
}

// NewStructured is the Factory for the structured adapter. It requires a
// namespace name and store plus either an injected *bolt.DB or a Path to
// open one at.
func NewStructured(cfg Config) (Adapter, error) {
	if cfg.Name == "" || cfg.Store == "" {
		return nil, fmt.Errorf("%w: structured adapter requires a name and store", ErrInvalidConfig)
	}
	if cfg.DB == nil && cfg.Path == "" {
		return nil, fmt.Errorf("%w: structured adapter requires a DB handle or path", ErrInvalidConfig)
	}

	a := &Structured{
		db:     cfg.DB,
		cfg:    cfg,
		ns:     namespace{name: cfg.Name, store: cfg.Store, version: cfg.Version},
		logger: cfg.logger(),
	}
	if a.db == nil {
		db, err := bolt.Open(cfg.Path, 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open bbolt database: %w", err)
		}
		a.db = db
		a.ownsDB = true
	}
	return a, nil
}

func (a *Structured) docBucket() []byte {
	return []byte(a.ns.name + ":" + a.ns.store)
}

func (a *Structured) metaBucket() []byte {
	return []byte(a.ns.name + ":" + a.ns.store + ":_meta")
}

func (a *Structured) indexBucket(field string) []byte {
	return []byte(a.ns.name + ":" + a.ns.store + ":_idx:" + field)
}

// Open creates the schema for a brand-new store or, when the store
// reports an older version, runs the migration chain inside the upgrade
// transaction before recording the configured version.
func (a *Structured) Open(ctx context.Context) error {
	first, done := a.guard.begin()
	if !first {
		return a.guard.wait(ctx, done)
	}

	err := a.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(a.metaBucket())
		if err != nil {
			return err
		}
		if err := a.ensureSchema(tx); err != nil {
			return err
		}

		stored := meta.Get([]byte(metaVersionKey))
		if stored == nil {
			// Brand-new database: schema created above, just record the
			// configured version.
			return meta.Put([]byte(metaVersionKey), []byte(a.ns.version))
		}

		storedNumber := VersionToNumber(string(stored))
		targetNumber := VersionToNumber(a.ns.version)
		if storedNumber >= targetNumber {
			return nil
		}

		// Callbacks operate on the same transaction, mirroring the
		// continue-on-error policy of the persistent adapter.
		view := &structuredTx{adapter: a, tx: tx}
		for _, m := range resolveChain(a.migrations, storedNumber, targetNumber) {
			if err := m.fn(ctx, view); err != nil {
				a.logger.Warn("migration callback failed",
					"store", a.ns.store,
					"name", a.ns.name,
					"from", m.oldVersion,
					"to", m.newVersion,
					"error", err)
			}
		}
		return meta.Put([]byte(metaVersionKey), []byte(a.ns.version))
	})
	a.guard.finish(err)
	return err
}

func (a *Structured) ensureSchema(tx *bolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists(a.docBucket()); err != nil {
		return err
	}
	for _, field := range a.cfg.Indexes {
		if _, err := tx.CreateBucketIfNotExists(a.indexBucket(field)); err != nil {
			return err
		}
	}
	return nil
}

// Upgrade registers a migration record, executed by Open.
func (a *Structured) Upgrade(oldVersion, newVersion string, fn MigrationFunc) error {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	a.migrations = append(a.migrations, migration{
		oldVersion: oldVersion,
		newVersion: newVersion,
		oldNumber:  VersionToNumber(oldVersion),
		newNumber:  VersionToNumber(newVersion),
		fn:         fn,
	})
	return nil
}

func (a *Structured) Set(ctx context.Context, key string, value any) (KeyValue, error) {
	var kv KeyValue
	err := a.db.Update(func(tx *bolt.Tx) error {
		var err error
		kv, err = a.setInTx(tx, key, value)
		return err
	})
	return kv, err
}

func (a *Structured) Update(ctx context.Context, key string, value any) (KeyValue, error) {
	var kv KeyValue
	err := a.db.Update(func(tx *bolt.Tx) error {
		var err error
		kv, err = a.updateInTx(tx, key, value)
		return err
	})
	return kv, err
}

func (a *Structured) Get(ctx context.Context, key string) (any, error) {
	var value any
	err := a.db.View(func(tx *bolt.Tx) error {
		var err error
		value, err = a.getInTx(tx, key)
		return err
	})
	return value, err
}

func (a *Structured) GetAll(ctx context.Context) ([]any, error) {
	var values []any
	err := a.db.View(func(tx *bolt.Tx) error {
		var err error
		values, err = a.getAllInTx(tx)
		return err
	})
	return values, err
}

func (a *Structured) Contains(ctx context.Context, key string) error {
	return a.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(a.docBucket())
		if bkt == nil || bkt.Get([]byte(key)) == nil {
			return notFound(key)
		}
		return nil
	})
}

func (a *Structured) Keys(ctx context.Context, full bool) ([]string, error) {
	var keys []string
	err := a.db.View(func(tx *bolt.Tx) error {
		keys = a.keysInTx(tx, full)
		return nil
	})
	return keys, err
}

// Key is not supported: the store has no positional key concept.
func (a *Structured) Key(ctx context.Context, index int, full bool) (string, error) {
	return "", notSupported("key")
}

// Rename is not supported: the database identity is immutable.
func (a *Structured) Rename(ctx context.Context, name string) error {
	return notSupported("rename")
}

func (a *Structured) Remove(ctx context.Context, key string) (KeyValue, error) {
	var kv KeyValue
	err := a.db.Update(func(tx *bolt.Tx) error {
		var err error
		kv, err = a.removeInTx(tx, key)
		return err
	})
	return kv, err
}

func (a *Structured) Clear(ctx context.Context) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return a.clearInTx(tx)
	})
}

func (a *Structured) Configure(cfg Config) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	a.cfg.merge(cfg)
	a.ns = namespace{name: a.cfg.Name, store: a.cfg.Store, version: a.cfg.Version}
}

// GetBy returns every document whose indexed field equals value. The
// index must have been declared in Config.Indexes.
func (a *Structured) GetBy(ctx context.Context, field, value string) ([]any, error) {
	var values []any
	err := a.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(a.indexBucket(field))
		if idx == nil {
			return fmt.Errorf("%w: no index declared for field %q", ErrInvalidConfig, field)
		}
		docs := tx.Bucket(a.docBucket())
		if docs == nil {
			return nil
		}

		prefix := []byte(value + indexSeparator)
		c := idx.Cursor()
		for k, docKey := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, docKey = c.Next() {
			data := docs.Get(docKey)
			if data == nil {
				continue
			}
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	return values, err
}

// Close releases the database when the adapter opened it from a Path.
// Injected handles stay open; they may be shared with other adapters.
func (a *Structured) Close() error {
	if a.ownsDB {
		return a.db.Close()
	}
	return nil
}

// --- transaction-scoped operation bodies ---

func (a *Structured) setInTx(tx *bolt.Tx, key string, value any) (KeyValue, error) {
	bkt, err := tx.CreateBucketIfNotExists(a.docBucket())
	if err != nil {
		return KeyValue{}, err
	}

	if key == "" {
		seq, err := bkt.NextSequence()
		if err != nil {
			return KeyValue{}, err
		}
		key = strconv.FormatUint(seq, 10)
	}

	doc := value
	if a.cfg.KeyPath != "" {
		if m, ok := toComposite(value); ok {
			withKey := make(map[string]any, len(m)+1)
			for k, v := range m {
				withKey[k] = v
			}
			withKey[a.cfg.KeyPath] = key
			doc = withKey
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return KeyValue{}, err
	}

	if old := bkt.Get([]byte(key)); old != nil {
		if err := a.dropIndexEntries(tx, key, old); err != nil {
			return KeyValue{}, err
		}
	}
	if err := bkt.Put([]byte(key), data); err != nil {
		return KeyValue{}, err
	}
	if err := a.addIndexEntries(tx, key, doc); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: doc}, nil
}

func (a *Structured) updateInTx(tx *bolt.Tx, key string, value any) (KeyValue, error) {
	existing, err := a.getInTx(tx, key)
	if err != nil {
		// An unreadable document aborts the transaction; only an absent
		// key falls through to a plain Set.
		if !errors.Is(err, ErrNotFound) {
			return KeyValue{}, err
		}
		return a.setInTx(tx, key, value)
	}
	return a.setInTx(tx, key, mergeValues(existing, value))
}

func (a *Structured) getInTx(tx *bolt.Tx, key string) (any, error) {
	bkt := tx.Bucket(a.docBucket())
	if bkt == nil {
		return nil, notFound(key)
	}
	data := bkt.Get([]byte(key))
	if data == nil {
		return nil, notFound(key)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// getAllInTx returns every document with the primary key field stripped.
func (a *Structured) getAllInTx(tx *bolt.Tx) ([]any, error) {
	values := make([]any, 0)
	bkt := tx.Bucket(a.docBucket())
	if bkt == nil {
		return values, nil
	}

	err := bkt.ForEach(func(_, data []byte) error {
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		if a.cfg.KeyPath != "" {
			if m, ok := value.(map[string]any); ok {
				stripped := make(map[string]any, len(m))
				for k, v := range m {
					if k != a.cfg.KeyPath {
						stripped[k] = v
					}
				}
				value = stripped
			}
		}
		values = append(values, value)
		return nil
	})
	return values, err
}

func (a *Structured) keysInTx(tx *bolt.Tx, full bool) []string {
	keys := make([]string, 0)
	bkt := tx.Bucket(a.docBucket())
	if bkt == nil {
		return keys
	}
	bkt.ForEach(func(k, _ []byte) error {
		if full {
			keys = append(keys, a.ns.apply(string(k)))
		} else {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys
}

func (a *Structured) removeInTx(tx *bolt.Tx, key string) (KeyValue, error) {
	prior, err := a.getInTx(tx, key)
	if err != nil {
		prior = nil
	}

	bkt := tx.Bucket(a.docBucket())
	if bkt == nil {
		return KeyValue{Key: key}, nil
	}
	if old := bkt.Get([]byte(key)); old != nil {
		if err := a.dropIndexEntries(tx, key, old); err != nil {
			return KeyValue{}, err
		}
	}
	if err := bkt.Delete([]byte(key)); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: prior}, nil
}

func (a *Structured) clearInTx(tx *bolt.Tx) error {
	if tx.Bucket(a.docBucket()) != nil {
		if err := tx.DeleteBucket(a.docBucket()); err != nil {
			return err
		}
	}
	for _, field := range a.cfg.Indexes {
		if tx.Bucket(a.indexBucket(field)) != nil {
			if err := tx.DeleteBucket(a.indexBucket(field)); err != nil {
				return err
			}
		}
	}
	return a.ensureSchema(tx)
}

// addIndexEntries records doc under every declared index whose field it
// carries. Entries are "fieldValue\x00docKey" -> docKey so one field
// value can point at many documents.
func (a *Structured) addIndexEntries(tx *bolt.Tx, key string, doc any) error {
	m, ok := toComposite(doc)
	if !ok {
		return nil
	}
	for _, field := range a.cfg.Indexes {
		v, present := m[field]
		if !present {
			continue
		}
		idx, err := tx.CreateBucketIfNotExists(a.indexBucket(field))
		if err != nil {
			return err
		}
		entry := fmt.Sprintf("%v", v) + indexSeparator + key
		if err := idx.Put([]byte(entry), []byte(key)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Structured) dropIndexEntries(tx *bolt.Tx, key string, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	m, ok := toComposite(doc)
	if !ok {
		return nil
	}
	for _, field := range a.cfg.Indexes {
		v, present := m[field]
		if !present {
			continue
		}
		idx := tx.Bucket(a.indexBucket(field))
		if idx == nil {
			continue
		}
		entry := fmt.Sprintf("%v", v) + indexSeparator + key
		if err := idx.Delete([]byte(entry)); err != nil {
			return err
		}
	}
	return nil
}

// structuredTx exposes the adapter's operations bound to the upgrade
// transaction, so migration callbacks see and mutate the exact state the
// version change is operating on.
type structuredTx struct {
	adapter *Structured
	tx      *bolt.Tx
}

func (t *structuredTx) Open(ctx context.Context) error { return nil }

func (t *structuredTx) Set(ctx context.Context, key string, value any) (KeyValue, error) {
	return t.adapter.setInTx(t.tx, key, value)
}

func (t *structuredTx) Update(ctx context.Context, key string, value any) (KeyValue, error) {
	return t.adapter.updateInTx(t.tx, key, value)
}

func (t *structuredTx) Get(ctx context.Context, key string) (any, error) {
	return t.adapter.getInTx(t.tx, key)
}

func (t *structuredTx) GetAll(ctx context.Context) ([]any, error) {
	return t.adapter.getAllInTx(t.tx)
}

func (t *structuredTx) Contains(ctx context.Context, key string) error {
	_, err := t.adapter.getInTx(t.tx, key)
	return err
}

func (t *structuredTx) Upgrade(string, string, MigrationFunc) error {
	return notSupported("upgrade during migration")
}

func (t *structuredTx) Rename(ctx context.Context, name string) error {
	return notSupported("rename")
}

func (t *structuredTx) Key(ctx context.Context, index int, full bool) (string, error) {
	return "", notSupported("key")
}

func (t *structuredTx) Keys(ctx context.Context, full bool) ([]string, error) {
	return t.adapter.keysInTx(t.tx, full), nil
}

func (t *structuredTx) Remove(ctx context.Context, key string) (KeyValue, error) {
	return t.adapter.removeInTx(t.tx, key)
}

func (t *structuredTx) Clear(ctx context.Context) error {
	return t.adapter.clearInTx(t.tx)
}

func (t *structuredTx) Configure(cfg Config) {}
