package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var boltBackendBucket = []byte("stash")

// BoltBackend is a file-backed Backend over a bbolt database. All entries
// live in a single bucket; every call runs in its own transaction.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) the bbolt database at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBackendBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Get(key string) (string, bool, error) {
	var value string
	var found bool

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBackendBucket).Get([]byte(key))
		if v != nil {
			// Copy: the slice is only valid during the transaction.
			value = string(v)
			found = true
		}
		return nil
	})
	return value, found, err
}

func (b *BoltBackend) Set(key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBackendBucket).Put([]byte(key), []byte(value))
	})
}

func (b *BoltBackend) Remove(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBackendBucket).Delete([]byte(key))
	})
}

func (b *BoltBackend) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBackendBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(boltBackendBucket)
		return err
	})
}

func (b *BoltBackend) Keys() ([]string, error) {
	keys := make([]string, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBackendBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Close closes the underlying database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
