package store

import (
	"sort"
	"sync"
)

// Backend is the synchronous key-value handle the persistent and
// ephemeral adapters bind to. It stores raw strings under raw keys and
// knows nothing about namespaces, versions or serialization.
//
// Backends are injected at adapter construction, so tests can substitute
// [NewMemoryBackend] for a durable store.
type Backend interface {
	// Get returns the raw value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores a raw value, overwriting any existing one.
	Set(key, value string) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(key string) error

	// Clear removes every key in the backend, across all namespaces.
	Clear() error

	// Keys returns every raw key in the backend.
	Keys() ([]string, error)
}

// MemoryBackend is an in-memory Backend, safe for concurrent use. It is
// the default for the persistent and ephemeral adapters and the natural
// stand-in for a session-scoped store.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (b *MemoryBackend) Get(key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.data[key]
	return value, ok, nil
}

func (b *MemoryBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key] = value
	return nil
}

func (b *MemoryBackend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = make(map[string]string)
	return nil
}

func (b *MemoryBackend) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
