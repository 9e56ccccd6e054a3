package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type openState int

const (
	stateUnopened openState = iota
	stateOpening
	stateOpen
)

// openAttempt is one in-flight or settled Open. Each attempt carries
// its own result: waiters read err only after done is closed, so a
// retry starting a fresh attempt can never clobber the error a waiter
// of the failed attempt is about to observe.
type openAttempt struct {
	done chan struct{}
	err  error
}

// openGuard is the explicit state machine behind single-flight Open:
// {unopened, opening, open}. Concurrent callers before the first Open
// resolves wait on the same in-flight attempt; once open, Open is a
// no-op fast path. A failed open returns the adapter to unopened so a
// later call can retry.
type openGuard struct {
	mu      sync.Mutex
	state   openState
	attempt *openAttempt
}

// begin reports whether the caller should perform the open. When false,
// the caller must wait on the returned attempt instead.
func (g *openGuard) begin() (first bool, pending *openAttempt) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case stateOpen:
		return false, openDone
	case stateOpening:
		return false, g.attempt
	}

	g.state = stateOpening
	g.attempt = &openAttempt{done: make(chan struct{})}
	return true, nil
}

func (g *openGuard) finish(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.attempt.err = err
	if err != nil {
		g.state = stateUnopened
	} else {
		g.state = stateOpen
	}
	close(g.attempt.done)
}

// wait blocks until the attempt completes or ctx is done.
func (g *openGuard) wait(ctx context.Context, pending *openAttempt) error {
	select {
	case <-pending.done:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openDone is the settled attempt handed to callers once the adapter is
// already open.
var openDone = func() *openAttempt {
	a := &openAttempt{done: make(chan struct{})}
	close(a.done)
	return a
}()

// kvcore implements the namespace-prefixed capability set over a Backend
// handle. The persistent and ephemeral adapters both embed it and differ
// only in Open and Upgrade.
type kvcore struct {
	guard   openGuard
	cfgMu   sync.Mutex
	backend Backend
	ns      namespace
	cfg     Config
}

func newKVCore(cfg Config, defaultStore string) kvcore {
	if cfg.Store == "" {
		cfg.Store = defaultStore
	}
	if cfg.Name == "" {
		cfg.Name = "stash"
	}
	backend := cfg.Backend
	if backend == nil {
		backend = NewMemoryBackend()
		cfg.Backend = backend
	}
	return kvcore{
		backend: backend,
		ns:      namespace{name: cfg.Name, store: cfg.Store, version: cfg.Version},
		cfg:     cfg,
	}
}

// encodeValue serializes a value for the backend. Strings are stored raw,
// everything else as JSON, so numbers persist as-is.
func encodeValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeValue deserializes a raw backend string, falling back to the raw
// string when it is not valid JSON.
func decodeValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

// mergeValues shallow-merges incoming over existing when both are
// composite; otherwise incoming replaces existing.
func mergeValues(existing, incoming any) any {
	em, eok := toComposite(existing)
	im, iok := toComposite(incoming)
	if !eok || !iok {
		return incoming
	}

	merged := make(map[string]any, len(em)+len(im))
	for k, v := range em {
		merged[k] = v
	}
	for k, v := range im {
		merged[k] = v
	}
	return merged
}

// toComposite reports whether a value is object-like, normalizing structs
// through a JSON round trip.
func toComposite(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	data, err := json.Marshal(value)
	if err != nil || len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

func (c *kvcore) Set(_ context.Context, key string, value any) (KeyValue, error) {
	if key == "" {
		key = uuid.NewString()
	}
	raw, err := encodeValue(value)
	if err != nil {
		return KeyValue{}, err
	}
	if err := c.backend.Set(c.ns.apply(key), raw); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: value}, nil
}

func (c *kvcore) Update(ctx context.Context, key string, value any) (KeyValue, error) {
	existing, err := c.Get(ctx, key)
	if err != nil {
		// Only an absent key falls through to a plain Set; a failing
		// backend read must not be overwritten blindly.
		if !errors.Is(err, ErrNotFound) {
			return KeyValue{}, err
		}
		return c.Set(ctx, key, value)
	}
	return c.Set(ctx, key, mergeValues(existing, value))
}

func (c *kvcore) Get(_ context.Context, key string) (any, error) {
	raw, ok, err := c.backend.Get(c.ns.apply(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(key)
	}
	return decodeValue(raw), nil
}

func (c *kvcore) GetAll(ctx context.Context) ([]any, error) {
	keys, err := c.Keys(ctx, true)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(keys))
	for _, full := range keys {
		raw, ok, err := c.backend.Get(full)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		values = append(values, decodeValue(raw))
	}
	return values, nil
}

// Contains is a keys-membership test, not a direct backend query, so the
// semantics match backends without native existence checks.
func (c *kvcore) Contains(ctx context.Context, key string) error {
	keys, err := c.Keys(ctx, false)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return notFound(key)
}

func (c *kvcore) Keys(_ context.Context, full bool) ([]string, error) {
	raws, err := c.backend.Keys()
	if err != nil {
		return nil, err
	}

	prefix := c.ns.prefix()
	keys := make([]string, 0)
	for _, raw := range raws {
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		if full {
			keys = append(keys, raw)
		} else {
			keys = append(keys, c.ns.strip(raw))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *kvcore) Key(ctx context.Context, index int, full bool) (string, error) {
	keys, err := c.Keys(ctx, full)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(keys) {
		return "", fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return keys[index], nil
}

func (c *kvcore) Remove(ctx context.Context, key string) (KeyValue, error) {
	prior, err := c.Get(ctx, key)
	if err != nil {
		prior = nil
	}
	if err := c.backend.Remove(c.ns.apply(key)); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: prior}, nil
}

func (c *kvcore) Clear(ctx context.Context) error {
	keys, err := c.Keys(ctx, true)
	if err != nil {
		return err
	}
	for _, full := range keys {
		if err := c.backend.Remove(full); err != nil {
			return err
		}
	}
	return nil
}

// Rename migrates every key in the namespace to the prefix derived from
// the new name, then removes the old keys.
func (c *kvcore) Rename(ctx context.Context, name string) error {
	keys, err := c.Keys(ctx, true)
	if err != nil {
		return err
	}

	next := c.ns.withName(name)
	for _, full := range keys {
		raw, ok, err := c.backend.Get(full)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := c.backend.Set(next.apply(c.ns.strip(full)), raw); err != nil {
			return err
		}
		if err := c.backend.Remove(full); err != nil {
			return err
		}
	}

	c.cfgMu.Lock()
	c.ns = next
	c.cfg.Name = name
	c.cfgMu.Unlock()
	return nil
}

func (c *kvcore) Configure(cfg Config) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	c.cfg.merge(cfg)
	if cfg.Backend != nil {
		c.backend = cfg.Backend
	}
	c.ns = namespace{name: c.cfg.Name, store: c.cfg.Store, version: c.cfg.Version}
}
