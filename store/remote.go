package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/quietstack/go-stash/httpx"
)

// Remote is the adapter over a namespaced HTTP endpoint. The server owns
// the data's identity and versioning, so Upgrade, Rename and Key(index)
// are not supported; timeouts and cancellation are whatever the HTTP
// client provides.
type Remote struct {
	guard  openGuard
	cfgMu  sync.Mutex
	cfg    Config
	ns     namespace
	client *httpx.Client
	logger *slog.Logger
}

// NewRemote is the Factory for the remote adapter. It requires an
// Endpoint; the Store segment is appended to form the collection URL.
func NewRemote(cfg Config) (Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: remote adapter requires an endpoint", ErrInvalidConfig)
	}
	if cfg.Store == "" {
		cfg.Store = "remote"
	}
	if cfg.Name == "" {
		cfg.Name = "stash"
	}
	client := cfg.Client
	if client == nil {
		client = httpx.New()
	}
	return &Remote{
		cfg:    cfg,
		ns:     namespace{name: cfg.Name, store: cfg.Store, version: cfg.Version},
		client: client,
		logger: cfg.logger(),
	}, nil
}

// collectionURL is "endpoint/store/".
func (a *Remote) collectionURL() string {
	return strings.TrimSuffix(a.cfg.Endpoint, "/") + "/" + url.PathEscape(a.cfg.Store) + "/"
}

func (a *Remote) keyURL(key string) string {
	return a.collectionURL() + url.PathEscape(key)
}

// Open marks the adapter open; readiness is a server concern.
func (a *Remote) Open(ctx context.Context) error {
	first, done := a.guard.begin()
	if !first {
		return a.guard.wait(ctx, done)
	}
	a.guard.finish(nil)
	return nil
}

// check converts a non-success response into the error taxonomy: 404 is
// NotFound for the given key, anything else non-2xx is a TransportError.
func check(resp *httpx.Response, reqURL, key string) error {
	if resp.Success() {
		return nil
	}
	if resp.StatusCode == 404 && key != "" {
		return notFound(key)
	}
	return &TransportError{StatusCode: resp.StatusCode, URL: reqURL}
}

func (a *Remote) Set(ctx context.Context, key string, value any) (KeyValue, error) {
	// Without a key the server assigns one and echoes the stored pair.
	if key == "" {
		reqURL := a.collectionURL()
		resp, err := a.client.Post(ctx, reqURL, value)
		if err != nil {
			return KeyValue{}, err
		}
		if err := check(resp, reqURL, ""); err != nil {
			return KeyValue{}, err
		}
		var kv KeyValue
		if err := resp.JSON(&kv); err != nil {
			return KeyValue{}, err
		}
		return kv, nil
	}

	reqURL := a.keyURL(key)
	resp, err := a.client.Post(ctx, reqURL, value)
	if err != nil {
		return KeyValue{}, err
	}
	if err := check(resp, reqURL, ""); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: value}, nil
}

// Update fetches the current value, merges and PUTs the result. This is a
// read-modify-write with no compare-and-swap.
func (a *Remote) Update(ctx context.Context, key string, value any) (KeyValue, error) {
	existing, err := a.Get(ctx, key)
	merged := value
	switch {
	case err == nil:
		merged = mergeValues(existing, value)
	case errors.Is(err, ErrNotFound):
		// Absent key: the PUT below creates it.
	default:
		return KeyValue{}, err
	}

	reqURL := a.keyURL(key)
	resp, err := a.client.Put(ctx, reqURL, merged)
	if err != nil {
		return KeyValue{}, err
	}
	if err := check(resp, reqURL, ""); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: merged}, nil
}

func (a *Remote) Get(ctx context.Context, key string) (any, error) {
	reqURL := a.keyURL(key)
	resp, err := a.client.Get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if err := check(resp, reqURL, key); err != nil {
		return nil, err
	}
	var value any
	if err := resp.JSON(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func (a *Remote) GetAll(ctx context.Context) ([]any, error) {
	reqURL := a.collectionURL()
	resp, err := a.client.Get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if err := check(resp, reqURL, ""); err != nil {
		return nil, err
	}
	var values []any
	if err := resp.JSON(&values); err != nil {
		return nil, err
	}
	return values, nil
}

func (a *Remote) Contains(ctx context.Context, key string) error {
	keys, err := a.Keys(ctx, false)
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

// Upgrade is not supported: migration is a server concern.
func (a *Remote) Upgrade(string, string, MigrationFunc) error {
	return notSupported("upgrade")
}

// Rename is not supported: the namespace identity lives server-side.
func (a *Remote) Rename(ctx context.Context, name string) error {
	return notSupported("rename")
}

func (a *Remote) Key(ctx context.Context, index int, full bool) (string, error) {
	return "", notSupported("key")
}

func (a *Remote) Keys(ctx context.Context, full bool) ([]string, error) {
	reqURL := a.collectionURL() + "?keys=true"
	resp, err := a.client.Get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if err := check(resp, reqURL, ""); err != nil {
		return nil, err
	}
	var keys []string
	if err := resp.JSON(&keys); err != nil {
		return nil, err
	}
	if full {
		for i, k := range keys {
			keys[i] = a.ns.apply(k)
		}
	}
	return keys, nil
}

func (a *Remote) Remove(ctx context.Context, key string) (KeyValue, error) {
	prior, err := a.Get(ctx, key)
	if err != nil {
		prior = nil
	}

	reqURL := a.keyURL(key)
	resp, err := a.client.Delete(ctx, reqURL)
	if err != nil {
		return KeyValue{}, err
	}
	if err := check(resp, reqURL, ""); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: key, Value: prior}, nil
}

func (a *Remote) Clear(ctx context.Context) error {
	reqURL := a.collectionURL()
	resp, err := a.client.Delete(ctx, reqURL)
	if err != nil {
		return err
	}
	return check(resp, reqURL, "")
}

func (a *Remote) Configure(cfg Config) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	a.cfg.merge(cfg)
	if cfg.Client != nil {
		a.client = cfg.Client
	}
	a.ns = namespace{name: a.cfg.Name, store: a.cfg.Store, version: a.cfg.Version}
}
