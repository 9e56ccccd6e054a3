package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Callback observes a mutating operation's result. Callbacks receive the
// adapter's returned key/value directly; they never trigger a re-fetch.
type Callback func(kv KeyValue)

// Space is the façade application code uses: one adapter, an ordered
// transformation pipeline and create/update/delete callback lists.
//
// Adapter failures propagate unchanged; the façade never wraps or
// reinterprets them, and no callback runs on a failed operation.
type Space struct {
	adapter Adapter
	logger  *slog.Logger
	metrics *Metrics

	mu         sync.Mutex
	cfg        Config
	transforms []Transformation
	onCreate   []Callback
	onUpdate   []Callback
	onDelete   []Callback
}

// Option configures a Space at construction.
type Option func(*Space)

// WithLogger sets the logger used by the space and its adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Space) {
		s.logger = logger
	}
}

// WithMetrics records operation counts and durations to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Space) {
		s.metrics = m
	}
}

// WithTransformation registers a transformation at construction, in
// option order.
func WithTransformation(t Transformation) Option {
	return func(s *Space) {
		s.transforms = append(s.transforms, t)
	}
}

// New constructs a Space from an adapter factory and configuration, e.g.
//
//	sp, err := store.New(store.NewPersistent, store.Config{
//		Name:    "app",
//		Version: "1.0.0",
//		Backend: backend,
//	})
func New(factory Factory, cfg Config, opts ...Option) (*Space, error) {
	s := &Space{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = cfg.logger()
	}
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}

	adapter, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	s.adapter = adapter
	return s, nil
}

// Register appends a transformation to the ordered list. Registering an
// ID again replaces the earlier entry in place, keeping its position.
func (s *Space) Register(t Transformation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.transforms {
		if existing.ID == t.ID {
			s.transforms[i] = t
			return
		}
	}
	s.transforms = append(s.transforms, t)
}

// OnCreate registers a callback invoked after every successful Set.
func (s *Space) OnCreate(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate = append(s.onCreate, cb)
}

// OnUpdate registers a callback invoked after every successful Update.
func (s *Space) OnUpdate(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = append(s.onUpdate, cb)
}

// OnDelete registers a callback invoked after every successful Remove,
// with the key and the pre-removal value.
func (s *Space) OnDelete(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, cb)
}

// Open opens the adapter. Idempotent; see [Adapter.Open].
func (s *Space) Open(ctx context.Context) error {
	defer s.observe("open", time.Now())
	return s.adapter.Open(ctx)
}

// Set applies the set-transforms to a defensive deep clone of value,
// persists the result and fires the create callbacks.
func (s *Space) Set(ctx context.Context, key string, value any) (KeyValue, error) {
	defer s.observe("set", time.Now())

	v, err := s.transformSet(value)
	if err != nil {
		return KeyValue{}, err
	}
	kv, err := s.adapter.Set(ctx, key, v)
	if err != nil {
		return KeyValue{}, err
	}
	s.fire(s.snapshotCallbacks(&s.onCreate), kv)
	return kv, nil
}

// Update applies the set-transforms to a defensive deep clone of value,
// delegates the merge to the adapter and fires the update callbacks.
func (s *Space) Update(ctx context.Context, key string, value any) (KeyValue, error) {
	defer s.observe("update", time.Now())

	v, err := s.transformSet(value)
	if err != nil {
		return KeyValue{}, err
	}
	kv, err := s.adapter.Update(ctx, key, v)
	if err != nil {
		return KeyValue{}, err
	}
	s.fire(s.snapshotCallbacks(&s.onUpdate), kv)
	return kv, nil
}

// Get retrieves the value at key and applies the get-transforms in
// registration order.
func (s *Space) Get(ctx context.Context, key string) (any, error) {
	defer s.observe("get", time.Now())

	value, err := s.adapter.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return applyGet(s.snapshotTransforms(), value)
}

// GetAll retrieves every value in the namespace, applying the
// get-transforms to each.
func (s *Space) GetAll(ctx context.Context) ([]any, error) {
	defer s.observe("getall", time.Now())

	values, err := s.adapter.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	transforms := s.snapshotTransforms()
	for i, value := range values {
		v, err := applyGet(transforms, value)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Remove deletes key and fires the delete callbacks with the adapter's
// pre-removal value.
func (s *Space) Remove(ctx context.Context, key string) (KeyValue, error) {
	defer s.observe("remove", time.Now())

	kv, err := s.adapter.Remove(ctx, key)
	if err != nil {
		return KeyValue{}, err
	}
	s.fire(s.snapshotCallbacks(&s.onDelete), kv)
	return kv, nil
}

// Contains passes through to the adapter.
func (s *Space) Contains(ctx context.Context, key string) error {
	defer s.observe("contains", time.Now())
	return s.adapter.Contains(ctx, key)
}

// Keys passes through to the adapter.
func (s *Space) Keys(ctx context.Context, full bool) ([]string, error) {
	defer s.observe("keys", time.Now())
	return s.adapter.Keys(ctx, full)
}

// Key passes through to the adapter.
func (s *Space) Key(ctx context.Context, index int, full bool) (string, error) {
	defer s.observe("key", time.Now())
	return s.adapter.Key(ctx, index, full)
}

// Rename passes through to the adapter.
func (s *Space) Rename(ctx context.Context, name string) error {
	defer s.observe("rename", time.Now())
	err := s.adapter.Rename(ctx, name)
	if err == nil {
		s.mu.Lock()
		s.cfg.Name = name
		s.mu.Unlock()
	}
	return err
}

// Clear passes through to the adapter.
func (s *Space) Clear(ctx context.Context) error {
	defer s.observe("clear", time.Now())
	return s.adapter.Clear(ctx)
}

// Upgrade passes through to the adapter.
func (s *Space) Upgrade(oldVersion, newVersion string, fn MigrationFunc) error {
	return s.adapter.Upgrade(oldVersion, newVersion, fn)
}

// Configure merges cfg into the space's configuration in place and
// propagates it to the adapter.
func (s *Space) Configure(cfg Config) {
	s.mu.Lock()
	s.cfg.merge(cfg)
	s.mu.Unlock()
	s.adapter.Configure(cfg)
}

// Adapter returns the underlying adapter, for capability-specific calls
// such as [Structured.GetBy].
func (s *Space) Adapter() Adapter {
	return s.adapter
}

func (s *Space) transformSet(value any) (any, error) {
	transforms := s.snapshotTransforms()

	hasSet := false
	for _, t := range transforms {
		if t.Set != nil {
			hasSet = true
			break
		}
	}
	if !hasSet {
		return value, nil
	}

	// Clone so the caller's original object is never mutated.
	clone, err := deepClone(value)
	if err != nil {
		return nil, err
	}
	return applySet(transforms, clone)
}

func (s *Space) snapshotTransforms() []Transformation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transformation, len(s.transforms))
	copy(out, s.transforms)
	return out
}

func (s *Space) snapshotCallbacks(list *[]Callback) []Callback {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Callback, len(*list))
	copy(out, *list)
	return out
}

func (s *Space) fire(callbacks []Callback, kv KeyValue) {
	for _, cb := range callbacks {
		cb(kv)
	}
}

func (s *Space) observe(operation string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.mu.Lock()
	storeName := s.cfg.Store
	s.mu.Unlock()
	s.metrics.observe(storeName, operation, time.Since(start))
}
