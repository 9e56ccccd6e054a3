package store_test

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietstack/go-stash/store"
)

func newSpace(t *testing.T, opts ...store.Option) (*store.Space, store.Backend) {
	t.Helper()
	backend := store.NewMemoryBackend()
	sp, err := store.New(store.NewPersistent, store.Config{
		Name:    "app",
		Version: "1.0.0",
		Store:   "persistent",
		Backend: backend,
	}, opts...)
	require.NoError(t, err)
	require.NoError(t, sp.Open(context.Background()))
	return sp, backend
}

func suffixTransform(id, setMark, getMark string) store.Transformation {
	return store.Transformation{
		ID: id,
		Set: func(v any) (any, error) {
			return v.(string) + setMark, nil
		},
		Get: func(v any) (any, error) {
			return v.(string) + getMark, nil
		},
	}
}

func TestSpaceTransformations(t *testing.T) {
	ctx := context.Background()

	t.Run("RegistrationOrderIsExecutionOrder", func(t *testing.T) {
		sp, backend := newSpace(t)
		sp.Register(suffixTransform("first", "-a", "+1"))
		sp.Register(suffixTransform("second", "-b", "+2"))

		_, err := sp.Set(ctx, "k", "v")
		require.NoError(t, err)

		// Set transforms ran in order before persistence.
		raw, ok, err := backend.Get("app:persistent:1.0.0:k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v-a-b", raw)

		// Get transforms ran in order after retrieval.
		got, err := sp.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v-a-b+1+2", got)
	})

	t.Run("ReRegisteringAnIDKeepsItsPosition", func(t *testing.T) {
		sp, _ := newSpace(t)
		sp.Register(suffixTransform("first", "-a", ""))
		sp.Register(suffixTransform("second", "-b", ""))
		sp.Register(suffixTransform("first", "-A", ""))

		_, err := sp.Set(ctx, "k", "v")
		require.NoError(t, err)
		got, err := sp.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v-A-b", got)
	})

	t.Run("SetTransformsSeeAClone", func(t *testing.T) {
		sp, _ := newSpace(t)
		sp.Register(store.Transformation{
			ID: "mutator",
			Set: func(v any) (any, error) {
				v.(map[string]any)["injected"] = true
				return v, nil
			},
		})

		original := map[string]any{"a": 1}
		_, err := sp.Set(ctx, "k", original)
		require.NoError(t, err)

		assert.NotContains(t, original, "injected", "caller's object was mutated")
	})

	t.Run("GetAllTransformsEachValue", func(t *testing.T) {
		sp, _ := newSpace(t)
		sp.Register(suffixTransform("t", "", "+g"))

		sp.Set(ctx, "a", "1")
		sp.Set(ctx, "b", "2")

		values, err := sp.GetAll(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []any{"1+g", "2+g"}, values)
	})

	t.Run("TransformErrorPropagates", func(t *testing.T) {
		sp, _ := newSpace(t)
		sp.Register(store.Transformation{
			ID:  "broken",
			Set: func(v any) (any, error) { return nil, errors.New("nope") },
		})

		_, err := sp.Set(ctx, "k", "v")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"broken"`)
	})
}

func TestSpaceEncryptionTransformation(t *testing.T) {
	ctx := context.Background()

	key := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, key)
	require.NoError(t, err)

	crypt, err := store.NewEncryptionTransformation("crypt", key)
	require.NoError(t, err)

	sp, backend := newSpace(t, store.WithTransformation(crypt))

	secret := map[string]any{"password": "hunter2"}
	_, err = sp.Set(ctx, "creds", secret)
	require.NoError(t, err)

	// The backend never sees the plaintext.
	raw, ok, err := backend.Get("app:persistent:1.0.0:creds")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "hunter2")

	got, err := sp.Get(ctx, "creds")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"password": "hunter2"}, got)

	t.Run("RejectsShortKey", func(t *testing.T) {
		_, err := store.NewEncryptionTransformation("crypt", make([]byte, 16))
		assert.Error(t, err)
	})
}

func TestSpaceCallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateUpdateDelete", func(t *testing.T) {
		sp, _ := newSpace(t)

		var created, updated, deleted []store.KeyValue
		sp.OnCreate(func(kv store.KeyValue) { created = append(created, kv) })
		sp.OnUpdate(func(kv store.KeyValue) { updated = append(updated, kv) })
		sp.OnDelete(func(kv store.KeyValue) { deleted = append(deleted, kv) })

		sp.Set(ctx, "k", "v1")
		sp.Update(ctx, "k", "v2")
		sp.Remove(ctx, "k")

		require.Len(t, created, 1)
		assert.Equal(t, store.KeyValue{Key: "k", Value: "v1"}, created[0])

		require.Len(t, updated, 1)
		assert.Equal(t, "k", updated[0].Key)

		// Delete callbacks receive the pre-removal value.
		require.Len(t, deleted, 1)
		assert.Equal(t, store.KeyValue{Key: "k", Value: "v2"}, deleted[0])
	})

	t.Run("NoCallbacksOnFailure", func(t *testing.T) {
		sp, _ := newSpace(t)
		sp.Register(store.Transformation{
			ID:  "broken",
			Set: func(v any) (any, error) { return nil, errors.New("nope") },
		})

		fired := false
		sp.OnCreate(func(kv store.KeyValue) { fired = true })

		_, err := sp.Set(ctx, "k", "v")
		require.Error(t, err)
		assert.False(t, fired)
	})
}

func TestSpacePassThrough(t *testing.T) {
	ctx := context.Background()
	sp, _ := newSpace(t)

	sp.Set(ctx, "a", 1)
	sp.Set(ctx, "b", 2)

	require.NoError(t, sp.Contains(ctx, "a"))

	keys, err := sp.Keys(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	k, err := sp.Key(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "a", k)

	require.NoError(t, sp.Rename(ctx, "app2"))
	got, err := sp.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	require.NoError(t, sp.Clear(ctx))
	keys, err = sp.Keys(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSpaceErrorsPropagateUnwrapped(t *testing.T) {
	ctx := context.Background()
	sp, _ := newSpace(t)

	_, err := sp.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, strings.Contains(err.Error(), `"missing"`))
}

func TestSpaceConfigure(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()

	sp, err := store.New(store.NewPersistent, store.Config{
		Name:    "app",
		Version: "1.0.0",
		Backend: backend,
	})
	require.NoError(t, err)

	sp.Set(ctx, "k", 1)

	// Repointing the namespace propagates to the adapter in place.
	sp.Configure(store.Config{Name: "other"})
	_, err = sp.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	sp.Configure(store.Config{Name: "app"})
	got, err := sp.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestSpaceMetrics(t *testing.T) {
	ctx := context.Background()

	metrics := store.NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	sp, _ := newSpace(t, store.WithMetrics(metrics))

	sp.Set(ctx, "k", 1)
	sp.Set(ctx, "k2", 2)
	sp.Get(ctx, "k")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Operations.WithLabelValues("persistent", "set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Operations.WithLabelValues("persistent", "get")))
}
