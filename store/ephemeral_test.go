package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/quietstack/go-stash/store"
)

func TestEphemeral(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		a, err := store.NewEphemeral(store.Config{Name: "App", Version: "1.0.0"})
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Open(ctx); err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		a.Set(ctx, "k", "v")
		got, err := a.Get(ctx, "k")
		if err != nil || got != "v" {
			t.Errorf("Get = %v, %v", got, err)
		}
	})

	t.Run("UpgradeIsIgnored", func(t *testing.T) {
		backend := store.NewMemoryBackend()

		v1, _ := store.NewEphemeral(store.Config{Name: "App", Version: "1.0.0", Backend: backend})
		v1.Set(ctx, "cfg", 1)

		v2, _ := store.NewEphemeral(store.Config{Name: "App", Version: "2.0.0", Backend: backend})
		ran := false
		if err := v2.Upgrade("1.0.0", "2.0.0", func(ctx context.Context, a store.Adapter) error {
			ran = true
			return nil
		}); err != nil {
			t.Fatalf("Upgrade returned %v, want nil", err)
		}
		if err := v2.Open(ctx); err != nil {
			t.Fatal(err)
		}

		if ran {
			t.Error("ephemeral adapter ran a migration")
		}
		// No scan happened either: the old version's data stays put.
		if _, err := v1.Get(ctx, "cfg"); err != nil {
			t.Errorf("old version data moved: %v", err)
		}
		if _, err := v2.Get(ctx, "cfg"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("new version observed old data: %v", err)
		}
	})

	t.Run("RenameIsSupported", func(t *testing.T) {
		a, _ := store.NewEphemeral(store.Config{Name: "App", Version: "1.0.0"})
		a.Set(ctx, "x", 1)

		if err := a.Rename(ctx, "App2"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if got, err := a.Get(ctx, "x"); err != nil || got != 1.0 {
			t.Errorf("Get after Rename = %v, %v", got, err)
		}
	})
}
