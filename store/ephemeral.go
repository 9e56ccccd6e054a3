package store

import (
	"context"
	"log/slog"
)

// Ephemeral is behaviorally identical to [Persistent] except that it
// binds to a session-scoped backend and disables migrations: session data
// has no cross-session identity to migrate, so Open performs no version
// scan and Upgrade is a no-op.
type Ephemeral struct {
	kvcore
	logger *slog.Logger
}

// NewEphemeral is the Factory for the ephemeral adapter. With no Backend
// configured it falls back to a fresh in-memory backend.
func NewEphemeral(cfg Config) (Adapter, error) {
	return &Ephemeral{
		kvcore: newKVCore(cfg, "ephemeral"),
		logger: cfg.logger(),
	}, nil
}

func (a *Ephemeral) Open(ctx context.Context) error {
	first, done := a.guard.begin()
	if !first {
		return a.guard.wait(ctx, done)
	}
	a.guard.finish(nil)
	return nil
}

// Upgrade logs a warning and discards the registration.
func (a *Ephemeral) Upgrade(oldVersion, newVersion string, _ MigrationFunc) error {
	a.logger.Warn("session data is not versioned; ignoring migration registration",
		"store", a.ns.store,
		"name", a.ns.name,
		"from", oldVersion,
		"to", newVersion)
	return nil
}
