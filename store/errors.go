package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is not present in the namespace.
	ErrNotFound = errors.New("key not found")

	// ErrNotSupported is returned when an adapter does not implement an
	// operation (rename on structured/remote, indexed key lookup, upgrade
	// on remote).
	ErrNotSupported = errors.New("operation not supported")

	// ErrInvalidConfig is returned when an adapter is constructed without
	// required configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// TransportError reports a non-success HTTP status from the remote
// adapter's endpoint.
type TransportError struct {
	StatusCode int
	URL        string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s returned status %d", e.URL, e.StatusCode)
}

func notFound(key string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, key)
}

func notSupported(op string) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, op)
}
