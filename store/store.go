// Package store provides counter backends for fixed-window rate limiting.
//
// A Store only has to offer an atomic increment bound to an absolute expiry.
// Window arithmetic lives in the caller, so every instance of the service
// derives the same key and expiry for the same window.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is wrapped by every error caused by the backend being
// unreachable, timing out, or rejecting a command.
var ErrUnavailable = errors.New("store: unavailable")

// Store defines the interface for rate limit counter backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment atomically increments the counter for key, sets the key to
	// expire at expireAt, and returns the new count. Both steps are applied
	// as one unit. Setting the expiry is idempotent, so a retried or repeated
	// call re-derives the same deadline.
	Increment(ctx context.Context, key string, expireAt time.Time) (int64, error)

	// Get retrieves the current count for key without incrementing.
	// Returns 0 if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
