// Package cache provides byte-level caches for remote source responses.
//
// Three backends implement [Cache]:
//
//   - [FileCache]: one JSON file per entry, for CLI runs
//   - [RedisCache]: a shared Redis instance, for the webhook server
//   - [NullCache]: caches nothing, for --no-cache and tests
//
// Keys are produced by a [Keyer] so every backend sees the same namespaces.
// Entries keyed by an immutable commit SHA (resource declarations) may be
// cached without expiry; listings of mutable refs use a TTL.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values by key.
type Cache interface {
	// Get returns the value for key. A miss is reported as (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
