// Package cache defines the store used to persist provider discovery
// documents and key sets between authentication attempts.
//
// Two backends are provided: an in-process memory cache for single
// instance deployments and a Redis cache for sharing discovery state
// across replicas. Entries are written wholesale with a TTL and are
// never partially updated.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal contract the relying party needs: get a value or
// report a miss, and set a value with an expiry.
type Cache interface {
	// Get returns the cached value for key, or false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
