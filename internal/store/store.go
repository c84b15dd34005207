// Package store provides backing stores for the bulk cache tier.
//
// The bulk tier is the slowest and largest level of the cache hierarchy.
// It holds entries demoted out of the in-memory tiers and serves them back
// on a miss. Stores are deliberately dumb byte stores: all entry metadata,
// scoring, and promotion decisions stay in the cache manager.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent. It is the only
// store error the cache manager treats as a plain miss; anything else marks
// the bulk tier degraded.
var ErrNotFound = errors.New("store: key not found")

// Store is a bulk-tier backing store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Len returns the number of stored keys.
	Len(ctx context.Context) (int, error)
	// HealthCheck verifies the store is reachable and writable.
	HealthCheck(ctx context.Context) error
}
