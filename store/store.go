// Package store defines the persistent local key/value store that keeps
// dashboard state (progress snapshots, credentials) durable across reloads.
package store

import "context"

// Store is a key/value store with whole-value replacement semantics. A Set
// fully replaces any existing value; there are no partial writes.
type Store interface {
	// Get returns the value for key, or errors.ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the value for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying resources.
	Close() error
}
