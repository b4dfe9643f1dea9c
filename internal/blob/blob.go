// internal/blob/blob.go
// Package blob provides the durable blob cache tier for raw schema
// documents fetched from marketplace URLs. Entries have no enforced TTL;
// they act as a fallback when the network is unavailable and are refreshed
// opportunistically on successful fetches.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNotFound is returned when no blob exists for a key.
var ErrNotFound = errors.New("blob not found")

// Store is the blob cache contract. Writes are idempotent for a given key
// (same URL yields the same content), so concurrent writers racing to
// populate a key are safe.
type Store interface {
	// Get returns the stored document for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a document under key, replacing any previous content.
	Put(ctx context.Context, key string, data []byte) error

	// Purge removes every stored document.
	Purge(ctx context.Context) error
}

// Key derives the cache key for a schema URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
