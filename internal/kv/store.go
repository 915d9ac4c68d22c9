// Package kv provides the byte-oriented key-value stores behind the cache
// layer and the client-tier record store.
package kv

import "context"

// Store is an async key-value store. Implementations must be safe for
// concurrent use. Deleting an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys returns every key starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Sealer encrypts values before they reach durable storage.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}
