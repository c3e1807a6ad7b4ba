// Package store defines the Document Store Adapter (§2.2): a uniform
// key/value and query interface over an external document database,
// assuming last-writer-wins unless a concrete adapter exposes optimistic
// concurrency. Two implementations are provided: an in-process map
// (memstore, used in dev/test) and an embedded badger/v4 KV (badgerstore,
// the single-tenant production backend).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/GetWithVersion when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrVersionConflict is returned by UpdateIfVersion when the stored
// document's version does not match the expected one (optimistic
// concurrency, §9 "missing transactions").
var ErrVersionConflict = errors.New("store: version conflict")

// Document is a stored record plus the version it was read at, for
// optimistic-concurrency callers (UpdateIfVersion).
type Document struct {
	Value   []byte
	Version uint64
}

// Mutator transforms the current raw value into a new raw value. Returning
// a nil error always writes the result back, even when the bytes are
// unchanged, and bumps the document's version.
type Mutator func(current []byte, found bool) (next []byte, err error)

// Store is the adapter every subsystem in this module depends on. All
// methods are goroutine-safe (§5 "the store adapter must be
// goroutine/thread-safe").
type Store interface {
	// Get reads one document by collection/key. Returns ErrNotFound if absent.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// GetWithVersion reads a document along with its optimistic-concurrency
	// version, for callers implementing read-verify-compensate (§4.1, §9).
	GetWithVersion(ctx context.Context, collection, key string) (Document, error)

	// Set unconditionally writes a document (last-writer-wins).
	Set(ctx context.Context, collection, key string, value []byte) error

	// Update atomically reads, transforms via fn, and writes back under a
	// per-key lock. This is the adapter's answer to "read-modify-write" for
	// stores without a native primitive.
	Update(ctx context.Context, collection, key string, fn Mutator) error

	// UpdateIfVersion writes next only if the document is still at
	// expectedVersion; returns ErrVersionConflict otherwise. Used for slot
	// claims and queue-promotion where a transaction isn't available.
	UpdateIfVersion(ctx context.Context, collection, key string, expectedVersion uint64, next []byte) error

	// Delete removes a document. A missing key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// Query returns every (key, value) pair in a collection matching filter.
	// filter == nil matches everything. Results are unordered; callers sort.
	Query(ctx context.Context, collection string, filter func(key string, value []byte) bool) (map[string][]byte, error)

	// Increment atomically adds delta to an integer field stored at
	// collection/key/field and returns the new value. Both adapters
	// implement it as an Update read-modify-write (memstore under its
	// per-key lock, badgerstore inside one transaction).
	Increment(ctx context.Context, collection, key, field string, delta int64) (int64, error)

	// Close releases any resources held by the adapter.
	Close() error
}
