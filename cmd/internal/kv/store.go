// Package kv defines Tide's key-value storage capability and its backends.
//
// Every stateful component (identity, presence, rooms, messages) talks to the
// store exclusively through this interface. The capability is deliberately
// small: per-key get/put/delete plus prefix listing, with an optional
// time-to-live on put. There are no transactions and no conditional writes;
// invariants spanning more than one key are eventually consistent only.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or has expired.
var ErrNotFound = errors.New("kv: not found")

// PutOptions carries optional per-write behavior.
type PutOptions struct {
	// TTL, when positive, asks the backend to remove the key after the
	// duration elapses. Zero means the key does not expire.
	TTL time.Duration
}

// Store is the storage boundary injected into every component constructor.
//
// Consistency contract:
//   - Reads may not observe an immediately preceding write from another
//     process (eventual consistency).
//   - List returns a point-in-time approximation; keys may expire or appear
//     between enumeration and use.
//   - Read-modify-write sequences by concurrent callers on the same key can
//     lose one of the writes. Callers that care must bound the impact at
//     their own layer; the store offers no compare-and-swap.
type Store interface {
	// Get returns the value for key, or ErrNotFound when absent/expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, replacing any previous value. A positive
	// opts.TTL (re)arms expiry measured from this write.
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
