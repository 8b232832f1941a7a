package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback used when no backend is configured.
//
// TTL semantics match the real backends from the caller's point of view:
// expiry is enforced lazily on Get and List, so an expired key is never
// observable even though the entry may linger in the map until touched.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// now is swappable so tests can simulate TTL expiry without sleeping.
	now func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store's clock. Test-only knob.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Get returns the live value for key or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Put writes value under key, rearming TTL when opts.TTL is positive.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	e := memEntry{value: stored}
	if opts.TTL > 0 {
		e.expiresAt = s.now().Add(opts.TTL)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key; missing keys are ignored.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// List returns all live keys starting with prefix, sorted for determinism.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, e := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if s.expired(e) {
			delete(s.entries, k)
			continue
		}
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
