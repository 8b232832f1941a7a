// Package presence tracks "recently active" status per user using expiring
// store keys. Existence of the key is the authoritative signal; the stored
// heartbeat timestamp is advisory (ordering/debugging only).
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tide/cmd/identity"
	"tide/cmd/internal/kv"
)

// DefaultTTL is how long a user stays active after their last heartbeat.
const DefaultTTL = 300 * time.Second

const presenceKeyPrefix = "presence:"

// Key returns the storage key for a username's presence record.
func Key(username string) string {
	return presenceKeyPrefix + identity.NormalizeUsername(username)
}

// Tracker owns presence keys in the key-value capability.
//
// Failure semantics: store unavailability propagates as-is; the tracker
// imposes no retry policy.
type Tracker struct {
	log   *slog.Logger
	store kv.Store
	ttl   time.Duration
}

// NewTracker constructs a presence tracker. A non-positive ttl falls back to
// DefaultTTL.
func NewTracker(log *slog.Logger, store kv.Store, ttl time.Duration) (*Tracker, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("presence: nil kv store")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{log: log, store: store, ttl: ttl}, nil
}

// TTL returns the configured activity window.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// Heartbeat writes/refreshes the presence key with the configured TTL.
func (t *Tracker) Heartbeat(ctx context.Context, username string, now time.Time) error {
	norm := identity.NormalizeUsername(username)
	if norm == "" {
		return identity.OpError{Op: "presence.Heartbeat", Kind: identity.ErrInvalidInput, Msg: "empty username"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	value := []byte(now.UTC().Format(time.RFC3339Nano))
	if err := t.store.Put(ctx, presenceKeyPrefix+norm, value, kv.PutOptions{TTL: t.ttl}); err != nil {
		return fmt.Errorf("presence.Heartbeat: %w", err)
	}
	return nil
}

// IsActive reports whether the presence key currently exists. Absence is
// authoritative for "inactive."
func (t *Tracker) IsActive(ctx context.Context, username string) (bool, error) {
	norm := identity.NormalizeUsername(username)
	if norm == "" {
		return false, nil
	}

	_, err := t.store.Get(ctx, presenceKeyPrefix+norm)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence.IsActive: %w", err)
	}
	return true, nil
}

// GoOffline deletes the presence key early. Idempotent; going offline while
// already offline is not an error.
func (t *Tracker) GoOffline(ctx context.Context, username string) error {
	norm := identity.NormalizeUsername(username)
	if norm == "" {
		return identity.OpError{Op: "presence.GoOffline", Kind: identity.ErrInvalidInput, Msg: "empty username"}
	}

	if err := t.store.Delete(ctx, presenceKeyPrefix+norm); err != nil {
		return fmt.Errorf("presence.GoOffline: %w", err)
	}
	return nil
}

// ListActive enumerates all live presence keys. The result is a
// point-in-time approximation: a key may expire between enumeration and use;
// callers must not treat it as a strong membership guarantee.
func (t *Tracker) ListActive(ctx context.Context) ([]string, error) {
	keys, err := t.store.List(ctx, presenceKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("presence.ListActive: %w", err)
	}

	users := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, presenceKeyPrefix)
		if name == "" {
			continue
		}
		users = append(users, name)
	}
	return users, nil
}
