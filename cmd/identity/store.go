package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tide/cmd/internal/kv"
)

// User is Tide's canonical security principal.
// Identity is immutable once registered; users are never deleted here.
type User struct {
	Username     string    `json:"username"` // display form as registered
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

const userKeyPrefix = "user:"

// UserKey returns the storage key for a username (normalized form).
func UserKey(username string) string {
	return userKeyPrefix + NormalizeUsername(username)
}

// Store persists users in the key-value capability, one record per
// normalized username.
//
// Consistency note: uniqueness is enforced by a read-before-write existence
// check. Under the store's eventual consistency two racing registrations of
// the same name can both pass the check; the later write wins and both
// callers hold valid credentials for the same record only if they chose the
// same password. This is the accepted cost of a transactionless store.
type Store struct {
	store kv.Store
}

// NewStore constructs a kv-backed user store.
func NewStore(store kv.Store) (*Store, error) {
	if store == nil {
		return nil, errors.New("identity: nil kv store")
	}
	return &Store{store: store}, nil
}

// Register creates a new user. Returns ConflictError when the (normalized)
// username is already taken and ErrInvalidInput for a bad username shape or
// a password rejected by policy.
func (s *Store) Register(ctx context.Context, username, plainPassword string, now time.Time) (User, error) {
	const op = "identity.Register"

	if err := ValidateUsername(username); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	key := UserKey(username)

	_, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		return User{}, ConflictError{Op: op, Field: "username"}
	case errors.Is(err, kv.ErrNotFound):
		// Free to register.
	default:
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := HashPassword(plainPassword)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	u := User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	data, err := json.Marshal(u)
	if err != nil {
		return User{}, fmt.Errorf("%s: marshal: %w", op, err)
	}
	if err := s.store.Put(ctx, key, data, kv.PutOptions{}); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// Lookup returns the user record for username, or NotFoundError.
func (s *Store) Lookup(ctx context.Context, username string) (User, error) {
	const op = "identity.Lookup"

	data, err := s.store.Get(ctx, UserKey(username))
	if errors.Is(err, kv.ErrNotFound) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("%s: malformed user record: %w", op, err)
	}
	return u, nil
}

// Authenticate verifies username/password against the stored record.
// Returns NotFoundError for an unknown user and ErrBadPassword on mismatch.
func (s *Store) Authenticate(ctx context.Context, username, plainPassword string) (User, error) {
	const op = "identity.Authenticate"

	u, err := s.Lookup(ctx, username)
	if err != nil {
		return User{}, err
	}

	ok, err := VerifyPassword(plainPassword, u.PasswordHash)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrBadPassword}
	}
	return u, nil
}
