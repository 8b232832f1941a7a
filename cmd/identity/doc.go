// Package identity implements Tide's user identity foundation.
//
// It contains the user record, username normalization and validation,
// password hashing wrappers, and the key-value backed user store used by
// the HTTP layer.
//
// This package is intentionally dependency-light and security-first.
package identity
