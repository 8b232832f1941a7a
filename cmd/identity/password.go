// Identity password hashing (Argon2id).
//
// identity delegates hashing to cmd/security/password as the single source
// of truth for Argon2id parameters and password policy, so the store and the
// HTTP layer cannot drift apart on settings.
package identity

import "tide/cmd/security/password"

// HashPassword returns a PHC-style Argon2id hash string.
func HashPassword(plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Hash(plain)
}

// VerifyPassword checks plain against an encoded hash.
// Returns (false, nil) on a clean mismatch; errors indicate a malformed hash.
func VerifyPassword(plain, encodedHash string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, err
	}
	return cfg.Verify(encodedHash, plain)
}
