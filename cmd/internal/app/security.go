package app

import (
	"fmt"

	"tide/cmd/security/password"
)

// ValidateSecurityConfig enforces the server's credential policy at startup.
//
// Fail-fast is intentional: a typo in an Argon2 env var must stop the boot,
// not silently hand every new account the default cost parameters while the
// operator believes the override took effect.
func ValidateSecurityConfig() error {
	if _, err := password.FromEnv(); err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	return nil
}
