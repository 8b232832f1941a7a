package identity

import "strings"

// Username policy: 2 to 20 characters from [A-Za-z0-9_-]. The colon is
// excluded from the alphabet on purpose; room identifiers join two usernames
// with ":" and the separator must never appear inside a name.
const (
	UsernameMinLen = 2
	UsernameMaxLen = 20
)

// NormalizeUsername performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Additional rules (unicode
// confusables) can be added later behind a versioned policy.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks the raw (pre-normalization) username shape.
func ValidateUsername(s string) error {
	s = strings.TrimSpace(s)
	if len(s) < UsernameMinLen || len(s) > UsernameMaxLen {
		return OpError{Op: "identity.ValidateUsername", Kind: ErrInvalidInput, Msg: "username must be 2-20 characters"}
	}
	for _, r := range s {
		if !isUsernameRune(r) {
			return OpError{Op: "identity.ValidateUsername", Kind: ErrInvalidInput, Msg: "username may contain only letters, digits, '_' and '-'"}
		}
	}
	return nil
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}
