package identity

import "testing"

func TestNormalizeUsername(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Alice", want: "alice"},
		{in: "  BOB  ", want: "bob"},
		{in: "under_score", want: "under_score"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := NormalizeUsername(tc.in); got != tc.want {
			t.Fatalf("NormalizeUsername(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	valid := []string{"al", "Alice", "bob-2", "under_score", "A1234567890123456789"}
	for _, u := range valid {
		if err := ValidateUsername(u); err != nil {
			t.Fatalf("ValidateUsername(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"",
		"a",
		"this-name-is-way-too-long",
		"has space",
		"has:colon",
		"émile",
		"semi;colon",
	}
	for _, u := range invalid {
		if err := ValidateUsername(u); err == nil {
			t.Fatalf("ValidateUsername(%q) = nil, want error", u)
		}
	}
}
