// Package rooms derives room identity and maintains the per-user room
// directory with last-message summaries.
package rooms

import "tide/cmd/identity"

// PublicRoomID is the reserved identifier for the single public room.
const PublicRoomID = "public"

// Separator joins the two participant names of a private room. It is not a
// legal username character, so a room id always splits back into exactly the
// pair it was built from.
const Separator = ":"

// CanonicalID returns the order-independent id for a two-party private room:
// the normalized usernames sorted lexicographically and joined with the
// separator. Pure and total for valid usernames; it never consults storage.
func CanonicalID(userA, userB string) string {
	a := identity.NormalizeUsername(userA)
	b := identity.NormalizeUsername(userB)
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// IsPublic reports whether id is the reserved public room.
func IsPublic(id string) bool {
	return id == PublicRoomID
}
