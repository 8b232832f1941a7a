// Package messages implements the day-and-room-partitioned, size-bounded
// message log.
package messages

import (
	"time"

	"tide/cmd/identity/ids"
)

// Message is the canonical persisted message representation. Immutable once
// written.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"` // empty for public-room messages
	RoomID      string    `json:"roomId"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
}

// BodyMaxLen is the stored message body bound. Longer bodies are truncated
// on append; truncation is policy, not an error.
const BodyMaxLen = 1000

// NewMessageID returns a ULID used as message id. ULIDs sort by timestamp
// with a random suffix, so ids within a partition approximate insertion
// order, which the incremental-fetch cursor relies on.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
