package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"tide/cmd/internal/kv"
)

// Defaults for the log's bounds. All are env-tunable through app config.
const (
	DefaultPartitionMax  = 2000
	DefaultRetentionDays = 90
	DefaultWindowDays    = 7
	DefaultWindowLimit   = 200
)

const (
	partitionKeyPrefix = "messages:"
	dayLayout          = "2006-01-02"
)

// PartitionKey returns the storage key for one room's messages on the UTC
// calendar day of ts. Day computation is fixed to UTC; the deployment's
// local zone never leaks into the key layout.
func PartitionKey(roomID string, ts time.Time) string {
	return partitionKeyPrefix + roomID + ":" + ts.UTC().Format(dayLayout)
}

// Config bounds the log's storage behavior.
type Config struct {
	// PartitionMax caps one day-partition's length; appends beyond it evict
	// from the front (FIFO).
	PartitionMax int
	// Retention is the partition TTL, rearmed on every append.
	Retention time.Duration
	// WindowDays and WindowLimit shape FetchWindow defaults.
	WindowDays  int
	WindowLimit int
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		PartitionMax: DefaultPartitionMax,
		Retention:    DefaultRetentionDays * 24 * time.Hour,
		WindowDays:   DefaultWindowDays,
		WindowLimit:  DefaultWindowLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.PartitionMax <= 0 {
		c.PartitionMax = DefaultPartitionMax
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetentionDays * 24 * time.Hour
	}
	if c.WindowDays <= 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.WindowLimit <= 0 {
		c.WindowLimit = DefaultWindowLimit
	}
	return c
}

// Log is the append-only, day-and-room-partitioned message store.
//
// Concurrency contract: Append is a read-modify-write on the partition key
// and is NOT atomic against concurrent appends to the same (room, day).
// Two true concurrent writers can lose one of the racing messages. The
// backing store offers no conditional-write primitive, so the race is
// documented and bounded (at most a few messages under concurrent writers
// to the identical room+day) rather than locked away.
type Log struct {
	log   *slog.Logger
	store kv.Store
	cfg   Config
}

// NewLog constructs a message log over the given store.
func NewLog(log *slog.Logger, store kv.Store, cfg Config) (*Log, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("messages: nil kv store")
	}
	return &Log{log: log, store: store, cfg: cfg.withDefaults()}, nil
}

// Append stores msg in its (room, UTC day) partition and returns the
// message id. The body is truncated to BodyMaxLen. If the partition exceeds
// the configured cap, the oldest entries are silently evicted first
// (accepted lossy-retention policy, not an error). The partition TTL is
// rearmed to the full retention window on every append.
func (l *Log) Append(ctx context.Context, msg Message) (string, error) {
	const op = "messages.Append"

	if msg.RoomID == "" || msg.SenderID == "" {
		return "", fmt.Errorf("%s: missing room or sender", op)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.ID == "" {
		id, err := NewMessageID(msg.SentAt)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		msg.ID = id
	}
	msg.Body = truncateOnRuneBoundary(msg.Body, BodyMaxLen)

	key := PartitionKey(msg.RoomID, msg.SentAt)

	part, err := l.readPartition(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	part = append(part, msg)
	if evict := len(part) - l.cfg.PartitionMax; evict > 0 {
		l.log.Info("messages.partition.evict", "key", key, "evicted", evict)
		part = part[evict:]
	}

	data, err := json.Marshal(part)
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", op, err)
	}
	if err := l.store.Put(ctx, key, data, kv.PutOptions{TTL: l.cfg.Retention}); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return msg.ID, nil
}

// FetchIncremental reads today's partition for each room and returns the
// messages strictly after each room's cursor id. An absent or unknown
// cursor yields the whole partition: the cursor may reference a message
// already evicted by the FIFO bound or written on a prior day, and that is
// policy, not an error.
//
// No completeness across a day boundary: a caller polling near midnight can
// miss messages written just before rollover; callers tolerate this by
// periodically re-fetching without a cursor.
func (l *Log) FetchIncremental(ctx context.Context, roomIDs []string, cursors map[string]string, now time.Time) (map[string][]Message, error) {
	const op = "messages.FetchIncremental"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	out := make(map[string][]Message, len(roomIDs))
	for _, roomID := range roomIDs {
		if roomID == "" {
			continue
		}
		part, err := l.readPartition(ctx, PartitionKey(roomID, now))
		if err != nil {
			return nil, fmt.Errorf("%s: room %s: %w", op, roomID, err)
		}
		out[roomID] = afterCursor(part, cursors[roomID])
	}
	return out, nil
}

// afterCursor locates cursor by linear scan (partitions are small, bounded
// by the FIFO cap) and returns everything strictly after it.
func afterCursor(part []Message, cursor string) []Message {
	if cursor == "" {
		return part
	}
	for i := len(part) - 1; i >= 0; i-- {
		if part[i].ID == cursor {
			return part[i+1:]
		}
	}
	// Cursor not found: evicted or from a prior day. Return everything.
	return part
}

// FetchWindow concatenates the last cfg.WindowDays day-partitions for
// roomID (today going back), sorts by SentAt ascending with insertion order
// breaking ties, and returns at most cfg.WindowLimit trailing entries.
// Older messages beyond the window or the limit are silently omitted
// (retrieval truncation, not an error).
func (l *Log) FetchWindow(ctx context.Context, roomID string, now time.Time) ([]Message, error) {
	const op = "messages.FetchWindow"

	if roomID == "" {
		return nil, fmt.Errorf("%s: missing room", op)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var all []Message
	for d := l.cfg.WindowDays - 1; d >= 0; d-- {
		day := now.UTC().AddDate(0, 0, -d)
		part, err := l.readPartition(ctx, PartitionKey(roomID, day))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		all = append(all, part...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].SentAt.Before(all[j].SentAt)
	})

	if len(all) > l.cfg.WindowLimit {
		all = all[len(all)-l.cfg.WindowLimit:]
	}
	return all, nil
}

// readPartition returns the partition's messages, or an empty sequence when
// the key is absent or expired.
func (l *Log) readPartition(ctx context.Context, key string) ([]Message, error) {
	data, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var part []Message
	if err := json.Unmarshal(data, &part); err != nil {
		return nil, fmt.Errorf("malformed partition %s: %w", key, err)
	}
	return part, nil
}

// truncateOnRuneBoundary caps s at max bytes without splitting a UTF-8
// sequence; the cut backs up to the nearest rune start so the stored body
// is always valid UTF-8.
func truncateOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
