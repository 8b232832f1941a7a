package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"tide/cmd/identity"
	"tide/cmd/internal/kv"
)

// LastMessage is a best-effort summary of the most recent message in a room.
// Content holds only a prefix of the message body.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// Record describes a private room: its canonical id and sorted participant
// pair. CreatedAt is set on first upsert and preserved afterwards;
// LastMessage is overwritten on every subsequent upsert (last-write-wins).
type Record struct {
	ID           string       `json:"id"`
	Participants [2]string    `json:"participants"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastMessage  *LastMessage `json:"lastMessage"`
}

// PreviewMaxLen bounds the stored last-message content prefix.
const PreviewMaxLen = 160

const roomKeyPrefix = "room:"

// RecordKey returns the storage key for a room record.
func RecordKey(roomID string) string {
	return roomKeyPrefix + roomID
}

// Directory owns private-room records in the key-value capability.
type Directory struct {
	log   *slog.Logger
	store kv.Store

	// retention bounds the lifetime of a dormant room record. Refreshed on
	// every upsert so active rooms never age out before their messages do.
	retention time.Duration
}

// NewDirectory constructs a room directory over the given store.
// A non-positive retention disables room-record expiry.
func NewDirectory(log *slog.Logger, store kv.Store, retention time.Duration) (*Directory, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("rooms: nil kv store")
	}
	return &Directory{log: log, store: store, retention: retention}, nil
}

// Upsert records (or refreshes) the private room between userA and userB,
// overwriting the last-message summary.
//
// CreatedAt is preserved by reading the existing record first. The
// read-modify-write is not atomic: two simultaneous sends to the same pair
// can each observe "no record" and both create one, or overwrite each
// other's summary. Either outcome leaves a structurally valid record whose
// summary reflects one of the racing messages, which is the accepted
// contract for a best-effort summary field.
func (d *Directory) Upsert(ctx context.Context, userA, userB string, last LastMessage, now time.Time) (Record, error) {
	const op = "rooms.Upsert"

	a := identity.NormalizeUsername(userA)
	b := identity.NormalizeUsername(userB)
	if a == "" || b == "" || a == b {
		return Record{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "need two distinct participants"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id := CanonicalID(a, b)
	key := RecordKey(id)

	rec := Record{
		ID:        id,
		CreatedAt: now,
	}
	// Participants sorted, matching the id construction.
	if a < b {
		rec.Participants = [2]string{a, b}
	} else {
		rec.Participants = [2]string{b, a}
	}

	existing, err := d.get(ctx, key)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
	case errors.Is(err, kv.ErrNotFound):
		// First message between this pair; keep now as CreatedAt.
		d.log.Info("rooms.create", "room_id", id)
	default:
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}

	last.Content = truncatePreview(last.Content, PreviewMaxLen)
	rec.LastMessage = &last

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("%s: marshal: %w", op, err)
	}

	opts := kv.PutOptions{}
	if d.retention > 0 {
		opts.TTL = d.retention
	}
	if err := d.store.Put(ctx, key, data, opts); err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// IsMember reports whether username belongs to roomID. The public room
// admits everyone; private membership is checked against the stored record.
func (d *Directory) IsMember(ctx context.Context, roomID, username string) (bool, error) {
	if IsPublic(roomID) {
		return true, nil
	}

	norm := identity.NormalizeUsername(username)
	if norm == "" {
		return false, nil
	}

	rec, err := d.get(ctx, RecordKey(roomID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rooms.IsMember: %w", err)
	}

	return rec.Participants[0] == norm || rec.Participants[1] == norm, nil
}

// ListFor returns all room records username participates in, most recently
// active first (rooms without a last message sort last).
//
// Cost is O(total rooms in the system): every record under the room prefix
// is read and filtered. Viable only at the scale this design targets; there
// is deliberately no pagination.
func (d *Directory) ListFor(ctx context.Context, username string) ([]Record, error) {
	const op = "rooms.ListFor"

	norm := identity.NormalizeUsername(username)
	if norm == "" {
		return nil, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "empty username"}
	}

	keys, err := d.store.List(ctx, roomKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var out []Record
	for _, key := range keys {
		rec, err := d.get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			// Expired between List and Get; the listing is point-in-time.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if rec.Participants[0] != norm && rec.Participants[1] != norm {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil && lj == nil:
			return out[i].ID < out[j].ID
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.Timestamp.After(lj.Timestamp)
		}
	})
	return out, nil
}

func (d *Directory) get(ctx context.Context, key string) (Record, error) {
	data, err := d.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("malformed room record %s: %w", key, err)
	}
	if rec.ID == "" {
		rec.ID = strings.TrimPrefix(key, roomKeyPrefix)
	}
	return rec, nil
}

// truncatePreview caps the preview at max bytes without splitting a UTF-8
// sequence; the cut backs up to the nearest rune start so the stored
// preview is always valid UTF-8.
func truncatePreview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
