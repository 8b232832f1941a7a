package messages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"tide/cmd/internal/kv"
)

func newTestLog(t *testing.T, cfg Config) (*Log, *kv.MemoryStore) {
	t.Helper()

	store := kv.NewMemoryStore()
	log, err := NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)), store, cfg)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	return log, store
}

func mustAppend(t *testing.T, l *Log, room, sender, body string, at time.Time) string {
	t.Helper()

	id, err := l.Append(context.Background(), Message{
		SenderID: sender,
		RoomID:   room,
		Body:     body,
		SentAt:   at,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestAppend_RoundTrip(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, DefaultConfig())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	id := mustAppend(t, l, "public", "alice", "hi", now)
	if id == "" {
		t.Fatalf("empty message id")
	}

	got, err := l.FetchWindow(context.Background(), "public", now)
	if err != nil {
		t.Fatalf("fetchWindow: %v", err)
	}
	if len(got) != 1 || got[0].Body != "hi" || got[0].ID != id {
		t.Fatalf("unexpected window: %+v", got)
	}
}

func TestAppend_TruncatesBody(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, DefaultConfig())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mustAppend(t, l, "public", "alice", strings.Repeat("x", BodyMaxLen+500), now)

	got, err := l.FetchWindow(context.Background(), "public", now)
	if err != nil {
		t.Fatalf("fetchWindow: %v", err)
	}
	if len(got[0].Body) != BodyMaxLen {
		t.Fatalf("body length = %d, want %d", len(got[0].Body), BodyMaxLen)
	}
}

func TestAppend_TruncationKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, DefaultConfig())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// 999 ASCII bytes plus one 3-byte rune straddling the limit. A byte
	// slice at BodyMaxLen would cut the rune in half; the whole rune must
	// be dropped instead.
	body := strings.Repeat("a", BodyMaxLen-1) + "世"
	mustAppend(t, l, "public", "alice", body, now)

	got, err := l.FetchWindow(context.Background(), "public", now)
	if err != nil {
		t.Fatalf("fetchWindow: %v", err)
	}
	if !utf8.ValidString(got[0].Body) {
		t.Fatalf("stored body is not valid UTF-8: %q", got[0].Body)
	}
	if len(got[0].Body) > BodyMaxLen {
		t.Fatalf("body length = %d, exceeds %d", len(got[0].Body), BodyMaxLen)
	}
	if want := strings.Repeat("a", BodyMaxLen-1); got[0].Body != want {
		t.Fatalf("body = %d bytes ending %q, want the ASCII prefix intact", len(got[0].Body), got[0].Body[len(got[0].Body)-4:])
	}
}

func TestAppend_FIFOBound(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PartitionMax = 50
	cfg.WindowLimit = 100
	l, _ := newTestLog(t, cfg)

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	n := cfg.PartitionMax + 1

	var firstID string
	for i := 0; i < n; i++ {
		id := mustAppend(t, l, "public", "alice", fmt.Sprintf("msg-%04d", i), day.Add(time.Duration(i)*time.Second))
		if i == 0 {
			firstID = id
		}
	}

	got, err := l.FetchWindow(context.Background(), "public", day)
	if err != nil {
		t.Fatalf("fetchWindow: %v", err)
	}
	if len(got) != cfg.PartitionMax {
		t.Fatalf("partition length = %d, want %d", len(got), cfg.PartitionMax)
	}

	// Content must be a suffix of the append history: the oldest message is
	// gone and the rest keep their order.
	if got[0].Body != "msg-0001" {
		t.Fatalf("oldest surviving message = %q, want msg-0001", got[0].Body)
	}
	for _, m := range got {
		if m.ID == firstID {
			t.Fatalf("evicted message still present")
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Body <= got[i-1].Body {
			t.Fatalf("order broken at %d: %q after %q", i, got[i].Body, got[i-1].Body)
		}
	}
}

func TestFetchIncremental_CursorSemantics(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, DefaultConfig())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	id1 := mustAppend(t, l, "alice:bob", "alice", "one", now)
	id2 := mustAppend(t, l, "alice:bob", "bob", "two", now.Add(time.Second))
	id3 := mustAppend(t, l, "alice:bob", "alice", "three", now.Add(2*time.Second))

	// Absent cursor: full current partition.
	res, err := l.FetchIncremental(ctx, []string{"alice:bob"}, nil, now)
	if err != nil {
		t.Fatalf("fetch no cursor: %v", err)
	}
	if len(res["alice:bob"]) != 3 {
		t.Fatalf("got %d messages, want 3", len(res["alice:bob"]))
	}

	// Mid cursor: strictly after.
	res, err = l.FetchIncremental(ctx, []string{"alice:bob"}, map[string]string{"alice:bob": id1}, now)
	if err != nil {
		t.Fatalf("fetch mid cursor: %v", err)
	}
	got := res["alice:bob"]
	if len(got) != 2 || got[0].ID != id2 || got[1].ID != id3 {
		t.Fatalf("unexpected tail: %+v", got)
	}

	// Cursor at last message: empty.
	res, err = l.FetchIncremental(ctx, []string{"alice:bob"}, map[string]string{"alice:bob": id3}, now)
	if err != nil {
		t.Fatalf("fetch last cursor: %v", err)
	}
	if len(res["alice:bob"]) != 0 {
		t.Fatalf("expected empty tail, got %+v", res["alice:bob"])
	}

	// Unknown cursor (evicted or prior-day): everything, not an error.
	res, err = l.FetchIncremental(ctx, []string{"alice:bob"}, map[string]string{"alice:bob": "01HZZZZZZZZZZZZZZZZZZZZZZZ"}, now)
	if err != nil {
		t.Fatalf("fetch unknown cursor: %v", err)
	}
	if len(res["alice:bob"]) != 3 {
		t.Fatalf("unknown cursor must return everything, got %d", len(res["alice:bob"]))
	}
}

func TestFetchIncremental_TodayOnly(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, DefaultConfig())
	ctx := context.Background()

	yesterday := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	today := time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC)

	mustAppend(t, l, "public", "alice", "late night", yesterday)
	mustAppend(t, l, "public", "bob", "early morning", today)

	res, err := l.FetchIncremental(ctx, []string{"public"}, nil, today)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got := res["public"]
	if len(got) != 1 || got[0].Body != "early morning" {
		t.Fatalf("incremental fetch must read today's partition only: %+v", got)
	}
}

func TestFetchWindow_SpansDaysOrderedAndLimited(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WindowDays = 7
	cfg.WindowLimit = 5
	l, _ := newTestLog(t, cfg)
	ctx := context.Background()

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	// Ten messages, one per day going back; only 7 are in the window and
	// only the last 5 of those survive the limit.
	for d := 9; d >= 0; d-- {
		at := now.AddDate(0, 0, -d)
		mustAppend(t, l, "public", "alice", fmt.Sprintf("day-%d", d), at)
	}

	got, err := l.FetchWindow(ctx, "public", now)
	if err != nil {
		t.Fatalf("fetchWindow: %v", err)
	}
	if len(got) != cfg.WindowLimit {
		t.Fatalf("got %d messages, want %d", len(got), cfg.WindowLimit)
	}
	for i := 1; i < len(got); i++ {
		if got[i].SentAt.Before(got[i-1].SentAt) {
			t.Fatalf("window not sorted at %d", i)
		}
	}
	if got[len(got)-1].Body != "day-0" {
		t.Fatalf("newest message missing: %+v", got[len(got)-1])
	}
	if got[0].Body != "day-4" {
		t.Fatalf("window start = %q, want day-4", got[0].Body)
	}
}

func TestFetchWindow_OmitsMessagesOutsideWindow(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, DefaultConfig())
	ctx := context.Background()

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -8) // beyond the 7-day window

	mustAppend(t, l, "public", "alice", "ancient", old)
	mustAppend(t, l, "public", "alice", "recent", now)

	got, err := l.FetchWindow(ctx, "public", now)
	if err != nil {
		t.Fatalf("fetchWindow: %v", err)
	}
	if len(got) != 1 || got[0].Body != "recent" {
		t.Fatalf("expected only the in-window message, got %+v", got)
	}
}

func TestPartitionKey_UTCDay(t *testing.T) {
	t.Parallel()

	// 23:30 in UTC-5 is 04:30 next day UTC; the key must use the UTC date.
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2024, 6, 1, 23, 30, 0, 0, loc)

	if got := PartitionKey("public", ts); got != "messages:public:2024-06-02" {
		t.Fatalf("partition key = %q, want UTC day 2024-06-02", got)
	}
}

func TestAppend_RearmsRetention(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := t0
	store := kv.NewMemoryStore(kv.WithClock(func() time.Time { return clock }))

	cfg := DefaultConfig()
	cfg.Retention = 48 * time.Hour
	l, err := NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)), store, cfg)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}

	ctx := context.Background()
	key := PartitionKey("public", t0)

	mustAppend(t, l, "public", "alice", "hi", t0)

	// Second append to the same partition 40h in, rearming the TTL.
	clock = t0.Add(40 * time.Hour)
	mustAppend(t, l, "public", "alice", "still here", t0)

	// Past the original expiry but within the rearmed window.
	clock = t0.Add(80 * time.Hour)
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("partition expired despite rearm: %v", err)
	}

	// Past the rearmed expiry (40h + 48h) the partition is gone.
	clock = t0.Add(89 * time.Hour)
	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("partition past retention: err = %v, want ErrNotFound", err)
	}
}
