// Package main provides a CI-friendly end-to-end smoke test for the tide
// chat server.
//
// It validates:
//   - register/login via /auth
//   - heartbeat + active listing via /presence
//   - public and private send via /messages
//   - room directory listing with last-message preview
//   - window fetch and incremental fetch with a cursor
//   - membership enforcement (403 for outsiders)
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

type smoke struct {
	base    string
	client  *http.Client
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		userA   = flag.String("a", "", "First username (default smoke-a-<nano>)")
		userB   = flag.String("b", "", "Second username (default smoke-b-<nano>)")
		text    = flag.String("text", "hello tide", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	// Usernames are capped at 20 chars, so use a short suffix.
	suffix := fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	a := *userA
	if a == "" {
		a = "smoke-a-" + suffix
	}
	b := *userB
	if b == "" {
		b = "smoke-b-" + suffix
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{Timeout: *timeout},
		verbose: *verbose,
	}

	const password = "smoke-test-password"
	s.mustAuth(a, password)
	s.mustAuth(b, password)

	active := s.mustActiveUsers()
	if !contains(active, a) || !contains(active, b) {
		fatalf("presence: %v does not contain %s and %s", active, a, b)
	}

	pubID := s.mustSend(a, "", *text+" (public)")
	if pubID.RoomID != "public" {
		fatalf("public send: room_id=%q want public", pubID.RoomID)
	}

	priv := s.mustSend(a, b, *text)
	wantRoom := canonicalRoom(a, b)
	if priv.RoomID != wantRoom {
		fatalf("private send: room_id=%q want %q", priv.RoomID, wantRoom)
	}

	rooms := s.mustRooms(b)
	found := false
	for _, r := range rooms {
		if r.ID == wantRoom {
			found = true
			if r.LastMessage == nil || r.LastMessage.Content != *text {
				fatalf("room %s: lastMessage=%+v want content %q", r.ID, r.LastMessage, *text)
			}
		}
	}
	if !found {
		fatalf("rooms for %s: %v missing %s", b, rooms, wantRoom)
	}

	window := s.mustWindow(b, wantRoom)
	if len(window) == 0 || window[len(window)-1].Body != *text {
		fatalf("window fetch: got %d messages, want trailing %q", len(window), *text)
	}

	// Incremental fetch from the last seen id must return nothing new.
	incr := s.mustIncremental(b, wantRoom, window[len(window)-1].ID)
	if n := len(incr[wantRoom]); n != 0 {
		fatalf("incremental after cursor: got %d messages, want 0", n)
	}

	// A third account must not read the private room.
	c := "smoke-c-" + suffix
	s.mustAuth(c, password)
	if status := s.windowStatus(c, wantRoom); status != http.StatusForbidden {
		fatalf("outsider window fetch: status=%d want 403", status)
	}

	fmt.Printf("OK: a=%s b=%s room=%s msg=%s\n", a, b, wantRoom, priv.MessageID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func canonicalRoom(a, b string) string {
	names := []string{strings.ToLower(a), strings.ToLower(b)}
	sort.Strings(names)
	return names[0] + ":" + names[1]
}

type sendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type msgResult struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
	Body     string `json:"body"`
}

type roomResult struct {
	ID          string `json:"id"`
	LastMessage *struct {
		Content  string `json:"content"`
		SenderID string `json:"senderId"`
	} `json:"lastMessage"`
}

func (s *smoke) mustAuth(username, password string) {
	var resp struct {
		Success    bool `json:"success"`
		Registered bool `json:"registered"`
	}
	s.mustPost("/auth", map[string]string{"username": username, "password": password}, &resp)
	if !resp.Success {
		fatalf("auth %s: success=false", username)
	}
	if s.verbose {
		fmt.Printf("auth: user=%s registered=%v\n", username, resp.Registered)
	}
}

func (s *smoke) mustActiveUsers() []string {
	var users []string
	s.mustGet("/presence", &users)
	return users
}

func (s *smoke) mustSend(from, to, text string) sendResult {
	body := map[string]string{"from": from, "message": text}
	if to != "" {
		body["to"] = to
	}
	var resp sendResult
	s.mustPost("/messages", body, &resp)
	if !resp.Success || resp.MessageID == "" {
		fatalf("send from=%s to=%s: %+v", from, to, resp)
	}
	return resp
}

func (s *smoke) mustRooms(user string) []roomResult {
	var rooms []roomResult
	s.mustGet("/rooms?user="+url.QueryEscape(user), &rooms)
	return rooms
}

func (s *smoke) mustWindow(user, roomID string) []msgResult {
	var msgs []msgResult
	s.mustGet("/messages?user="+url.QueryEscape(user)+"&roomId="+url.QueryEscape(roomID), &msgs)
	return msgs
}

func (s *smoke) mustIncremental(user, roomID, lastID string) map[string][]msgResult {
	var byRoom map[string][]msgResult
	s.mustGet("/messages?user="+url.QueryEscape(user)+
		"&roomIds="+url.QueryEscape(roomID)+
		"&lastId_"+roomID+"="+url.QueryEscape(lastID), &byRoom)
	return byRoom
}

func (s *smoke) windowStatus(user, roomID string) int {
	resp, err := s.client.Get(s.base + "/messages?user=" + url.QueryEscape(user) + "&roomId=" + url.QueryEscape(roomID))
	if err != nil {
		fatalf("GET window: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (s *smoke) mustPost(path string, body, out any) {
	data, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s: %v", path, err)
	}
	resp, err := s.client.Post(s.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	s.decode(path, resp, out)
}

func (s *smoke) mustGet(path string, out any) {
	resp, err := s.client.Get(s.base + path)
	if err != nil {
		fatalf("GET %s: %v", path, err)
	}
	s.decode(path, resp, out)
}

func (s *smoke) decode(path string, resp *http.Response, out any) {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("%s: read body: %v", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		fatalf("%s: status=%d body=%s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		fatalf("%s: decode: %v (body=%s)", path, err, strings.TrimSpace(string(raw)))
	}
	if s.verbose {
		fmt.Printf("%s -> %s\n", path, strings.TrimSpace(string(raw)))
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "SMOKE FAIL: "+format+"\n", args...)
	os.Exit(1)
}
