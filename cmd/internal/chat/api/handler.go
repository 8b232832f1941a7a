// Package chatapi wires the chat backend's HTTP surface to the core
// components: identity, presence, the room directory, and the message log.
//
// Validation happens at the boundary of each operation before any store
// write, so malformed input never leaves partial state behind. Store-level
// failures surface as 500s and are not retried here; the caller retries.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tide/cmd/identity"
	"tide/cmd/internal/messages"
	"tide/cmd/internal/presence"
	"tide/cmd/internal/rooms"
)

// Handler exposes the chat endpoints.
type Handler struct {
	log *slog.Logger
	cfg Config

	users     *identity.Store
	presence  *presence.Tracker
	directory *rooms.Directory
	msglog    *messages.Log
}

// NewHandler constructs a chat Handler from its injected dependencies.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	users *identity.Store,
	tracker *presence.Tracker,
	directory *rooms.Directory,
	msglog *messages.Log,
) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || tracker == nil || directory == nil || msglog == nil {
		return nil, errors.New("chatapi: nil dependency")
	}

	return &Handler{
		log:       log,
		cfg:       cfg,
		users:     users,
		presence:  tracker,
		directory: directory,
		msglog:    msglog,
	}, nil
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth", h.handleAuth)
	mux.HandleFunc("/presence", h.handlePresence)
	mux.HandleFunc("/presence/offline", h.handleOffline)
	mux.HandleFunc("/messages", h.handleMessages)
	mux.HandleFunc("/rooms", h.handleRooms)
}

// ---- handlers ----

// handleAuth is the combined register-or-login endpoint: an unknown username
// registers, a known one verifies the password.
func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req authRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := identity.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username", "username must be 2-20 characters from [A-Za-z0-9_-]")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	registered := false
	_, err := h.users.Authenticate(ctx, req.Username, req.Password)
	switch {
	case err == nil:
		// Existing user, correct password.
	case identity.IsNotFound(err):
		if _, err := h.users.Register(ctx, req.Username, req.Password, now); err != nil {
			switch {
			case identity.IsConflict(err):
				// Lost a registration race after the lookup.
				writeError(w, http.StatusConflict, "username_taken", "username already registered")
			case identity.IsInvalidInput(err):
				writeError(w, http.StatusBadRequest, "weak_password", "password rejected by policy")
			default:
				h.log.Error("auth.register.fail", "err", err)
				writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
			}
			return
		}
		registered = true
	case identity.IsBadPassword(err):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	default:
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}

	// Login/registration implies activity.
	if err := h.presence.Heartbeat(ctx, req.Username, now); err != nil {
		h.log.Error("auth.heartbeat.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}

	h.log.Info("auth.ok", "username", identity.NormalizeUsername(req.Username), "registered", registered)
	writeJSON(w, http.StatusOK, authResponse{Success: true, Registered: registered})
}

// handlePresence serves heartbeat (POST) and the active-user listing (GET).
func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req presenceRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		if err := identity.ValidateUsername(req.Username); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_username", "bad username")
			return
		}

		if err := h.presence.Heartbeat(r.Context(), req.Username, time.Now().UTC()); err != nil {
			h.log.Error("presence.heartbeat.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})

	case http.MethodGet:
		users, err := h.presence.ListActive(r.Context())
		if err != nil {
			h.log.Error("presence.list.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
			return
		}
		if users == nil {
			users = []string{}
		}
		writeJSON(w, http.StatusOK, users)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleOffline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req presenceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := identity.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username", "bad username")
		return
	}

	if err := h.presence.GoOffline(r.Context(), req.Username); err != nil {
		h.log.Error("presence.offline.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSend(w, r)
	case http.MethodGet:
		h.handleFetch(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSend runs the full send flow: presence gate, room resolution,
// append, then directory upsert for private rooms. The append and the
// directory write are two separate keys and are only eventually consistent
// with each other.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if err := identity.ValidateUsername(req.From); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username", "bad sender username")
		return
	}
	body := strings.TrimSpace(req.Message)
	if body == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}

	if _, err := h.users.Lookup(ctx, req.From); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unknown_sender", "sender is not registered")
			return
		}
		h.log.Error("send.lookup_sender.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}

	active, err := h.presence.IsActive(ctx, req.From)
	if err != nil {
		h.log.Error("send.presence.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}
	if !active {
		writeError(w, http.StatusForbidden, "sender_inactive", "sender has no active presence; heartbeat first")
		return
	}

	sender := identity.NormalizeUsername(req.From)

	roomID := rooms.PublicRoomID
	recipient := ""
	if strings.TrimSpace(req.To) != "" {
		if err := identity.ValidateUsername(req.To); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_username", "bad recipient username")
			return
		}
		recipient = identity.NormalizeUsername(req.To)
		if recipient == sender {
			writeError(w, http.StatusBadRequest, "invalid_recipient", "cannot message yourself")
			return
		}
		if _, err := h.users.Lookup(ctx, req.To); err != nil {
			if identity.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "unknown_recipient", "recipient is not registered")
				return
			}
			h.log.Error("send.lookup_recipient.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
			return
		}
		roomID = rooms.CanonicalID(sender, recipient)
	}

	msgID, err := h.msglog.Append(ctx, messages.Message{
		SenderID:    sender,
		RecipientID: recipient,
		RoomID:      roomID,
		Body:        body,
		SentAt:      now,
	})
	if err != nil {
		h.log.Error("send.append.fail", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}

	if recipient != "" {
		_, err := h.directory.Upsert(ctx, sender, recipient, rooms.LastMessage{
			Content:   body,
			SenderID:  sender,
			Timestamp: now,
		}, now)
		if err != nil {
			h.log.Error("send.directory.fail", "room_id", roomID, "err", err)
			writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
			return
		}
	}

	// Sending implies activity; refresh the presence window.
	if err := h.presence.Heartbeat(ctx, sender, now); err != nil {
		// The message is already stored; log and keep the success response.
		h.log.Warn("send.heartbeat.fail", "err", err)
	}

	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: msgID, RoomID: roomID})
}

// handleFetch dispatches between the two retrieval modes:
//   - ?user=&roomId=       window fetch (membership required for private rooms)
//   - ?roomIds=&lastId_*=  incremental fetch with per-room cursors
func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("roomIds") != "" {
		h.handleFetchIncremental(w, r)
		return
	}
	if q.Get("user") != "" && q.Get("roomId") != "" {
		h.handleFetchWindow(w, r)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "need either roomIds or user+roomId")
}

func (h *Handler) handleFetchWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	user := q.Get("user")
	roomID := q.Get("roomId")

	ok, err := h.directory.IsMember(ctx, roomID, user)
	if err != nil {
		h.log.Error("fetch.window.member.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}
	if !ok {
		// Non-member and nonexistent room are indistinguishable on purpose.
		writeError(w, http.StatusForbidden, "forbidden", "not a member of this room")
		return
	}

	msgs, err := h.msglog.FetchWindow(ctx, roomID, time.Now().UTC())
	if err != nil {
		h.log.Error("fetch.window.fail", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *Handler) handleFetchIncremental(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	user := q.Get("user")

	var roomIDs []string
	cursors := make(map[string]string)
	for _, roomID := range strings.Split(q.Get("roomIds"), ",") {
		roomID = strings.TrimSpace(roomID)
		if roomID == "" {
			continue
		}

		// Private rooms require verified membership; rooms the caller cannot
		// read are omitted from the response rather than failing the poll.
		if !rooms.IsPublic(roomID) {
			if user == "" {
				continue
			}
			ok, err := h.directory.IsMember(ctx, roomID, user)
			if err != nil {
				h.log.Error("fetch.incr.member.fail", "err", err)
				writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
				return
			}
			if !ok {
				continue
			}
		}

		roomIDs = append(roomIDs, roomID)
		if cur := q.Get("lastId_" + roomID); cur != "" {
			cursors[roomID] = cur
		}
	}

	res, err := h.msglog.FetchIncremental(ctx, roomIDs, cursors, time.Now().UTC())
	if err != nil {
		h.log.Error("fetch.incr.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}

	out := make(map[string][]messageResponse, len(res))
	for roomID, msgs := range res {
		out[roomID] = toMessageResponses(msgs)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user := r.URL.Query().Get("user")
	if err := identity.ValidateUsername(user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username", "bad username")
		return
	}

	recs, err := h.directory.ListFor(r.Context(), user)
	if err != nil {
		h.log.Error("rooms.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "storage unavailable")
		return
	}

	out := make([]roomResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRoomResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
