package chatapi

import (
	"time"

	"tide/cmd/internal/messages"
	"tide/cmd/internal/rooms"
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Success    bool `json:"success"`
	Registered bool `json:"registered"`
}

type presenceRequest struct {
	Username string `json:"username"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type sendRequest struct {
	From    string `json:"from"`
	Message string `json:"message"`
	To      string `json:"to,omitempty"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type messageResponse struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	RoomID      string    `json:"roomId"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
}

type lastMessageResponse struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

type roomResponse struct {
	ID           string               `json:"id"`
	Participants []string             `json:"participants"`
	CreatedAt    time.Time            `json:"createdAt"`
	LastMessage  *lastMessageResponse `json:"lastMessage"`
}

func toMessageResponse(m messages.Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		RoomID:      m.RoomID,
		Body:        m.Body,
		SentAt:      m.SentAt,
	}
}

func toMessageResponses(ms []messages.Message) []messageResponse {
	out := make([]messageResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func toRoomResponse(r rooms.Record) roomResponse {
	resp := roomResponse{
		ID:           r.ID,
		Participants: []string{r.Participants[0], r.Participants[1]},
		CreatedAt:    r.CreatedAt,
	}
	if r.LastMessage != nil {
		resp.LastMessage = &lastMessageResponse{
			Content:   r.LastMessage.Content,
			SenderID:  r.LastMessage.SenderID,
			Timestamp: r.LastMessage.Timestamp,
		}
	}
	return resp
}
