package server

import (
	"encoding/json"
	"time"

	"github.com/player00001-26/number-guess/internal/session"
)

// MessageType identifies a WebSocket message.
type MessageType string

const (
	// Client -> server
	MessageTypeWatch   MessageType = "watch"
	MessageTypeUnwatch MessageType = "unwatch"

	// Server -> client
	MessageTypeSessionUpdate  MessageType = "session_update"
	MessageTypeSessionDeleted MessageType = "session_deleted"
	MessageTypeWatching       MessageType = "watching"
	MessageTypeError          MessageType = "error"
)

func (t MessageType) String() string { return string(t) }

// Message is the base WebSocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// WatchData asks the server to start pushing updates for one session, or
// for all sessions when SessionID is empty.
type WatchData struct {
	SessionID string `json:"sessionId"`
}

// SessionUpdateData carries the full session state after a mutation.
type SessionUpdateData struct {
	Session *session.Session `json:"session"`
}

// SessionDeletedData notifies watchers that a session is gone.
type SessionDeletedData struct {
	SessionID string `json:"sessionId"`
}

// ErrorData reports a transport-level failure to the client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTP request/response payloads.

type claimRequest struct {
	Number      int    `json:"number"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type listSessionsResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

type drawResponse struct {
	Winner       string `json:"winner"`
	WinnerNumber int    `json:"winnerNumber"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}
