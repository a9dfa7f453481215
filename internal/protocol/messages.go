// Package protocol defines the WebSocket events exchanged between clients
// and the broadcast server. Every frame is a JSON object with a "type"
// discriminator. Clients may only send presence and keepalive events;
// message content always goes through the HTTP message pipeline.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/support-chat/internal/model"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypePing       = "ping"
)

// Server -> Client event types.
const (
	TypeSessionCreated = "session_created"
	TypeNewMessage     = "new_message"
	TypeReactionUpdate = "reaction_update"
	TypeMessageDeleted = "message_deleted"
	TypeOnlineCount    = "online_count"
	TypeUserTyping     = "user_typing"
	TypeUserStopTyping = "user_stop_typing"
	TypeUserBanned     = "user_banned"
	TypeBanned         = "banned"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeUnsupportedType = "unsupported_type"
	CodeBadMessage      = "bad_message"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server
// ---------------------------------------------------------------------------

// TypingMsg announces that the sender started typing.
type TypingMsg struct {
	Type string `json:"type"`
}

// StopTypingMsg announces that the sender stopped typing.
type StopTypingMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent once the connection is registered.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// NewMessageMsg carries a persisted message. The view is flattened into
// the event object.
type NewMessageMsg struct {
	Type string `json:"type"`
	model.MessageView
}

// ReactionUpdateMsg carries the current reaction count of a message.
type ReactionUpdateMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Count     int    `json:"count"`
}

// MessageDeletedMsg tells clients to drop a message from view.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// OnlineCountMsg carries the number of live connections.
type OnlineCountMsg struct {
	Type string `json:"type"`
	N    int    `json:"n"`
}

// UserTypingMsg relays another actor's typing indicator.
type UserTypingMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Pseudonym string `json:"pseudonym"`
}

// UserStopTypingMsg relays that another actor stopped typing.
type UserStopTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserBannedMsg tells clients an actor was banned.
type UserBannedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// BannedMsg is sent to a connection right before it is closed because its
// actor was banned or its credential revoked.
type BannedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorMsg reports a problem with a client frame.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// Unknown and server-only types are rejected; the type string is still
// returned so the caller can answer with an error event.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes a server event. payload is one of the server
// structs above (or nil for a bare event); msgType always wins over any
// type already set on the payload.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	m := map[string]interface{}{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
		}
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewErrorMessage encodes an error event.
func NewErrorMessage(code, message string) []byte {
	data, _ := NewServerMessage(TypeError, ErrorMsg{Code: code, Message: message})
	return data
}
