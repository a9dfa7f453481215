package model

import "time"

// DefaultRoomID is the shared room used when a caller does not name one.
const DefaultRoomID = "general"

// Message is a chat message. DeletedAt non-nil marks a tombstone: hidden
// from recent reads, still resolvable by id for reports.
type Message struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId"`
	AuthorID  string     `json:"authorId"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the message has been soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MessageView is a message joined with its author's public identity and
// current reaction count, as returned to clients and broadcast.
type MessageView struct {
	Message
	Pseudonym     string `json:"pseudonym"`
	Avatar        string `json:"avatar"`
	ReactionCount int    `json:"reactionCount"`
}

// Reaction is an (actor, message) pair. At most one exists per pair.
type Reaction struct {
	ActorID   string    `json:"actorId"`
	MessageID string    `json:"messageId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultReactionEmoji is stored when the client does not pick one.
const DefaultReactionEmoji = "❤️"
