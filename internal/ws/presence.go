package ws

import (
	"github.com/whisper/support-chat/internal/protocol"
)

// RegisterPresenceHandlers wires the typing indicators into d.
func (s *Server) RegisterPresenceHandlers(d *MessageDispatcher) {
	d.Register(protocol.TypeTyping, s.HandleTyping)
	d.Register(protocol.TypeStopTyping, s.HandleStopTyping)
}

// HandleTyping relays a typing indicator to everyone but the sender.
// Relays beyond the per-connection token bucket, or while the outbox is
// full, are dropped.
func (s *Server) HandleTyping(conn *Connection, _ interface{}) {
	if !conn.typing.Allow() {
		return
	}
	conn.isTyping.Store(true)
	s.tryBroadcast(protocol.TypeUserTyping, protocol.UserTypingMsg{
		UserID:    conn.ActorID,
		Pseudonym: conn.Pseudonym,
	}, conn.ID)
}

// HandleStopTyping relays the end of a typing indicator, only if the
// connection was marked as typing.
func (s *Server) HandleStopTyping(conn *Connection, _ interface{}) {
	if !conn.isTyping.Swap(false) {
		return
	}
	s.tryBroadcast(protocol.TypeUserStopTyping, protocol.UserStopTypingMsg{
		UserID: conn.ActorID,
	}, conn.ID)
}
