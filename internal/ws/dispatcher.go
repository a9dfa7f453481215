package ws

import (
	"log/slog"

	"github.com/whisper/support-chat/internal/protocol"
)

// MessageHandler handles one parsed client event. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes client frames to registered handlers by event
// type. Ping is answered internally; malformed frames and unsupported
// types get an error event back.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
	logger   *slog.Logger
}

// NewMessageDispatcher creates a MessageDispatcher bound to server.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
		logger:   server.logger.With(slog.String("subcomponent", "dispatcher")),
	}
}

// Register associates a MessageHandler with an event type, replacing any
// previous handler.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's message callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		if msgType != "" {
			d.logger.Info("unsupported message type", slog.String("type", msgType), slog.String("conn", conn.ID))
			d.server.send(conn, protocol.NewErrorMessage(protocol.CodeUnsupportedType, "unsupported message type"))
			return
		}
		d.logger.Debug("parse error", slog.String("conn", conn.ID), slog.Any("error", err))
		d.server.send(conn, protocol.NewErrorMessage(protocol.CodeBadMessage, "invalid message format"))
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.logger.Info("no handler for message type", slog.String("type", msgType), slog.String("conn", conn.ID))
		d.server.send(conn, protocol.NewErrorMessage(protocol.CodeUnsupportedType, "unsupported message type"))
		return
	}

	handler(conn, msg)
}

// sendPong answers an application-level ping.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch(d.server.clock.Now())

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.logger.Error("build pong", slog.Any("error", err))
		return
	}
	d.server.send(conn, data)
}
