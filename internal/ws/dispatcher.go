package ws

import (
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to handlers by message type. Ping
// is answered internally; malformed or unknown messages get an error frame.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher bound to server, which may
// be nil and set later with SetServer.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the Server used for replies. NewServer takes Dispatch as
// its callback, so the dispatcher usually exists first.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates handler with msgType, replacing any previous handler.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Debug().Err(err).Str("conn", conn.ID).Msg("dispatch parse error")
		d.SendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.Send(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Debug().Str("type", msgType).Str("conn", conn.ID).Msg("unsupported message type")
		d.SendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// Send encodes payload under msgType and writes it to conn. Failures are
// logged; the heartbeat reaps broken connections.
func (d *MessageDispatcher) Send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to build server message")
		return
	}

	if d.server != nil {
		err = d.server.Write(conn, data)
	} else {
		err = conn.WriteMessage(data)
	}
	if err != nil {
		log.Debug().Err(err).Str("type", msgType).Str("conn", conn.ID).Msg("failed to send message")
	}
}

// SendError sends a structured error frame.
func (d *MessageDispatcher) SendError(conn *Connection, code string, message string) {
	d.Send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
