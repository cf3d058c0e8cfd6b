package relay

import (
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// request. The msg parameter is the concrete payload returned by
// protocol.ParseClientMessage (e.g. protocol.JoinRoomPayload).
type MessageHandler func(conn *Connection, requestID string, msg interface{})

// MessageDispatcher routes incoming requests to registered handlers based on
// the message type and sends structured error replies for malformed or
// unsupported requests.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   *zap.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(logger *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses the raw bytes and routes the request to its handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	env, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.logger.Debug("dispatch parse error", zap.String("user", conn.ID), zap.Error(err))
		code := protocol.CodeParseError
		if env.Type != "" && msg == nil {
			if _, known := d.handlers[env.Type]; !known {
				code = protocol.CodeUnsupportedType
			}
		}
		d.replyError(conn, env.RequestID, code, "invalid message")
		return
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Debug("unsupported message type", zap.String("type", env.Type), zap.String("user", conn.ID))
		d.replyError(conn, env.RequestID, protocol.CodeUnsupportedType, "unsupported message type")
		return
	}

	handler(conn, env.RequestID, msg)
}

// reply sends a success reply. Errors during construction or transmission
// are logged but not propagated.
func (d *MessageDispatcher) reply(conn *Connection, requestID string, payload interface{}) {
	data, err := protocol.NewResponse(requestID, payload)
	if err != nil {
		d.logger.Error("build reply", zap.String("user", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.logger.Debug("send reply", zap.String("user", conn.ID), zap.Error(err))
	}
}

// replyError sends a structured error reply.
func (d *MessageDispatcher) replyError(conn *Connection, requestID, code, message string) {
	data, err := protocol.NewErrorResponse(requestID, code, message)
	if err != nil {
		d.logger.Error("build error reply", zap.String("user", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.logger.Debug("send error reply", zap.String("user", conn.ID), zap.Error(err))
	}
}
