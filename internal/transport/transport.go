// Package transport defines the contract between the chat client and the
// real-time room service. Implementations live in internal/ws (websocket) and
// internal/messaging (NATS); the chat controller only sees these interfaces.
package transport

import (
	"context"
	"errors"

	"github.com/whisper/roomchat/internal/protocol"
)

var (
	// ErrClosed is returned for calls on a client that has been closed or
	// whose connection dropped while the call was pending.
	ErrClosed = errors.New("transport: client closed")

	// ErrNotConnected is returned for calls made while the client is between
	// connections.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNotInRoom is returned by Send before a room has been joined.
	ErrNotInRoom = errors.New("transport: not in a room")
)

// Handler receives connection lifecycle events and server pushes. A client
// calls its handler from a single goroutine, one event at a time.
type Handler interface {
	// OnConnectionReady is called every time a connection is established,
	// including after an automatic redial.
	OnConnectionReady()

	// OnClose is called when an established connection is lost. It is not
	// called when the client is closed deliberately.
	OnClose()

	// OnMessage is called for every server push.
	OnMessage(ev protocol.Event)
}

// RoomInfo describes a joined room.
type RoomInfo struct {
	RoomID   string
	Messages []protocol.ChatMessage // recent backlog, oldest first
}

// Client is a connection to the room service.
type Client interface {
	JoinRoom(ctx context.Context, nickname, roomID, icon string) (RoomInfo, error)
	CreateRoom(ctx context.Context, nickname, icon string) (string, error)

	// Send sends a room message of the given type. msgType is
	// protocol.TypeSendMessage with a protocol.SendMessagePayload, or
	// protocol.TypeSetTypingPresence with a protocol.SetTypingPayload.
	Send(ctx context.Context, msgType string, payload interface{}) error

	// Close releases the connection. It is safe to call multiple times.
	Close() error
}

// Dialer creates a client bound to h. The handler is registered exactly once
// per client instance.
type Dialer func(ctx context.Context, h Handler) (Client, error)
