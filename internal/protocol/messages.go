// Package protocol defines the room chat wire format shared by the transport
// clients and the loopback relay. All frames are JSON text messages carrying a
// type discriminator; requests carry a request ID that the server echoes in
// its response so calls can be correlated.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server request types. TypeSendMessage and TypeSetTypingPresence are
// also used by the server when it pushes the corresponding broadcast.
const (
	TypeJoinRoom          = "joinRoom"
	TypeCreateRoom        = "createRoom"
	TypeSendMessage       = "sendMessage"
	TypeSetTypingPresence = "setTypingPresence"
)

// Server -> Client message types.
const (
	TypeUserID   = "userId"
	TypeResponse = "response"
	TypeError    = "error"
)

// Error codes carried in error replies.
const (
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
	CodeRoomNotFound    = "room_not_found"
	CodeNotInRoom       = "not_in_room"
	CodeInvalidMessage  = "invalid_message"
	CodeInvalidNickname = "invalid_nickname"
	CodeRateLimited     = "rate_limited"
	CodeMessageBlocked  = "message_blocked"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is the outer frame of every message in both directions. Data holds
// the raw payload for deferred decoding into the struct matching Type.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// UnmarshalJSON rejects frames without a type discriminator.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type envelope Envelope
	var raw envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if raw.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	*e = Envelope(raw)
	return nil
}

// Error is the payload of an error reply. It implements error so transport
// clients can return it directly to callers.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return "protocol: " + e.Code + ": " + e.Message
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// JoinRoomPayload asks the server to add the connection to an existing room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
	UserIcon string `json:"userIcon,omitempty"`
}

// CreateRoomPayload asks the server to create a room and join it.
type CreateRoomPayload struct {
	Nickname string `json:"nickname"`
	UserIcon string `json:"userIcon,omitempty"`
}

// SendMessagePayload carries a chat message body for the current room.
type SendMessagePayload struct {
	Body string `json:"body"`
}

// SetTypingPayload reports whether the sender is currently typing.
type SetTypingPayload struct {
	Typing bool `json:"typing"`
}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// ChatMessage is a chat message as broadcast to every room member, including
// the sender.
type ChatMessage struct {
	IsSystemMessage bool   `json:"isSystemMessage"`
	UserIcon        string `json:"userIcon,omitempty"`
	UserNickname    string `json:"userNickname"`
	Body            string `json:"body"`
	PermID          string `json:"permId"`
	Timestamp       int64  `json:"timestamp"`
}

// UserIDData is pushed once per connection to tell the client its user ID.
type UserIDData struct {
	UserID string `json:"userId"`
}

// TypingPresenceData is the full set of users currently typing in a room.
type TypingPresenceData struct {
	UsersTyping []string `json:"usersTyping"`
}

// JoinRoomResult is the reply to a join request. Messages holds the recent
// backlog of the room, oldest first.
type JoinRoomResult struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// CreateRoomResult is the reply to a create request.
type CreateRoomResult struct {
	RoomID string `json:"roomId"`
}

// Ack is the reply to requests that return nothing but success.
type Ack struct {
	OK bool `json:"ok"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// DecodeFrame parses raw websocket bytes into an Envelope.
func DecodeFrame(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: failed to parse message: %w", err)
	}
	return env, nil
}

// ParseClientMessage parses raw bytes sent by a client into the envelope and
// the decoded request payload. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (Envelope, interface{}, error) {
	env, err := DecodeFrame(data)
	if err != nil {
		return Envelope{}, nil, err
	}

	var msg interface{}
	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomPayload
		err = decodeData(env.Data, &m)
		msg = m
	case TypeCreateRoom:
		var m CreateRoomPayload
		err = decodeData(env.Data, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessagePayload
		err = decodeData(env.Data, &m)
		msg = m
	case TypeSetTypingPresence:
		var m SetTypingPayload
		err = decodeData(env.Data, &m)
		msg = m
	default:
		return env, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env, msg, nil
}

// NewClientMessage builds a request frame.
func NewClientMessage(msgType, requestID string, payload interface{}) ([]byte, error) {
	return marshalEnvelope(msgType, requestID, payload, nil)
}

// NewServerMessage builds a push frame with no request ID.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	return marshalEnvelope(msgType, "", payload, nil)
}

// NewResponse builds a success reply to the request identified by requestID.
func NewResponse(requestID string, payload interface{}) ([]byte, error) {
	return marshalEnvelope(TypeResponse, requestID, payload, nil)
}

// NewErrorResponse builds an error reply. requestID may be empty when the
// failing frame could not be parsed far enough to recover it.
func NewErrorResponse(requestID, code, message string) ([]byte, error) {
	return marshalEnvelope(TypeError, requestID, nil, &Error{Code: code, Message: message})
}

// DecodeData decodes an envelope payload into v.
func DecodeData(data json.RawMessage, v interface{}) error {
	if err := decodeData(data, v); err != nil {
		return fmt.Errorf("protocol: failed to decode payload: %w", err)
	}
	return nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func marshalEnvelope(msgType, requestID string, payload interface{}, perr *Error) ([]byte, error) {
	env := Envelope{Type: msgType, RequestID: requestID, Error: perr}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q message: %w", msgType, err)
	}
	return out, nil
}
