package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of an inbound Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindUserID
	KindChatMessage
	KindTypingPresence
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindUserID:
		return "user_id"
	case KindChatMessage:
		return "chat_message"
	case KindTypingPresence:
		return "typing_presence"
	default:
		return "unknown"
	}
}

// Event is an inbound server push. The set of implementations is closed:
// UserIDEvent, ChatMessageEvent, TypingPresenceEvent and UnknownEvent.
type Event interface {
	Kind() Kind
	isEvent()
}

// UserIDEvent assigns the connection its user ID.
type UserIDEvent struct {
	UserID string
}

// ChatMessageEvent delivers one chat message of the current room.
type ChatMessageEvent struct {
	Message ChatMessage
}

// TypingPresenceEvent replaces the set of users typing in the current room.
type TypingPresenceEvent struct {
	UsersTyping []string
}

// UnknownEvent is a push whose type this client does not understand.
type UnknownEvent struct {
	Type string
	Data json.RawMessage
}

func (UserIDEvent) Kind() Kind         { return KindUserID }
func (ChatMessageEvent) Kind() Kind    { return KindChatMessage }
func (TypingPresenceEvent) Kind() Kind { return KindTypingPresence }
func (UnknownEvent) Kind() Kind        { return KindUnknown }

func (UserIDEvent) isEvent()         {}
func (ChatMessageEvent) isEvent()    {}
func (TypingPresenceEvent) isEvent() {}
func (UnknownEvent) isEvent()        {}

// DecodeEvent converts a push envelope into its Event variant. Unrecognised
// types decode to UnknownEvent rather than an error so newer servers can add
// pushes without breaking older clients.
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Type {
	case TypeUserID:
		var d UserIDData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q push: %w", env.Type, err)
		}
		return UserIDEvent{UserID: d.UserID}, nil
	case TypeSendMessage:
		var m ChatMessage
		if err := decodeData(env.Data, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q push: %w", env.Type, err)
		}
		return ChatMessageEvent{Message: m}, nil
	case TypeSetTypingPresence:
		var d TypingPresenceData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q push: %w", env.Type, err)
		}
		if d.UsersTyping == nil {
			d.UsersTyping = []string{}
		}
		return TypingPresenceEvent{UsersTyping: d.UsersTyping}, nil
	default:
		return UnknownEvent{Type: env.Type, Data: env.Data}, nil
	}
}

// IsReply reports whether the envelope answers a request rather than being a
// server push.
func (e Envelope) IsReply() bool {
	return (e.Type == TypeResponse || e.Type == TypeError) && e.RequestID != ""
}
