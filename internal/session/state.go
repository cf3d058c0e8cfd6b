package session

// ConnectionStatus represents the state of the connection to the chat server.
type ConnectionStatus int

const (
	// StatusDisconnected means there is no usable connection.
	StatusDisconnected ConnectionStatus = iota

	// StatusConnecting means a connection is being established.
	StatusConnecting

	// StatusConnected means the connection is ready for room actions.
	StatusConnected
)

// String returns the string representation of a ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// User is the local participant's identity inside a room.
type User struct {
	Nickname string
	Icon     string
}

// ChatMessage is one entry of the room log. Values are never modified after
// being appended.
type ChatMessage struct {
	PermID          string
	UserNickname    string
	UserIcon        string
	Body            string
	Timestamp       int64 // unix milliseconds
	IsSystemMessage bool
}

// Intent is the remembered room and nickname used to rejoin after the
// connection is re-established.
type Intent struct {
	RoomID   string
	Nickname string
}

// Empty reports whether the intent is incomplete and cannot drive a rejoin.
func (i Intent) Empty() bool {
	return i.RoomID == "" || i.Nickname == ""
}

// State is a point-in-time copy of the session. Slices are owned by the
// caller.
type State struct {
	Version       uint64 // incremented by every store mutation
	Status        ConnectionStatus
	UserID        string
	RoomID        string
	User          *User
	LastRoomID    string
	LastNickname  string
	Messages      []ChatMessage
	TypingUserIDs []string
}

// InRoom reports whether the session has an active room.
func (s State) InRoom() bool {
	return s.RoomID != "" && s.User != nil
}

// Intent returns the remembered room and nickname.
func (s State) Intent() Intent {
	return Intent{RoomID: s.LastRoomID, Nickname: s.LastNickname}
}

// IsOwnMessage reports whether msg was sent by the local user, matched by
// nickname the same way the room server attributes messages.
func (s State) IsOwnMessage(msg ChatMessage) bool {
	return s.User != nil && !msg.IsSystemMessage && msg.UserNickname == s.User.Nickname
}

// OtherTypers returns the typing user IDs excluding the local user.
func (s State) OtherTypers() []string {
	out := make([]string, 0, len(s.TypingUserIDs))
	for _, id := range s.TypingUserIDs {
		if id != s.UserID {
			out = append(out, id)
		}
	}
	return out
}
