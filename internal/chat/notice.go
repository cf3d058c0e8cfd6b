package chat

// Level classifies a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// String returns the string representation of a Level.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a user-visible message produced by an action or a connection
// event.
type Notice struct {
	Level Level
	Text  string
}

// Notice texts shown to the user.
const (
	NoticeJoinFailed   = "Failed to join room. Please try again."
	NoticeCreateFailed = "Failed to create room. Please try again."
	NoticeSendFailed   = "Failed to send message. Please try again."
	NoticeCopied       = "Room ID copied to clipboard"
	NoticeCopyFailed   = "Failed to copy room ID."
	NoticeReconnecting = "Connection lost. Reconnecting..."
	NoticeDialFailed   = "Unable to reach the chat server."
)

func rejoiningNotice(roomID string) string {
	return "Connection lost. Reconnecting and rejoining room " + roomID + "..."
}
