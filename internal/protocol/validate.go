package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes  = 4096 // 4KB max body size
	MaxTextChars     = 2000 // max character count
	MaxNicknameChars = 32
	MaxRoomIDChars   = 64
)

// ValidateMessage checks that a chat message body meets content requirements.
func ValidateMessage(text string) error {
	if len(strings.TrimSpace(text)) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidateNickname checks that a nickname is usable as a display name.
func ValidateNickname(nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return fmt.Errorf("nickname is empty")
	}
	if !utf8.ValidString(nickname) {
		return fmt.Errorf("nickname contains invalid UTF-8")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameChars {
		return fmt.Errorf("nickname exceeds %d character limit", MaxNicknameChars)
	}
	return nil
}

// ValidateRoomID checks that a room ID is non-empty and bounded.
func ValidateRoomID(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("room id is empty")
	}
	if len(roomID) > MaxRoomIDChars {
		return fmt.Errorf("room id exceeds %d byte limit", MaxRoomIDChars)
	}
	return nil
}
