package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/protocol"
)

// ErrRoomNotFound is returned when joining a room that was never created.
var ErrRoomNotFound = errors.New("relay: room not found")

// ErrNotInRoom is returned when a connection sends to a room it has not joined.
var ErrNotInRoom = errors.New("relay: connection is not in a room")

type member struct {
	conn     *Connection
	nickname string
	icon     string
}

type room struct {
	id      string
	members map[string]*member  // user ID -> member
	typing  map[string]struct{} // user IDs currently typing
}

// Rooms tracks room membership and typing presence, and fans messages out to
// members. Rooms outlive their members so a client can rejoin after a
// reconnect; they are dropped when the relay stops.
type Rooms struct {
	mu      sync.Mutex
	rooms   map[string]*room
	byConn  map[string]string // user ID -> room ID
	backlog *Backlog
	logger  *zap.Logger
	now     func() time.Time
}

// NewRooms creates an empty room registry.
func NewRooms(backlog *Backlog, logger *zap.Logger) *Rooms {
	return &Rooms{
		rooms:   make(map[string]*room),
		byConn:  make(map[string]string),
		backlog: backlog,
		logger:  logger,
		now:     time.Now,
	}
}

// Create makes a new room with conn as its first member and returns its ID.
// A connection already in another room leaves it first.
func (r *Rooms) Create(conn *Connection, nickname, icon string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(conn.ID)

	id := uuid.New().String()[:8]
	for r.rooms[id] != nil {
		id = uuid.New().String()[:8]
	}
	rm := &room{
		id:      id,
		members: make(map[string]*member),
		typing:  make(map[string]struct{}),
	}
	r.rooms[id] = rm
	rm.members[conn.ID] = &member{conn: conn, nickname: nickname, icon: icon}
	r.byConn[conn.ID] = id
	return id
}

// Join adds conn to an existing room and returns the room's backlog. Other
// members receive a system message announcing the new member.
func (r *Rooms) Join(roomID string, conn *Connection, nickname, icon string) ([]protocol.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.byConn[conn.ID] != roomID {
		r.leaveLocked(conn.ID)
	}

	backlog := r.backlog.Get(roomID)
	rm.members[conn.ID] = &member{conn: conn, nickname: nickname, icon: icon}
	r.byConn[conn.ID] = roomID

	r.broadcastLocked(rm, r.systemMessage(nickname+" joined the room"), conn.ID)
	return backlog, nil
}

// Say broadcasts a chat message from conn to every member of its room,
// including the sender.
func (r *Rooms) Say(conn *Connection, body string) (protocol.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, m := r.memberLocked(conn.ID)
	if m == nil {
		return protocol.ChatMessage{}, ErrNotInRoom
	}

	msg := protocol.ChatMessage{
		UserIcon:     m.icon,
		UserNickname: m.nickname,
		Body:         body,
		PermID:       uuid.New().String(),
		Timestamp:    r.now().UnixMilli(),
	}
	r.backlog.Add(rm.id, msg)
	r.broadcastLocked(rm, msg, "")
	return msg, nil
}

// SetTyping records conn's typing state and broadcasts the full presence set
// to the room.
func (r *Rooms) SetTyping(conn *Connection, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, m := r.memberLocked(conn.ID)
	if m == nil {
		return ErrNotInRoom
	}
	if typing {
		rm.typing[conn.ID] = struct{}{}
	} else {
		delete(rm.typing, conn.ID)
	}
	r.broadcastPresenceLocked(rm)
	return nil
}

// Leave removes conn from its room, if any.
func (r *Rooms) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

// Count returns the number of rooms.
func (r *Rooms) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Rooms) leaveLocked(connID string) {
	roomID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)

	rm := r.rooms[roomID]
	if rm == nil {
		return
	}
	m := rm.members[connID]
	delete(rm.members, connID)
	if _, typing := rm.typing[connID]; typing {
		delete(rm.typing, connID)
		r.broadcastPresenceLocked(rm)
	}
	if m != nil {
		r.broadcastLocked(rm, r.systemMessage(m.nickname+" left the room"), "")
	}
}

func (r *Rooms) memberLocked(connID string) (*room, *member) {
	rm := r.rooms[r.byConn[connID]]
	if rm == nil {
		return nil, nil
	}
	return rm, rm.members[connID]
}

func (r *Rooms) systemMessage(body string) protocol.ChatMessage {
	return protocol.ChatMessage{
		IsSystemMessage: true,
		Body:            body,
		PermID:          uuid.New().String(),
		Timestamp:       r.now().UnixMilli(),
	}
}

func (r *Rooms) broadcastPresenceLocked(rm *room) {
	ids := make([]string, 0, len(rm.typing))
	for id := range rm.typing {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := protocol.NewServerMessage(protocol.TypeSetTypingPresence, protocol.TypingPresenceData{UsersTyping: ids})
	if err != nil {
		r.logger.Error("build presence frame", zap.Error(err))
		return
	}
	r.sendAllLocked(rm, data, "")
}

// broadcastLocked sends msg to every member except skipID. Write failures
// are logged; the read loop cleans up dead connections.
func (r *Rooms) broadcastLocked(rm *room, msg protocol.ChatMessage, skipID string) {
	data, err := protocol.NewServerMessage(protocol.TypeSendMessage, msg)
	if err != nil {
		r.logger.Error("build message frame", zap.Error(err))
		return
	}
	r.sendAllLocked(rm, data, skipID)
}

func (r *Rooms) sendAllLocked(rm *room, data []byte, skipID string) {
	for id, m := range rm.members {
		if id == skipID {
			continue
		}
		if err := m.conn.WriteMessage(data); err != nil {
			r.logger.Debug("broadcast write failed", zap.String("room", rm.id), zap.String("user", id), zap.Error(err))
		}
	}
}
