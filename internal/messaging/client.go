package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
)

const (
	subMessages = "messages"
	subTyping   = "typing"

	eventQueueSize = 256
)

// Client is a transport.Client over NATS. The user ID is generated locally
// and announced to the handler right after the first connection.
type Client struct {
	nc      *NATSClient
	handler transport.Handler
	logger  *zap.Logger
	userID  string
	typing  *presence
	now     func() time.Time

	events    chan func()
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once

	mu       sync.Mutex
	roomID   string
	nickname string
	icon     string
	isTyping bool
}

// Dial connects to NATS and starts delivering events to h.
func Dial(ctx context.Context, config NATSConfig, h transport.Handler, logger *zap.Logger) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		handler: h,
		logger:  logger,
		userID:  uuid.New().String(),
		typing:  newPresence(),
		now:     time.Now,
		events:  make(chan func(), eventQueueSize),
		done:    make(chan struct{}),
	}

	nc, err := NewNATSClient(config, logger, connHooks{
		disconnected: c.onDisconnected,
		reconnected:  c.onReconnected,
	})
	if err != nil {
		return nil, err
	}
	c.nc = nc

	go c.run()
	c.enqueue(h.OnConnectionReady)
	c.enqueue(func() { h.OnMessage(protocol.UserIDEvent{UserID: c.userID}) })
	return c, nil
}

// Dialer returns a transport.Dialer for config.
func Dialer(config NATSConfig, logger *zap.Logger) transport.Dialer {
	return func(ctx context.Context, h transport.Handler) (transport.Client, error) {
		return Dial(ctx, config, h, logger)
	}
}

// UserID returns the locally generated user ID.
func (c *Client) UserID() string {
	return c.userID
}

// JoinRoom subscribes to the room's subjects. NATS keeps no history, so the
// returned backlog is always empty.
func (c *Client) JoinRoom(ctx context.Context, nickname, roomID, icon string) (transport.RoomInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.RoomInfo{}, err
	}
	if err := validateSubjectToken(roomID); err != nil {
		return transport.RoomInfo{}, err
	}
	if err := c.enter(roomID, nickname, icon, true); err != nil {
		return transport.RoomInfo{}, err
	}
	return transport.RoomInfo{RoomID: roomID}, nil
}

// CreateRoom enters a room with a freshly generated ID.
func (c *Client) CreateRoom(ctx context.Context, nickname, icon string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	roomID := uuid.New().String()[:8]
	if err := c.enter(roomID, nickname, icon, false); err != nil {
		return "", err
	}
	return roomID, nil
}

// Send publishes a chat message or typing update to the current room.
func (c *Client) Send(ctx context.Context, msgType string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closing.Load() {
		return transport.ErrClosed
	}

	c.mu.Lock()
	roomID, nickname, icon := c.roomID, c.nickname, c.icon
	c.mu.Unlock()
	if roomID == "" {
		return transport.ErrNotInRoom
	}

	switch msgType {
	case protocol.TypeSendMessage:
		p, ok := payload.(protocol.SendMessagePayload)
		if !ok {
			return fmt.Errorf("messaging: %s expects SendMessagePayload, got %T", msgType, payload)
		}
		if err := protocol.ValidateMessage(p.Body); err != nil {
			return fmt.Errorf("messaging: %w", err)
		}
		return c.publishJSON(MessagesSubject(roomID), protocol.ChatMessage{
			UserIcon:     icon,
			UserNickname: nickname,
			Body:         p.Body,
			PermID:       uuid.New().String(),
			Timestamp:    c.now().UnixMilli(),
		})
	case protocol.TypeSetTypingPresence:
		p, ok := payload.(protocol.SetTypingPayload)
		if !ok {
			return fmt.Errorf("messaging: %s expects SetTypingPayload, got %T", msgType, payload)
		}
		c.mu.Lock()
		c.isTyping = p.Typing
		c.mu.Unlock()
		return c.publishJSON(TypingSubject(roomID), typingUpdate{UserID: c.userID, Typing: p.Typing})
	default:
		return fmt.Errorf("messaging: unsupported message type %q", msgType)
	}
}

// Close announces departure from the current room, drains the connection and
// stops event delivery. The handler's OnClose is not invoked.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.leave()
		c.nc.Close()
		close(c.done)
	})
	return nil
}

// enter leaves any previous room and subscribes to roomID. When announce is
// set, the other members receive a join notice; the joiner does not.
func (c *Client) enter(roomID, nickname, icon string, announce bool) error {
	if c.closing.Load() {
		return transport.ErrClosed
	}

	c.mu.Lock()
	prev := c.roomID
	c.mu.Unlock()
	if prev != "" && prev != roomID {
		c.leave()
	}

	if announce {
		if err := c.publishJSON(MessagesSubject(roomID), c.systemMessage(nickname+" joined the room")); err != nil {
			return err
		}
	}

	c.typing.Reset()
	if err := c.nc.Subscribe(subMessages, MessagesSubject(roomID), func(data []byte) {
		c.onChatMessage(roomID, data)
	}); err != nil {
		return err
	}
	if err := c.nc.Subscribe(subTyping, TypingSubject(roomID), func(data []byte) {
		c.onTypingUpdate(roomID, data)
	}); err != nil {
		_ = c.nc.Unsubscribe(subMessages)
		return err
	}
	if err := c.nc.Flush(); err != nil {
		c.logger.Debug("nats flush after subscribe", zap.Error(err))
	}

	c.mu.Lock()
	c.roomID = roomID
	c.nickname = nickname
	c.icon = icon
	c.isTyping = false
	c.mu.Unlock()
	return nil
}

// leave unsubscribes from the current room and tells the remaining members.
func (c *Client) leave() {
	c.mu.Lock()
	roomID, nickname, wasTyping := c.roomID, c.nickname, c.isTyping
	c.roomID, c.nickname, c.icon, c.isTyping = "", "", "", false
	c.mu.Unlock()
	if roomID == "" {
		return
	}

	_ = c.nc.Unsubscribe(subMessages)
	_ = c.nc.Unsubscribe(subTyping)

	if wasTyping {
		if err := c.publishJSON(TypingSubject(roomID), typingUpdate{UserID: c.userID}); err != nil {
			c.logger.Debug("publish typing stop", zap.Error(err))
		}
	}
	if err := c.publishJSON(MessagesSubject(roomID), c.systemMessage(nickname+" left the room")); err != nil {
		c.logger.Debug("publish leave notice", zap.Error(err))
	}
}

func (c *Client) onChatMessage(roomID string, data []byte) {
	if !c.inRoom(roomID) {
		return
	}
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("dropping malformed chat message", zap.String("room", roomID), zap.Error(err))
		return
	}
	c.enqueue(func() { c.handler.OnMessage(protocol.ChatMessageEvent{Message: msg}) })
}

func (c *Client) onTypingUpdate(roomID string, data []byte) {
	if !c.inRoom(roomID) {
		return
	}
	var u typingUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.UserID == "" {
		c.logger.Debug("dropping malformed typing update", zap.String("room", roomID))
		return
	}
	ids := c.typing.Set(u.UserID, u.Typing)
	c.enqueue(func() { c.handler.OnMessage(protocol.TypingPresenceEvent{UsersTyping: ids}) })
}

func (c *Client) onDisconnected(error) {
	if c.closing.Load() {
		return
	}
	c.enqueue(c.handler.OnClose)
}

func (c *Client) onReconnected() {
	if c.closing.Load() {
		return
	}
	c.enqueue(c.handler.OnConnectionReady)
}

func (c *Client) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID == roomID
}

// enqueue hands fn to the delivery goroutine so the handler sees events one
// at a time and in order.
func (c *Client) enqueue(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Client) run() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("messaging: marshal for %s: %w", subject, err)
	}
	return c.nc.Publish(subject, data)
}

func (c *Client) systemMessage(body string) protocol.ChatMessage {
	return protocol.ChatMessage{
		IsSystemMessage: true,
		Body:            body,
		PermID:          uuid.New().String(),
		Timestamp:       c.now().UnixMilli(),
	}
}

// validateSubjectToken rejects room IDs that cannot be a single NATS subject
// token.
func validateSubjectToken(roomID string) error {
	if err := protocol.ValidateRoomID(roomID); err != nil {
		return fmt.Errorf("messaging: %w", err)
	}
	if strings.ContainsAny(roomID, ".*> \t\r\n") {
		return fmt.Errorf("messaging: room id %q is not a valid subject token", roomID)
	}
	return nil
}
