package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/session"
)

// binding is the handler registered with one client. Events from a client
// that has since been replaced are dropped.
type binding struct {
	c   *Controller
	gen uint64
}

func (b *binding) current() bool {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	return !b.c.closed && b.c.gen == b.gen
}

func (b *binding) OnConnectionReady() {
	if b.current() {
		b.c.OnConnectionReady()
	}
}

func (b *binding) OnClose() {
	if b.current() {
		b.c.OnClose()
	}
}

func (b *binding) OnMessage(ev protocol.Event) {
	if b.current() {
		b.c.OnMessage(ev)
	}
}

// OnConnectionReady marks the session connected and, when a room is
// remembered, starts one background rejoin with the remembered values.
func (c *Controller) OnConnectionReady() {
	c.store.SetConnectionStatus(true)
	metrics.Connected.Set(1)

	intent := c.store.Snapshot().Intent()
	if intent.Empty() {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ready := c.ready
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if ready != nil {
			<-ready
		}
		ctx, cancel := c.withTimeout(context.Background())
		defer cancel()
		_ = c.Rejoin(ctx, intent.RoomID, intent.Nickname)
	}()
}

// OnClose marks the session disconnected and tells the user. The room and
// log are kept so the rejoin after reconnecting can resume them.
func (c *Controller) OnClose() {
	c.store.SetConnectionStatus(false)
	metrics.Connected.Set(0)
	metrics.ConnectionDrops.Inc()

	intent := c.store.Snapshot().Intent()
	if intent.Empty() {
		c.notify(LevelError, NoticeReconnecting)
		return
	}
	c.notify(LevelError, rejoiningNotice(intent.RoomID))
}

// OnMessage folds one server push into the store. Unknown events are
// ignored.
func (c *Controller) OnMessage(ev protocol.Event) {
	if ev == nil {
		return
	}
	switch ev := ev.(type) {
	case protocol.UserIDEvent:
		c.store.SetUserID(ev.UserID)
	case protocol.ChatMessageEvent:
		msg := fromWire(ev.Message)
		c.store.AppendMessage(msg)
		metrics.MessagesTotal.WithLabelValues("received").Inc()
		if roomID := c.store.Snapshot().RoomID; roomID != "" && c.archiver != nil {
			c.archiver.enqueue(roomID, msg)
		}
	case protocol.TypingPresenceEvent:
		c.store.SetTypingUsers(ev.UsersTyping)
	default:
		c.logger.Debug("ignoring event", zap.Stringer("kind", ev.Kind()))
	}
}

func fromWire(m protocol.ChatMessage) session.ChatMessage {
	return session.ChatMessage{
		PermID:          m.PermID,
		UserNickname:    m.UserNickname,
		UserIcon:        m.UserIcon,
		Body:            m.Body,
		Timestamp:       m.Timestamp,
		IsSystemMessage: m.IsSystemMessage,
	}
}
