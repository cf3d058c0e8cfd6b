package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/session"
)

// Join joins an existing room. On failure the user is notified and the
// session is left unchanged.
func (c *Controller) Join(ctx context.Context, roomID, nickname string) error {
	roomID, nickname = strings.TrimSpace(roomID), strings.TrimSpace(nickname)
	if err := validateRoomInput(roomID, nickname); err != nil {
		return err
	}

	done, err := c.begin(actionJoin)
	if err != nil {
		return err
	}
	defer done()

	if err := c.join(ctx, actionJoin, roomID, nickname); err != nil {
		c.logger.Warn("join failed", zap.String("room", roomID), zap.Error(err))
		c.notify(LevelError, NoticeJoinFailed)
		return err
	}
	return nil
}

// Create creates a room and joins it.
func (c *Controller) Create(ctx context.Context, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if err := protocol.ValidateNickname(nickname); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	done, err := c.begin(actionCreate)
	if err != nil {
		return err
	}
	defer done()

	if err := c.create(ctx, nickname); err != nil {
		c.logger.Warn("create failed", zap.Error(err))
		c.notify(LevelError, NoticeCreateFailed)
		return err
	}
	return nil
}

// Rejoin is the unattended variant of Join run after a reconnect. Failures
// are logged, never shown.
func (c *Controller) Rejoin(ctx context.Context, roomID, nickname string) error {
	if err := validateRoomInput(roomID, nickname); err != nil {
		return err
	}

	done, err := c.begin(actionRejoin)
	if err != nil {
		return err
	}
	defer done()

	if err := c.join(ctx, actionRejoin, roomID, nickname); err != nil {
		c.logger.Warn("rejoin failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	c.logger.Info("rejoined room", zap.String("room", roomID))
	return nil
}

// Leave resets the room state, forgets the remembered room, and replaces the
// client with a fresh connection so the server drops the membership.
func (c *Controller) Leave(ctx context.Context) error {
	done, err := c.begin(actionLeave)
	if err != nil {
		return err
	}
	defer done()

	c.store.Reset()
	if err := c.memory.Clear(ctx); err != nil {
		c.logger.Warn("clear remembered room", zap.Error(err))
	}

	c.mu.Lock()
	old := c.client
	c.client = nil
	c.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Debug("close client", zap.Error(err))
		}
	}
	metrics.Connected.Set(0)
	metrics.RoomActions.WithLabelValues(string(actionLeave), "ok").Inc()

	if err := c.connect(ctx); err != nil {
		if !errors.Is(err, ErrClosed) {
			c.notify(LevelError, NoticeDialFailed)
		}
		return err
	}
	return nil
}

// CopyRoomID copies the active room ID to the clipboard.
func (c *Controller) CopyRoomID() error {
	roomID := c.store.Snapshot().RoomID
	if roomID == "" {
		return ErrNotInRoom
	}
	if err := c.clipboard.WriteText(roomID); err != nil {
		c.logger.Warn("copy room id", zap.Error(err))
		c.notify(LevelError, NoticeCopyFailed)
		return err
	}
	c.notify(LevelInfo, NoticeCopied)
	return nil
}

// SendMessage sends body to the active room. Blank bodies are ignored. The
// message is not added to the log here; it arrives back as a push.
func (c *Controller) SendMessage(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if !c.store.Snapshot().InRoom() {
		return ErrNotInRoom
	}
	if err := protocol.ValidateMessage(body); err != nil {
		c.notify(LevelError, "Message not sent: "+err.Error())
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	done, err := c.begin(actionSend)
	if err != nil {
		return err
	}
	defer done()

	cl, err := c.currentClient()
	if err == nil {
		ctx, cancel := c.withTimeout(ctx)
		start := time.Now()
		err = cl.Send(ctx, protocol.TypeSendMessage, protocol.SendMessagePayload{Body: body})
		cancel()
		observe(actionSend, start, err)
	}
	if err != nil {
		c.logger.Warn("send failed", zap.Error(err))
		c.notify(LevelError, NoticeSendFailed)
		return fmt.Errorf("chat: send: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// SetTyping records whether the user is typing and returns at once. The
// typing worker sends the latest recorded value, so values reach the room in
// call order and a burst collapses to its last value.
func (c *Controller) SetTyping(typing bool) {
	c.typingMu.Lock()
	c.typingWant = typing
	c.typingMu.Unlock()

	select {
	case c.typingKick <- struct{}{}:
	default:
	}
}

func (c *Controller) typingLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-c.typingKick:
		}

		c.typingMu.Lock()
		typing := c.typingWant
		c.typingMu.Unlock()

		ctx, cancel := c.withTimeout(context.Background())
		_ = c.sendTyping(ctx, typing)
		cancel()
	}
}

// sendTyping tells the room whether the user is typing. Failures are logged
// only.
func (c *Controller) sendTyping(ctx context.Context, typing bool) error {
	if !c.store.Snapshot().InRoom() {
		return nil
	}
	cl, err := c.currentClient()
	if err == nil {
		err = cl.Send(ctx, protocol.TypeSetTypingPresence, protocol.SetTypingPayload{Typing: typing})
	}
	if err != nil {
		c.logger.Debug("typing update failed", zap.Bool("typing", typing), zap.Error(err))
		return fmt.Errorf("chat: set typing: %w", err)
	}
	return nil
}

func (c *Controller) join(ctx context.Context, a action, roomID, nickname string) error {
	cl, err := c.currentClient()
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	info, err := cl.JoinRoom(ctx, nickname, roomID, c.icon)
	observe(a, start, err)
	if err != nil {
		return fmt.Errorf("chat: join %s: %w", roomID, err)
	}
	if info.RoomID != "" {
		roomID = info.RoomID
	}

	backlog := make([]session.ChatMessage, 0, len(info.Messages))
	for _, m := range info.Messages {
		backlog = append(backlog, fromWire(m))
	}
	c.enterRoom(ctx, roomID, nickname, backlog)
	return nil
}

func (c *Controller) create(ctx context.Context, nickname string) error {
	cl, err := c.currentClient()
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	roomID, err := cl.CreateRoom(ctx, nickname, c.icon)
	if err == nil && roomID == "" {
		err = fmt.Errorf("server returned no room id")
	}
	observe(actionCreate, start, err)
	if err != nil {
		return fmt.Errorf("chat: create: %w", err)
	}

	c.enterRoom(ctx, roomID, nickname, nil)
	return nil
}

// enterRoom applies a successful join or create. Rejoining the room already
// shown keeps its log and appends only backlog entries it lacks; entering any
// other room starts a new log from the backlog, or from the archive when the
// transport supplies none.
func (c *Controller) enterRoom(ctx context.Context, roomID, nickname string, backlog []session.ChatMessage) {
	seed := backlog
	if len(seed) == 0 && c.store.Snapshot().RoomID != roomID {
		seed = c.loadArchived(ctx, roomID)
	}
	c.store.EnterRoomWithLog(roomID, session.User{Nickname: nickname, Icon: c.icon}, seed)

	if c.archiver != nil {
		for _, m := range backlog {
			c.archiver.enqueue(roomID, m)
		}
	}

	intent := session.Intent{RoomID: roomID, Nickname: nickname}
	c.store.Remember(intent)
	if err := c.memory.Save(ctx, intent); err != nil {
		c.logger.Warn("save remembered room", zap.Error(err))
	}
}

func (c *Controller) loadArchived(ctx context.Context, roomID string) []session.ChatMessage {
	if c.archive == nil {
		return nil
	}
	msgs, err := c.archive.Recent(ctx, roomID, archiveRecentLimit)
	if err != nil {
		c.logger.Warn("load archived messages", zap.String("room", roomID), zap.Error(err))
		return nil
	}
	return msgs
}

func validateRoomInput(roomID, nickname string) error {
	if err := protocol.ValidateRoomID(roomID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := protocol.ValidateNickname(nickname); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
