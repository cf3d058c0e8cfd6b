// Package ws implements the websocket room client on gobwas/ws. It owns one
// connection at a time, correlates requests with replies by request ID,
// forwards server pushes to a transport.Handler, and redials at a fixed
// interval after the connection drops.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
)

// Config holds tunable parameters for the websocket client.
type Config struct {
	URL           string        // e.g. ws://localhost:8080/ws
	DialTimeout   time.Duration // timeout for a single dial attempt
	WriteTimeout  time.Duration // timeout for a single frame write
	ReconnectWait time.Duration // fixed wait between redial attempts
	MaxReconnects int           // redial attempts per drop (-1 for infinite, 0 to disable)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "ws://localhost:8080/ws",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client is a websocket transport.Client.
type Client struct {
	config  Config
	handler transport.Handler
	logger  *zap.Logger

	mu      sync.Mutex
	conn    net.Conn                          // nil between connections
	pending map[string]chan protocol.Envelope // request ID -> reply channel

	writeMu   sync.Mutex // serializes frame writes
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to config.URL and starts the read loop. The first connection
// attempt is synchronous; its failure is returned. h receives
// OnConnectionReady for this and every later connection.
func Dial(ctx context.Context, config Config, h transport.Handler, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:  config,
		handler: h,
		logger:  logger,
		pending: make(map[string]chan protocol.Envelope),
		done:    make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	go c.run(conn)
	return c, nil
}

// Dialer returns a transport.Dialer for config.
func Dialer(config Config, logger *zap.Logger) transport.Dialer {
	return func(ctx context.Context, h transport.Handler) (transport.Client, error) {
		return Dial(ctx, config, h, logger)
	}
}

// JoinRoom joins an existing room and returns its recent backlog.
func (c *Client) JoinRoom(ctx context.Context, nickname, roomID, icon string) (transport.RoomInfo, error) {
	env, err := c.call(ctx, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		RoomID:   roomID,
		Nickname: nickname,
		UserIcon: icon,
	})
	if err != nil {
		return transport.RoomInfo{}, err
	}

	var res protocol.JoinRoomResult
	if err := protocol.DecodeData(env.Data, &res); err != nil {
		return transport.RoomInfo{}, err
	}
	if res.RoomID == "" {
		res.RoomID = roomID
	}
	return transport.RoomInfo{RoomID: res.RoomID, Messages: res.Messages}, nil
}

// CreateRoom creates a room, joins it, and returns its ID.
func (c *Client) CreateRoom(ctx context.Context, nickname, icon string) (string, error) {
	env, err := c.call(ctx, protocol.TypeCreateRoom, protocol.CreateRoomPayload{
		Nickname: nickname,
		UserIcon: icon,
	})
	if err != nil {
		return "", err
	}

	var res protocol.CreateRoomResult
	if err := protocol.DecodeData(env.Data, &res); err != nil {
		return "", err
	}
	return res.RoomID, nil
}

// Send sends a chat message or typing signal and waits for the server's ack.
func (c *Client) Send(ctx context.Context, msgType string, payload interface{}) error {
	switch msgType {
	case protocol.TypeSendMessage, protocol.TypeSetTypingPresence:
	default:
		return fmt.Errorf("ws: unsupported message type %q", msgType)
	}
	_, err := c.call(ctx, msgType, payload)
	return err
}

// Close closes the connection and stops redialing. It is safe to call
// multiple times. The handler's OnClose is not invoked.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.failPendingLocked()
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// call sends a request and blocks until the matching reply arrives, the
// context ends, or the connection drops.
func (c *Client) call(ctx context.Context, msgType string, payload interface{}) (protocol.Envelope, error) {
	id := uuid.New().String()
	data, err := protocol.NewClientMessage(msgType, id, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}

	reply := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return protocol.Envelope{}, transport.ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return protocol.Envelope{}, transport.ErrNotConnected
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(conn, data); err != nil {
		return protocol.Envelope{}, fmt.Errorf("ws: write %s: %w", msgType, err)
	}

	select {
	case env, ok := <-reply:
		if !ok {
			return protocol.Envelope{}, transport.ErrClosed
		}
		if env.Type == protocol.TypeError {
			if env.Error != nil {
				return env, env.Error
			}
			return env, errors.New("ws: server returned an error without details")
		}
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// write sends a text frame. The write mutex ensures concurrent callers do not
// interleave frame bytes.
func (c *Client) write(conn net.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// run owns the connection lifecycle: it reads until the connection drops,
// reports the drop, and redials until it succeeds, gives up, or the client is
// closed. All handler calls happen on this goroutine.
func (c *Client) run(conn net.Conn) {
	for {
		c.mu.Lock()
		if c.isClosed() {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.handler.OnConnectionReady()
		err := c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.failPendingLocked()
		closed := c.isClosed()
		c.mu.Unlock()
		_ = conn.Close()

		if closed {
			return
		}

		c.logger.Warn("connection lost", zap.String("url", c.config.URL), zap.Error(err))
		c.handler.OnClose()

		conn = c.redial()
		if conn == nil {
			return
		}
	}
}

// readLoop reads frames until the connection fails. Replies are routed to
// the pending call; everything else is decoded into an Event.
func (c *Client) readLoop(conn net.Conn) error {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return err
		}

		env, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		if env.IsReply() {
			c.mu.Lock()
			ch, ok := c.pending[env.RequestID]
			if ok {
				delete(c.pending, env.RequestID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		ev, err := protocol.DecodeEvent(env)
		if err != nil {
			c.logger.Debug("dropping undecodable push", zap.String("type", env.Type), zap.Error(err))
			continue
		}
		c.handler.OnMessage(ev)
	}
}

// redial retries the connection at a fixed interval. It returns nil when the
// client is closed or MaxReconnects attempts have failed.
func (c *Client) redial() net.Conn {
	for attempt := 1; c.config.MaxReconnects < 0 || attempt <= c.config.MaxReconnects; attempt++ {
		select {
		case <-c.done:
			return nil
		case <-time.After(c.config.ReconnectWait):
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected", zap.String("url", c.config.URL), zap.Int("attempt", attempt))
			return conn
		}
		c.logger.Debug("redial failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	c.logger.Warn("giving up reconnecting", zap.String("url", c.config.URL))
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()
	}
	conn, _, _, err := ws.Dial(ctx, c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", c.config.URL, err)
	}
	return conn, nil
}

// failPendingLocked wakes every pending call with ErrClosed. c.mu must be
// held.
func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
