// Package messaging implements the room client over NATS. Rooms map to
// subjects; there is no room server, so membership, backlog and typing
// presence are derived from what each client publishes.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subject patterns used by room clients.
const (
	SubjectRoom    = "room"     // + .<room_id>
	SuffixMessages = "messages" // room.<room_id>.messages
	SuffixTyping   = "typing"   // room.<room_id>.typing
)

// MessagesSubject returns the subject carrying chat messages for a room.
func MessagesSubject(roomID string) string {
	return SubjectRoom + "." + roomID + "." + SuffixMessages
}

// TypingSubject returns the subject carrying typing updates for a room.
func TypingSubject(roomID string) string {
	return SubjectRoom + "." + roomID + "." + SuffixTyping
}

// NATSClient wraps the NATS connection with keyed subscriptions.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "roomchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// connHooks are invoked on NATS connection state changes.
type connHooks struct {
	disconnected func(err error)
	reconnected  func()
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger, hooks connHooks) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
			if hooks.disconnected != nil {
				hooks.disconnected(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
			if hooks.reconnected != nil {
				hooks.reconnected()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}

	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for subject under key, replacing any
// subscription previously stored under the same key.
func (c *NATSClient) Subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	old := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
	return nil
}

// Flush waits until the server has processed everything sent so far, so that
// a new subscription is active before the caller publishes.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Unsubscribe removes the subscription stored under key. Missing keys are
// ignored.
func (c *NATSClient) Unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", key, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Debug("nats drain", zap.String("sub", key), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		c.logger.Debug("nats connection drain", zap.Error(err))
		c.conn.Close()
	}
}
