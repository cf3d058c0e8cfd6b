// Package chat reconciles transport events into the session store and
// implements the user's room actions on top of a transport.Client.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/clipboard"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
)

var (
	// ErrInFlight is returned when the same kind of action is already running.
	ErrInFlight = errors.New("chat: action already in progress")

	// ErrNotInRoom is returned by actions that need an active room.
	ErrNotInRoom = errors.New("chat: not in a room")

	// ErrInvalidInput is returned for empty or malformed room IDs, nicknames
	// and message bodies.
	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chat: controller closed")
)

// DefaultRequestTimeout bounds every transport call made by an action.
const DefaultRequestTimeout = 10 * time.Second

const noticeBuffer = 16

type action string

const (
	actionJoin   action = "join"
	actionCreate action = "create"
	actionRejoin action = "rejoin"
	actionSend   action = "send"
	actionLeave  action = "leave"
)

// Options configures a Controller. Only Dialer is required.
type Options struct {
	Dialer         transport.Dialer
	Memory         session.Memory   // defaults to session.NewInMemory()
	Archive        Archive          // optional transcript archive
	Clipboard      clipboard.Writer // defaults to clipboard.System{}
	Logger         *zap.Logger
	RequestTimeout time.Duration
	Icon           string // icon sent with join and create
}

// Controller owns the transport client and is the only writer of room state
// in the session store. It implements transport.Handler.
type Controller struct {
	store     *session.Store
	dialer    transport.Dialer
	memory    session.Memory
	clipboard clipboard.Writer
	archiver  *archiver
	archive   Archive
	logger    *zap.Logger
	timeout   time.Duration
	icon      string
	notices   chan Notice

	mu       sync.Mutex
	client   transport.Client
	gen      uint64        // generation of the current client
	ready    chan struct{} // closed once the current client is assigned
	inFlight map[action]bool
	closed   bool
	stop     chan struct{}  // closed by Close
	wg       sync.WaitGroup // background rejoins and the typing worker

	typingMu   sync.Mutex
	typingWant bool
	typingKick chan struct{}
}

// New creates a Controller writing to store and starts its typing worker.
// Call Start to connect and Close to stop.
func New(store *session.Store, opts Options) *Controller {
	if opts.Memory == nil {
		opts.Memory = session.NewInMemory()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	c := &Controller{
		store:      store,
		dialer:     opts.Dialer,
		memory:     opts.Memory,
		clipboard:  opts.Clipboard,
		archive:    opts.Archive,
		logger:     opts.Logger,
		timeout:    opts.RequestTimeout,
		icon:       opts.Icon,
		notices:    make(chan Notice, noticeBuffer),
		inFlight:   make(map[action]bool),
		stop:       make(chan struct{}),
		typingKick: make(chan struct{}, 1),
	}
	if opts.Archive != nil {
		c.archiver = newArchiver(opts.Archive, opts.Logger)
	}
	c.wg.Add(1)
	go c.typingLoop()
	return c
}

// Notices returns the channel on which user-visible notices are delivered.
func (c *Controller) Notices() <-chan Notice {
	return c.notices
}

// Start restores the remembered room from Memory and dials the first client.
// If a room was remembered, the first OnConnectionReady rejoins it.
func (c *Controller) Start(ctx context.Context) error {
	intent, err := c.memory.Load(ctx)
	if err != nil {
		c.logger.Warn("load remembered room", zap.Error(err))
	} else if !intent.Empty() {
		c.logger.Info("restored remembered room", zap.String("room", intent.RoomID))
		c.store.Remember(intent)
	}
	return c.connect(ctx)
}

// Close releases the client and waits for background work. It is safe to
// call multiple times.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cl := c.client
	c.client = nil
	close(c.stop)
	c.mu.Unlock()

	var err error
	if cl != nil {
		err = cl.Close()
	}
	c.wg.Wait()
	if c.archiver != nil {
		c.archiver.close()
	}
	metrics.Connected.Set(0)
	return err
}

// connect dials a new client bound to a fresh handler generation.
func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	b := &binding{c: c, gen: c.gen}
	ready := make(chan struct{})
	c.ready = ready
	c.mu.Unlock()

	c.store.SetConnecting()
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	cl, err := c.dialer(dialCtx, b)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(ready)

	if err != nil {
		if b.gen == c.gen {
			c.store.SetConnectionStatus(false)
		}
		c.logger.Error("dial failed", zap.Error(err))
		return err
	}
	if c.closed || b.gen != c.gen {
		_ = cl.Close()
		return ErrClosed
	}
	c.client = cl
	return nil
}

// currentClient returns the live client or transport.ErrNotConnected.
func (c *Controller) currentClient() (transport.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.client == nil {
		return nil, transport.ErrNotConnected
	}
	return c.client, nil
}

// begin marks an action as running. The returned function clears the mark.
func (c *Controller) begin(a action) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.inFlight[a] {
		metrics.RoomActions.WithLabelValues(string(a), "busy").Inc()
		return nil, ErrInFlight
	}
	c.inFlight[a] = true
	return func() {
		c.mu.Lock()
		delete(c.inFlight, a)
		c.mu.Unlock()
	}, nil
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// notify delivers n without blocking; notices are dropped when nobody reads.
func (c *Controller) notify(level Level, text string) {
	select {
	case c.notices <- Notice{Level: level, Text: text}:
	default:
		c.logger.Debug("notice dropped", zap.String("text", text))
	}
}

func observe(a action, start time.Time, err error) {
	metrics.RequestLatency.WithLabelValues(string(a)).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RoomActions.WithLabelValues(string(a), result).Inc()
}
