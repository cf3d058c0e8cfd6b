// Package relay is a small loopback room server speaking the roomchat
// protocol. It exists for local demos and for exercising the websocket
// transport end to end; it keeps all state in memory.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the relay.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for websocket write operations
	BacklogSize    int           // messages retained per room
	Heartbeat      HeartbeatConfig
	Moderate       bool              // screen message bodies with moderation.NewFilter
	Limiter        ratelimit.Checker // nil uses an in-process ratelimit.Local
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 1000,
		WriteTimeout:   10 * time.Second,
		BacklogSize:    MaxBacklogMessages,
		Heartbeat:      DefaultHeartbeatConfig(),
		Moderate:       true,
	}
}

// Server upgrades HTTP connections to websocket, reads frames on one
// goroutine per connection, and dispatches requests to the room handlers.
type Server struct {
	config     ServerConfig
	conns      *ConnectionManager
	rooms      *Rooms
	dispatcher *MessageDispatcher
	limiter    ratelimit.Checker
	filter     *moderation.Filter // nil when moderation is off
	logger     *zap.Logger
	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	startedAt  time.Time
}

// NewServer creates a relay with its room handlers registered.
func NewServer(config ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		rooms:      NewRooms(NewBacklog(config.BacklogSize), logger),
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
		limiter:    config.Limiter,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLocal()
	}
	if config.Moderate {
		s.filter = moderation.NewFilter()
	}
	s.registerHandlers()
	StartHeartbeat(s, config.Heartbeat)
	return s
}

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("relay listening", zap.String("addr", s.config.ListenAddr),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a websocket connection, assigns
// the connection a user ID, and starts its read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !s.allow(r.Context(), clientIP(r), ratelimit.RuleConnect) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.New().String(), conn, s.config.WriteTimeout)
	s.conns.Add(c)

	hello, err := protocol.NewServerMessage(protocol.TypeUserID, protocol.UserIDData{UserID: c.ID})
	if err != nil {
		s.logger.Error("build userId push", zap.Error(err))
	} else if err := c.WriteMessage(hello); err != nil {
		s.logger.Debug("send userId push", zap.String("user", c.ID), zap.Error(err))
	}

	s.logger.Debug("new connection", zap.String("user", c.ID), zap.Int("total", s.conns.Count()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveConn(c)
	}()
}

// handleHealth responds with the relay's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       s.rooms.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveConn reads frames until the connection fails. Control frames are
// handled here so that pongs keep the connection's activity fresh.
func (s *Server) serveConn(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.Touch()

		payload := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				_ = c.writePong(payload)
			}
			continue
		}

		if header.OpCode != ws.OpText || len(payload) == 0 {
			continue
		}
		s.dispatcher.Dispatch(c, payload)
	}
}

// RemoveConnection removes a connection from its room and the connection
// manager, and closes it. Repeated calls are no-ops.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	s.rooms.Leave(c.ID)
	if l, ok := s.limiter.(*ratelimit.Local); ok {
		l.Forget(c.ID)
	}
	s.logger.Debug("connection closed", zap.String("user", c.ID),
		zap.Duration("lifetime", time.Since(c.CreatedAt)), zap.Int("total", s.conns.Count()))
}

// Connections returns the ConnectionManager for the heartbeat monitor.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener, closes all connections and waits for
// their read loops to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.httpServer != nil {
			if herr := s.httpServer.Shutdown(ctx); herr != nil {
				err = fmt.Errorf("relay: http shutdown: %w", herr)
			}
		}
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		s.wg.Wait()
		s.logger.Info("relay stopped")
	})
	return err
}

func (s *Server) registerHandlers() {
	d := s.dispatcher

	d.Register(protocol.TypeCreateRoom, func(conn *Connection, requestID string, msg interface{}) {
		req, ok := msg.(protocol.CreateRoomPayload)
		if !ok {
			return
		}
		if !s.allow(context.Background(), conn.ID, ratelimit.RuleRoom) {
			d.replyError(conn, requestID, protocol.CodeRateLimited, "too many room requests")
			return
		}
		if err := protocol.ValidateNickname(req.Nickname); err != nil {
			d.replyError(conn, requestID, protocol.CodeInvalidNickname, err.Error())
			return
		}
		roomID := s.rooms.Create(conn, req.Nickname, req.UserIcon)
		s.logger.Debug("room created", zap.String("room", roomID), zap.String("user", conn.ID))
		d.reply(conn, requestID, protocol.CreateRoomResult{RoomID: roomID})
	})

	d.Register(protocol.TypeJoinRoom, func(conn *Connection, requestID string, msg interface{}) {
		req, ok := msg.(protocol.JoinRoomPayload)
		if !ok {
			return
		}
		if !s.allow(context.Background(), conn.ID, ratelimit.RuleRoom) {
			d.replyError(conn, requestID, protocol.CodeRateLimited, "too many room requests")
			return
		}
		if err := protocol.ValidateNickname(req.Nickname); err != nil {
			d.replyError(conn, requestID, protocol.CodeInvalidNickname, err.Error())
			return
		}
		backlog, err := s.rooms.Join(req.RoomID, conn, req.Nickname, req.UserIcon)
		if err != nil {
			d.replyError(conn, requestID, protocol.CodeRoomNotFound, "room does not exist")
			return
		}
		d.reply(conn, requestID, protocol.JoinRoomResult{RoomID: req.RoomID, Messages: backlog})
	})

	d.Register(protocol.TypeSendMessage, func(conn *Connection, requestID string, msg interface{}) {
		req, ok := msg.(protocol.SendMessagePayload)
		if !ok {
			return
		}
		if err := protocol.ValidateMessage(req.Body); err != nil {
			d.replyError(conn, requestID, protocol.CodeInvalidMessage, err.Error())
			return
		}
		if !s.allow(context.Background(), conn.ID, ratelimit.RuleMessage) {
			d.replyError(conn, requestID, protocol.CodeRateLimited, "slow down")
			return
		}
		if s.filter != nil {
			if res := s.filter.Check(req.Body); res.Blocked {
				s.logger.Info("message blocked", zap.String("user", conn.ID),
					zap.String("reason", res.Reason), zap.String("term", res.Term))
				d.replyError(conn, requestID, protocol.CodeMessageBlocked, "message blocked: "+res.Reason)
				return
			}
		}
		if _, err := s.rooms.Say(conn, req.Body); err != nil {
			d.replyError(conn, requestID, protocol.CodeNotInRoom, "not in a room")
			return
		}
		d.reply(conn, requestID, protocol.Ack{OK: true})
	})

	d.Register(protocol.TypeSetTypingPresence, func(conn *Connection, requestID string, msg interface{}) {
		req, ok := msg.(protocol.SetTypingPayload)
		if !ok {
			return
		}
		if err := s.rooms.SetTyping(conn, req.Typing); err != nil {
			d.replyError(conn, requestID, protocol.CodeNotInRoom, "not in a room")
			return
		}
		d.reply(conn, requestID, protocol.Ack{OK: true})
	})
}

// allow fails open when the limiter errors.
func (s *Server) allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool {
	ok, err := s.limiter.Allow(ctx, identifier, rule)
	if err != nil {
		s.logger.Debug("rate limit check failed", zap.String("key", rule.Key+identifier), zap.Error(err))
	}
	return ok
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
