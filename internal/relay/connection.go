package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single websocket client of the relay with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID        string    // user ID (UUID) assigned on upgrade
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastActive   atomic.Int64 // unix nanos of the last frame read
	writeMu      sync.Mutex   // serializes writes to this connection
	writeTimeout time.Duration
}

func newConnection(id string, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
	}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last frame read from the client.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteMessage sends a websocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a websocket protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// writePong answers a client ping with the same payload.
func (c *Connection) writePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of connections keyed by user ID.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
