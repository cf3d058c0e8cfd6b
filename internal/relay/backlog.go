package relay

import (
	"sync"

	"github.com/whisper/roomchat/internal/protocol"
)

// MaxBacklogMessages is the number of recent messages retained per room and
// returned to clients when they join.
const MaxBacklogMessages = 50

// Backlog stores the last N messages per room in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Backlog struct {
	mu      sync.RWMutex
	size    int
	buffers map[string]*ringBuffer // roomID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of chat messages.
type ringBuffer struct {
	items []protocol.ChatMessage
	pos   int
	count int
}

// NewBacklog creates an empty Backlog holding up to size messages per room.
// A non-positive size selects MaxBacklogMessages.
func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = MaxBacklogMessages
	}
	return &Backlog{
		size:    size,
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the room's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (b *Backlog) Add(roomID string, msg protocol.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[roomID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.ChatMessage, b.size),
		}
		b.buffers[roomID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % b.size
	if rb.count < b.size {
		rb.count++
	}
}

// Get returns the retained messages for a room in chronological order
// (oldest first). Returns an empty slice if the room has no buffer.
func (b *Backlog) Get(roomID string) []protocol.ChatMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.buffers[roomID]
	if !ok {
		return []protocol.ChatMessage{}
	}

	result := make([]protocol.ChatMessage, rb.count)
	// The oldest message is at position (pos - count) mod size.
	start := (rb.pos - rb.count + b.size) % b.size
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%b.size]
	}
	return result
}

// Remove deletes the buffer for a room.
func (b *Backlog) Remove(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buffers, roomID)
}
