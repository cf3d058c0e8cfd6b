package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/whisper/roomchat/internal/protocol"
)

func msg(body string, ts int64) protocol.ChatMessage {
	return protocol.ChatMessage{UserNickname: "sender", Body: body, PermID: fmt.Sprintf("p-%d", ts), Timestamp: ts}
}

func TestBacklogAddAndGet(t *testing.T) {
	b := NewBacklog(5)

	b.Add("room1", msg("hello", 1))
	b.Add("room1", msg("hi", 2))
	b.Add("room1", msg("how are you?", 3))

	msgs := b.Get("room1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "hello" {
		t.Errorf("expected first message 'hello', got %q", msgs[0].Body)
	}
	if msgs[2].Body != "how are you?" {
		t.Errorf("expected third message 'how are you?', got %q", msgs[2].Body)
	}
}

func TestBacklogWraparound(t *testing.T) {
	b := NewBacklog(5)

	// Add 7 messages; the buffer holds only 5.
	for i := 1; i <= 7; i++ {
		b.Add("room1", msg(fmt.Sprintf("msg-%d", i), int64(i)))
	}

	msgs := b.Get("room1")
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	// Should contain messages 3 through 7 in order.
	for i, m := range msgs {
		expected := fmt.Sprintf("msg-%d", i+3)
		if m.Body != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, m.Body)
		}
	}
}

func TestBacklogDefaultSize(t *testing.T) {
	b := NewBacklog(0)
	for i := 0; i < MaxBacklogMessages+10; i++ {
		b.Add("room1", msg("x", int64(i)))
	}
	if got := len(b.Get("room1")); got != MaxBacklogMessages {
		t.Fatalf("expected %d messages, got %d", MaxBacklogMessages, got)
	}
}

func TestBacklogGetNonExistentRoom(t *testing.T) {
	b := NewBacklog(5)

	msgs := b.Get("does-not-exist")
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestBacklogRemove(t *testing.T) {
	b := NewBacklog(5)

	b.Add("room1", msg("hello", 1))
	b.Remove("room1")

	if msgs := b.Get("room1"); len(msgs) != 0 {
		t.Fatalf("expected 0 messages after remove, got %d", len(msgs))
	}

	// Should not panic.
	b.Remove("does-not-exist")
}

func TestBacklogConcurrentAccess(t *testing.T) {
	b := NewBacklog(5)
	goroutines := 100
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < perGoroutine; m++ {
				b.Add("room1", msg(fmt.Sprintf("g%d-m%d", id, m), int64(id*perGoroutine+m)))
				// Interleave reads to stress the RWMutex.
				_ = b.Get("room1")
			}
		}(g)
	}

	wg.Wait()

	if msgs := b.Get("room1"); len(msgs) != 5 {
		t.Fatalf("expected 5 messages after concurrent writes, got %d", len(msgs))
	}
}
