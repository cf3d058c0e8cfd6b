package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
)

func TestPresenceAggregates(t *testing.T) {
	p := newPresence()

	assert.Equal(t, []string{"b"}, p.Set("b", true))
	assert.Equal(t, []string{"a", "b"}, p.Set("a", true))
	assert.Equal(t, []string{"a", "b"}, p.Set("a", true), "repeated start is idempotent")
	assert.Equal(t, []string{"b"}, p.Set("a", false))
	assert.Equal(t, []string{}, p.Set("c", false), "stopping an unknown user is harmless")

	p.Set("x", true)
	p.Reset()
	assert.Equal(t, []string{"y"}, p.Set("y", true))
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "room.abc.messages", MessagesSubject("abc"))
	assert.Equal(t, "room.abc.typing", TypingSubject("abc"))
}

func TestValidateSubjectToken(t *testing.T) {
	tests := []struct {
		roomID string
		ok     bool
	}{
		{"abc123", true},
		{"", false},
		{"a.b", false},
		{"a*", false},
		{"a>", false},
		{"has space", false},
	}
	for _, tt := range tests {
		err := validateSubjectToken(tt.roomID)
		if tt.ok {
			assert.NoError(t, err, tt.roomID)
		} else {
			assert.Error(t, err, tt.roomID)
		}
	}
}

// ---------------------------------------------------------------------------
// Integration tests. These require a running NATS server on localhost:4222.
// ---------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	ready  int
	events []protocol.Event
}

func (r *recorder) OnConnectionReady() {
	r.mu.Lock()
	r.ready++
	r.mu.Unlock()
}

func (r *recorder) OnClose() {}

func (r *recorder) OnMessage(ev protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) chat() []protocol.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.ChatMessage
	for _, ev := range r.events {
		if m, ok := ev.(protocol.ChatMessageEvent); ok {
			out = append(out, m.Message)
		}
	}
	return out
}

func (r *recorder) lastTyping() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if p, ok := r.events[i].(protocol.TypingPresenceEvent); ok {
			return p.UsersTyping
		}
	}
	return nil
}

func newTestClient(t *testing.T, h transport.Handler) *Client {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := Dial(context.Background(), cfg, h, nil)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNATSRoundTrip(t *testing.T) {
	aliceRec, bobRec := &recorder{}, &recorder{}
	alice := newTestClient(t, aliceRec)
	bob := newTestClient(t, bobRec)
	ctx := context.Background()

	roomID, err := alice.CreateRoom(ctx, "alice", "")
	require.NoError(t, err)
	_, err = bob.JoinRoom(ctx, "bob", roomID, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(aliceRec.chat()) == 1 }, 2*time.Second, 10*time.Millisecond)
	notice := aliceRec.chat()[0]
	assert.True(t, notice.IsSystemMessage)
	assert.Equal(t, "bob joined the room", notice.Body)

	require.NoError(t, bob.Send(ctx, protocol.TypeSendMessage, protocol.SendMessagePayload{Body: "hello"}))
	require.Eventually(t, func() bool { return len(bobRec.chat()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", bobRec.chat()[0].Body)
	assert.Equal(t, "bob", bobRec.chat()[0].UserNickname)

	require.NoError(t, alice.Send(ctx, protocol.TypeSetTypingPresence, protocol.SetTypingPayload{Typing: true}))
	require.Eventually(t, func() bool { return len(bobRec.lastTyping()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{alice.UserID()}, bobRec.lastTyping())
}

func TestNATSSendOutsideRoom(t *testing.T) {
	c := newTestClient(t, &recorder{})

	err := c.Send(context.Background(), protocol.TypeSendMessage, protocol.SendMessagePayload{Body: "hi"})
	assert.ErrorIs(t, err, transport.ErrNotInRoom)
}

func TestNATSAnnouncesUserID(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.ready == 1 && len(rec.events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, protocol.UserIDEvent{UserID: c.UserID()}, rec.events[0])
}
