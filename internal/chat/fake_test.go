package chat

import (
	"context"
	"sync"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
)

type joinCall struct {
	Nickname string
	RoomID   string
}

type sendCall struct {
	Type    string
	Payload interface{}
}

// fakeClient is a scripted transport.Client.
type fakeClient struct {
	mu        sync.Mutex
	joins     []joinCall
	creates   []string
	sends     []sendCall
	closed    bool
	joinErr   error
	createErr error
	sendErr   error
	typingErr error
	createdID string
	backlog   []protocol.ChatMessage

	// When set, JoinRoom signals joinStarted and waits for joinRelease.
	joinStarted chan struct{}
	joinRelease chan struct{}

	// When set, typing sends wait for typingGate after being recorded.
	typingGate chan struct{}
}

func (f *fakeClient) JoinRoom(ctx context.Context, nickname, roomID, icon string) (transport.RoomInfo, error) {
	f.mu.Lock()
	f.joins = append(f.joins, joinCall{Nickname: nickname, RoomID: roomID})
	started, release := f.joinStarted, f.joinRelease
	err, backlog := f.joinErr, f.backlog
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return transport.RoomInfo{}, ctx.Err()
		}
	}
	if err != nil {
		return transport.RoomInfo{}, err
	}
	return transport.RoomInfo{RoomID: roomID, Messages: backlog}, nil
}

func (f *fakeClient) CreateRoom(_ context.Context, nickname, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, nickname)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createdID, nil
}

func (f *fakeClient) Send(ctx context.Context, msgType string, payload interface{}) error {
	f.mu.Lock()
	f.sends = append(f.sends, sendCall{Type: msgType, Payload: payload})
	gate, typingErr, sendErr := f.typingGate, f.typingErr, f.sendErr
	f.mu.Unlock()

	if msgType != protocol.TypeSetTypingPresence {
		return sendErr
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return typingErr
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) joinCalls() []joinCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]joinCall(nil), f.joins...)
}

func (f *fakeClient) sendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakeClient) typingSends() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, s := range f.sends {
		if p, ok := s.Payload.(protocol.SetTypingPayload); ok {
			out = append(out, p.Typing)
		}
	}
	return out
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out fakeClients and records the handler each was bound to.
type fakeDialer struct {
	mu       sync.Mutex
	clients  []*fakeClient
	handlers []transport.Handler
	err      error
	template func() *fakeClient
}

func (d *fakeDialer) Dial(_ context.Context, h transport.Handler) (transport.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	fc := &fakeClient{createdID: "room42"}
	if d.template != nil {
		fc = d.template()
	}
	d.clients = append(d.clients, fc)
	d.handlers = append(d.handlers, h)
	return fc, nil
}

func (d *fakeDialer) client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

func (d *fakeDialer) handler(i int) transport.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[i]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// fakeArchive is an in-memory Archive.
type fakeArchive struct {
	mu    sync.Mutex
	rooms map[string][]session.ChatMessage
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{rooms: make(map[string][]session.ChatMessage)}
}

func (a *fakeArchive) Append(_ context.Context, roomID string, msg session.ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms[roomID] = append(a.rooms[roomID], msg)
	return nil
}

func (a *fakeArchive) Recent(_ context.Context, roomID string, limit int) ([]session.ChatMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.rooms[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]session.ChatMessage(nil), msgs...), nil
}

func (a *fakeArchive) stored(roomID string) []session.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]session.ChatMessage(nil), a.rooms[roomID]...)
}
