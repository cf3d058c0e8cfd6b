package messaging

import (
	"sort"
	"sync"
)

// typingUpdate is published on a room's typing subject whenever a member
// starts or stops typing.
type typingUpdate struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

// presence aggregates per-user typing updates into the full typing set the
// room server would otherwise broadcast.
type presence struct {
	mu    sync.Mutex
	users map[string]struct{}
}

func newPresence() *presence {
	return &presence{users: make(map[string]struct{})}
}

// Set records one user's typing state and returns the sorted set of users
// currently typing.
func (p *presence) Set(userID string, typing bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if typing {
		p.users[userID] = struct{}{}
	} else {
		delete(p.users, userID)
	}
	return p.snapshotLocked()
}

// Reset forgets every typing user.
func (p *presence) Reset() {
	p.mu.Lock()
	p.users = make(map[string]struct{})
	p.mu.Unlock()
}

func (p *presence) snapshotLocked() []string {
	ids := make([]string, 0, len(p.users))
	for id := range p.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
