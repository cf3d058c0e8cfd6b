package session

import (
	"context"
	"sync"
)

// Memory persists the remembered Intent outside the live session so it
// survives the room fields being cleared on disconnect, and optionally a
// process restart.
type Memory interface {
	Load(ctx context.Context) (Intent, error)
	Save(ctx context.Context, in Intent) error
	Clear(ctx context.Context) error
}

// InMemory is a process-local Memory.
type InMemory struct {
	mu     sync.Mutex
	intent Intent
}

// NewInMemory creates an empty InMemory.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Load returns the saved intent, or the zero Intent.
func (m *InMemory) Load(context.Context) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent, nil
}

// Save replaces the saved intent.
func (m *InMemory) Save(_ context.Context, in Intent) error {
	m.mu.Lock()
	m.intent = in
	m.mu.Unlock()
	return nil
}

// Clear forgets the saved intent.
func (m *InMemory) Clear(context.Context) error {
	m.mu.Lock()
	m.intent = Intent{}
	m.mu.Unlock()
	return nil
}
