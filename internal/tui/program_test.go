package tui

import (
	"context"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/session"
)

func TestRunFollowsStore(t *testing.T) {
	store := session.NewStore()
	store.SetConnectionStatus(true)

	models := make(chan Model, 64)
	filter := func(m tea.Model, msg tea.Msg) tea.Msg {
		if mm, ok := m.(Model); ok {
			select {
			case models <- mm:
			default:
			}
		}
		return msg
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, &fakeActions{}, store, nil, "",
			tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer(), tea.WithFilter(filter))
	}()
	defer func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}()

	// A mutation made before Run is part of the first state shown.
	var first Model
	select {
	case first = <-models:
	case <-time.After(2 * time.Second):
		t.Fatal("program did not start")
	}
	assert.Equal(t, session.StatusConnected, first.state.Status)

	store.SetUserID("u1")
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-models:
			if m.state.UserID == "u1" {
				require.Equal(t, session.StatusConnected, m.state.Status)
				return
			}
		case <-deadline:
			t.Fatal("store change never reached the model")
		}
	}
}
