package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/session"
)

// Run shows the chat UI until the user quits or ctx is cancelled. Store
// changes and controller notices are forwarded into the program.
func Run(ctx context.Context, actions Actions, store *session.Store, notices <-chan chat.Notice, nickname string, opts ...tea.ProgramOption) error {
	var p *tea.Program
	started := make(chan struct{})
	initial, unsubscribe := store.Watch(func(st session.State) {
		<-started
		p.Send(StateMsg{State: st})
	})
	defer unsubscribe()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p = tea.NewProgram(New(ctx, actions, initial, nickname), opts...)
	close(started)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case n, ok := <-notices:
				if !ok {
					return
				}
				p.Send(NoticeMsg(n))
			case <-done:
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
