// Package tui renders the chat session in the terminal with bubbletea. The
// model never mutates session state itself: key presses become calls on
// Actions and store changes arrive back as StateMsg.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/session"
)

// Actions is the part of chat.Controller the UI drives.
type Actions interface {
	Join(ctx context.Context, roomID, nickname string) error
	Create(ctx context.Context, nickname string) error
	Leave(ctx context.Context) error
	CopyRoomID() error
	SendMessage(ctx context.Context, body string) error
	// SetTyping must not block; it is called from Update so values keep
	// key press order.
	SetTyping(typing bool)
}

// StateMsg carries a fresh session snapshot into the program.
type StateMsg struct {
	State session.State
}

// NoticeMsg carries a controller notice into the program.
type NoticeMsg chat.Notice

type actionKind string

const (
	kindJoin   actionKind = "join"
	kindCreate actionKind = "create"
	kindLeave  actionKind = "leave"
	kindCopy   actionKind = "copy"
	kindSend   actionKind = "send"
)

type actionDoneMsg struct {
	kind actionKind
	body string // message text for kindSend
	err  error
}

// Field focused on the join screen.
const (
	focusNickname = iota
	focusRoom
)

// Local hints shown when a form action is missing input.
const (
	hintJoinNeedsBoth    = "Enter a nickname and a room ID to join."
	hintCreateNeedsNick  = "Enter a nickname to create a room."
	connectingText       = "Connecting to server..."
	someoneTypingText    = "Someone is typing..."
	multipleTypingText   = "Multiple people are typing..."
	joinHelp             = "enter: join • tab: switch field • ctrl+n: create room • ctrl+c: quit"
	roomHelp             = "enter: send • ctrl+y: copy room id • esc: leave • ctrl+c: quit"
	chromeHeight         = 9 // header, typing line, input, notice, help, borders
	minViewportHeight    = 3
	defaultViewportWidth = 80
)

// Model is the bubbletea model for the chat client.
type Model struct {
	ctx     context.Context
	actions Actions
	styles  Styles
	state   session.State

	nickname textinput.Model
	room     textinput.Model
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	focus  int
	notice *chat.Notice
	typing bool // last typing state sent to the room
	width  int
	height int
}

// New creates a model showing initial. ctx bounds every action the model
// starts; nickname prefills the join form.
func New(ctx context.Context, actions Actions, initial session.State, nickname string) Model {
	nick := textinput.New()
	nick.Placeholder = "Nickname"
	nick.CharLimit = protocol.MaxNicknameChars
	nick.SetValue(nickname)
	nick.Focus()

	room := textinput.New()
	room.Placeholder = "Room ID"
	room.CharLimit = protocol.MaxRoomIDChars

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = protocol.MaxTextChars

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		actions:  actions,
		styles:   DefaultStyles(),
		state:    initial,
		nickname: nick,
		room:     room,
		input:    input,
		viewport: viewport.New(defaultViewportWidth, minViewportHeight),
		spinner:  sp,
	}
	if initial.InRoom() {
		m.focusInput()
	}
	m.refreshViewport(true)
	return m
}

// Init starts the cursor blink and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update handles a message and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case StateMsg:
		return m.applyState(msg.State), nil

	case NoticeMsg:
		n := chat.Notice(msg)
		m.notice = &n
		return m, nil

	case actionDoneMsg:
		return m.actionDone(msg), nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.screen() {
		case screenJoin:
			return m.updateJoin(msg)
		case screenRoom:
			return m.updateRoom(msg)
		}
		return m, nil
	}

	return m.forwardToInputs(msg)
}

type screen int

const (
	screenConnecting screen = iota
	screenJoin
	screenRoom
)

func (m Model) screen() screen {
	switch {
	case m.state.InRoom():
		return screenRoom
	case m.state.Status == session.StatusConnected:
		return screenJoin
	default:
		return screenConnecting
	}
}

func (m Model) applyState(st session.State) Model {
	if st.Version < m.state.Version {
		return m
	}
	wasIn := m.state.InRoom()
	grew := len(st.Messages) != len(m.state.Messages)
	m.state = st

	switch {
	case !wasIn && st.InRoom():
		m.focusInput()
		m.notice = nil
	case wasIn && !st.InRoom():
		m.input.Reset()
		m.typing = false
		m.focusForm(focusNickname)
	}
	m.refreshViewport(grew)
	return m
}

func (m Model) actionDone(msg actionDoneMsg) Model {
	if msg.err == nil {
		return m
	}
	switch msg.kind {
	case kindSend:
		// Give the text back so it can be retried.
		if m.input.Value() == "" && !errors.Is(msg.err, chat.ErrNotInRoom) {
			m.input.SetValue(msg.body)
			m.input.CursorEnd()
		}
	case kindJoin, kindCreate:
		if errors.Is(msg.err, chat.ErrInvalidInput) {
			m.notice = &chat.Notice{Level: chat.LevelError, Text: strings.TrimPrefix(msg.err.Error(), chat.ErrInvalidInput.Error()+": ")}
		}
	}
	return m
}

func (m Model) updateJoin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		m.focusForm(1 - m.focus)
		return m, nil

	case tea.KeyEnter:
		if m.focus == focusNickname {
			m.focusForm(focusRoom)
			return m, nil
		}
		nick := strings.TrimSpace(m.nickname.Value())
		room := strings.TrimSpace(m.room.Value())
		if nick == "" || room == "" {
			m.notice = &chat.Notice{Level: chat.LevelError, Text: hintJoinNeedsBoth}
			return m, nil
		}
		m.notice = nil
		return m, m.run(kindJoin, "", func(ctx context.Context) error {
			return m.actions.Join(ctx, room, nick)
		})

	case tea.KeyCtrlN:
		nick := strings.TrimSpace(m.nickname.Value())
		if nick == "" {
			m.notice = &chat.Notice{Level: chat.LevelError, Text: hintCreateNeedsNick}
			return m, nil
		}
		m.notice = nil
		return m, m.run(kindCreate, "", func(ctx context.Context) error {
			return m.actions.Create(ctx, nick)
		})
	}

	var cmd tea.Cmd
	if m.focus == focusNickname {
		m.nickname, cmd = m.nickname.Update(msg)
	} else {
		m.room, cmd = m.room.Update(msg)
	}
	return m, cmd
}

func (m Model) updateRoom(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		body := strings.TrimSpace(m.input.Value())
		if body == "" {
			return m, nil
		}
		m.input.Reset()
		cmds := []tea.Cmd{m.run(kindSend, body, func(ctx context.Context) error {
			return m.actions.SendMessage(ctx, body)
		})}
		if m.typing {
			m.typing = false
			m.actions.SetTyping(false)
		}
		return m, tea.Batch(cmds...)

	case tea.KeyCtrlY:
		return m, m.run(kindCopy, "", func(context.Context) error {
			return m.actions.CopyRoomID()
		})

	case tea.KeyEsc:
		m.typing = false
		return m, m.run(kindLeave, "", func(ctx context.Context) error {
			return m.actions.Leave(ctx)
		})

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if typing := m.input.Value() != ""; typing != m.typing {
		m.typing = typing
		m.actions.SetTyping(typing)
	}
	return m, cmd
}

func (m Model) forwardToInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.screen() {
	case screenRoom:
		m.input, cmd = m.input.Update(msg)
	case screenJoin:
		if m.focus == focusNickname {
			m.nickname, cmd = m.nickname.Update(msg)
		} else {
			m.room, cmd = m.room.Update(msg)
		}
	}
	return m, cmd
}

func (m Model) run(kind actionKind, body string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{kind: kind, body: body, err: fn(ctx)}
	}
}

func (m *Model) focusForm(field int) {
	m.focus = field
	m.input.Blur()
	if field == focusNickname {
		m.room.Blur()
		m.nickname.Focus()
	} else {
		m.nickname.Blur()
		m.room.Focus()
	}
}

func (m *Model) focusInput() {
	m.nickname.Blur()
	m.room.Blur()
	m.input.Focus()
}

func (m *Model) resize() {
	w := m.width - 4
	if w < 10 {
		w = 10
	}
	h := m.height - chromeHeight
	if h < minViewportHeight {
		h = minViewportHeight
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
	m.refreshViewport(true)
}

// refreshViewport re-renders the log. The view follows new messages when it
// was already at the bottom.
func (m *Model) refreshViewport(follow bool) {
	atBottom := m.viewport.AtBottom()
	lines := make([]string, 0, len(m.state.Messages))
	for _, msg := range m.state.Messages {
		lines = append(lines, m.renderMessage(msg))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if follow && atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderMessage(msg session.ChatMessage) string {
	if msg.IsSystemMessage {
		return m.styles.System.Render(msg.Body)
	}
	ts := m.styles.Timestamp.Render(FormatTimestamp(msg.Timestamp))
	name := msg.UserNickname
	if msg.UserIcon != "" {
		name = msg.UserIcon + " " + name
	}
	if m.state.IsOwnMessage(msg) {
		name = m.styles.Own.Render(name + " (you)")
	} else {
		name = m.styles.Other.Render(name)
	}
	return fmt.Sprintf("%s %s: %s", ts, name, msg.Body)
}

// FormatTimestamp renders a unix millisecond timestamp as local HH:MM.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Format("15:04")
}

// TypingText describes the other users currently typing. It is empty when
// nobody is.
func TypingText(others []string) string {
	switch len(others) {
	case 0:
		return ""
	case 1:
		return someoneTypingText
	default:
		return multipleTypingText
	}
}

// View renders the current screen.
func (m Model) View() string {
	var b strings.Builder
	switch m.screen() {
	case screenConnecting:
		b.WriteString(m.spinner.View() + " " + connectingText + "\n")
	case screenJoin:
		b.WriteString(m.viewJoin())
	case screenRoom:
		b.WriteString(m.viewRoom())
	}
	if n := m.noticeLine(); n != "" {
		b.WriteString("\n" + n)
	}
	return b.String()
}

func (m Model) viewJoin() string {
	label := func(text string, focused bool) string {
		if focused {
			return m.styles.Focused.Render("> " + text)
		}
		return m.styles.Label.Render("  " + text)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Title.Render("Join or create a chat room"),
		"",
		label("Nickname", m.focus == focusNickname),
		"  "+m.nickname.View(),
		label("Room ID", m.focus == focusRoom),
		"  "+m.room.View(),
		"",
		m.styles.Help.Render(joinHelp),
	) + "\n"
}

func (m Model) viewRoom() string {
	header := m.styles.Title.Render("Chat Room: " + m.state.RoomID)
	var who string
	if m.state.User != nil {
		who = m.styles.Subtitle.Render("Logged in as " + m.state.User.Nickname)
	}
	if m.state.Status != session.StatusConnected {
		who += m.styles.Error.Render("  (offline)")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		who,
		m.styles.MessageBox.Render(m.viewport.View()),
		m.styles.Typing.Render(TypingText(m.state.OtherTypers())),
		m.input.View(),
		m.styles.Help.Render(roomHelp),
	) + "\n"
}

func (m Model) noticeLine() string {
	if m.notice == nil || m.notice.Text == "" {
		return ""
	}
	if m.notice.Level == chat.LevelError {
		return m.styles.Error.Render(m.notice.Text)
	}
	return m.styles.Info.Render(m.notice.Text)
}
