package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chatnest/chat-app/internal/client"
	"github.com/chatnest/chat-app/internal/message"
	"github.com/chatnest/chat-app/internal/protocol"
	"github.com/chatnest/chat-app/internal/typing"
)

const (
	tipText          = "💡 Tip: Start your message with @gpt to chat with the AI assistant"
	inputPlaceholder = "Type a message... (use @gpt to chat with AI)"

	// typingRefresh is how often a typing hint is re-sent while typing; it is
	// shorter than typing.DefaultExpiry so the hint does not flicker.
	typingRefresh = 2 * time.Second
)

// Conn is the live connection the chat screen reads from and writes to.
type Conn interface {
	Frames() <-chan client.Frame
	SendMessage(text string) error
	SendTyping(isTyping bool) error
	Close() error
}

// SignOutRequestedMsg asks the root model to sign the user out.
type SignOutRequestedMsg struct{}

// DisconnectedMsg reports that the server connection ended.
type DisconnectedMsg struct {
	conn Conn
}

type frameMsg struct {
	conn  Conn
	frame client.Frame
}

type typingChangedMsg struct{}

// ChatModel is the chat screen. It owns a render copy of the message list
// built from server frames.
type ChatModel struct {
	theme    Theme
	conn     Conn
	userID   string
	username string

	messages []message.Message
	typers   *typing.Set
	typingCh chan struct{}
	done     chan struct{}

	input      textinput.Model
	viewport   viewport.Model
	sending    bool
	pending    string // text awaiting its sent frame
	typingSent bool
	lastTyping time.Time

	toast  *Toast
	width  int
	height int
}

// NewChatModel creates the chat screen for a signed-in user.
func NewChatModel(theme Theme, conn Conn, userID, username string) *ChatModel {
	in := textinput.New()
	in.Placeholder = inputPlaceholder
	in.CharLimit = message.MaxTextChars
	in.Prompt = "› "
	in.Focus()

	m := &ChatModel{
		theme:    theme,
		conn:     conn,
		userID:   userID,
		username: username,
		typingCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
		input:    in,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
	m.typers = typing.NewSet(typing.DefaultExpiry, func() {
		select {
		case m.typingCh <- struct{}{}:
		default:
		}
	})
	return m
}

// Init starts reading frames and typing updates.
func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listenFrames(), m.listenTyping())
}

// ShowToast displays a toast on the chat screen.
func (m *ChatModel) ShowToast(kind ToastKind, title, text string) tea.Cmd {
	var cmd tea.Cmd
	m.toast, cmd = newToast(kind, title, text)
	return cmd
}

// Messages returns the rendered message list.
func (m *ChatModel) Messages() []message.Message {
	return m.messages
}

// InputValue returns the current input text.
func (m *ChatModel) InputValue() string {
	return m.input.Value()
}

// Close stops timers and closes the connection.
func (m *ChatModel) Close() {
	select {
	case <-m.done:
		return
	default:
	}
	close(m.done)
	m.typers.Stop()
	_ = m.conn.Close()
}

func (m *ChatModel) listenFrames() tea.Cmd {
	conn := m.conn
	frames := conn.Frames()
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return DisconnectedMsg{conn: conn}
		}
		return frameMsg{conn: conn, frame: f}
	}
}

func (m *ChatModel) listenTyping() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.typingCh:
			return typingChangedMsg{}
		case <-m.done:
			return nil
		}
	}
}

// Update handles keys, frames and timers.
func (m *ChatModel) Update(msg tea.Msg) (*ChatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case toastExpiredMsg:
		m.toast = dismiss(m.toast, msg)
		return m, nil

	case typingChangedMsg:
		return m, m.listenTyping()

	case frameMsg:
		if msg.conn != m.conn {
			return m, nil
		}
		cmd := m.handleFrame(msg.frame)
		return m, tea.Batch(cmd, m.listenFrames())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *ChatModel) handleKey(msg tea.KeyMsg) (*ChatModel, tea.Cmd) {
	switch msg.String() {
	case "ctrl+o":
		return m, func() tea.Msg { return SignOutRequestedMsg{} }
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		return m, m.send()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.reportTyping(time.Now())
	return m, cmd
}

// send transmits the input. The text stays in the input until the server
// acknowledges it, so a failed send can be retried.
func (m *ChatModel) send() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" || m.sending {
		return nil
	}
	if m.typingSent {
		_ = m.conn.SendTyping(false)
		m.typingSent = false
	}
	if err := m.conn.SendMessage(text); err != nil {
		return m.ShowToast(ToastError, "Error", "Failed to send message")
	}
	m.sending = true
	m.pending = text
	return nil
}

func (m *ChatModel) reportTyping(now time.Time) {
	if strings.TrimSpace(m.input.Value()) == "" {
		if m.typingSent {
			_ = m.conn.SendTyping(false)
			m.typingSent = false
		}
		return
	}
	if m.typingSent && now.Sub(m.lastTyping) < typingRefresh {
		return
	}
	if m.conn.SendTyping(true) == nil {
		m.typingSent = true
		m.lastTyping = now
	}
}

func (m *ChatModel) handleFrame(f client.Frame) tea.Cmd {
	switch f.Type {
	case protocol.TypeReady:
		var r protocol.ReadyMsg
		if f.Decode(&r) == nil {
			m.userID, m.username = r.UserID, r.Username
		}

	case protocol.TypeHistory:
		var h protocol.HistoryMsg
		if f.Decode(&h) == nil {
			for _, msg := range h.Messages {
				m.messages, _ = message.Insert(m.messages, msg)
			}
			m.refresh()
		}

	case protocol.TypeMessage:
		var c protocol.ServerChatMsg
		if f.Decode(&c) == nil {
			var added bool
			if m.messages, added = message.Insert(m.messages, c.Message); added {
				if !c.Message.IsGPT && c.Message.Username != "" {
					m.typers.Remove(c.Message.Username)
				}
				m.refresh()
			}
		}

	case protocol.TypeTyping:
		var t protocol.ServerTypingMsg
		if f.Decode(&t) == nil && t.Username != m.username {
			if t.IsTyping {
				m.typers.Touch(t.Username)
			} else {
				m.typers.Remove(t.Username)
			}
		}

	case protocol.TypeSent:
		// Text typed after enter survives the acknowledgement.
		if m.input.Value() == m.pending {
			m.input.Reset()
		}
		m.sending, m.pending = false, ""

	case protocol.TypeSendFailed:
		m.sending, m.pending = false, ""

	case protocol.TypeRateLimited:
		m.sending, m.pending = false, ""
		var rl protocol.RateLimitedMsg
		_ = f.Decode(&rl)
		return m.ShowToast(ToastInfo, "Slow down", fmt.Sprintf("You're sending messages too fast. Try again in %ds.", rl.RetryAfter))

	case protocol.TypeNotice:
		var n protocol.NoticeMsg
		if f.Decode(&n) == nil {
			return m.ShowToast(ToastError, n.Title, n.Text)
		}

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if f.Decode(&e) == nil {
			return m.ShowToast(ToastError, "Error", e.Message)
		}
	}
	return nil
}

func (m *ChatModel) resize(width, height int) {
	m.width, m.height = width, height
	m.input.Width = max(width-8, 10)
	m.viewport.Width = max(width-2, 10)
	// header 2, tip 1, typing 1, input 3, help 1
	m.viewport.Height = max(height-8, 3)
	m.refresh()
}

func (m *ChatModel) refresh() {
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *ChatModel) renderMessage(msg message.Message) string {
	t := m.theme
	own := msg.IsOwn(m.userID)

	author := t.Author
	bubble := t.OtherBubble
	switch {
	case msg.IsGPT:
		author, bubble = t.BotAuthor, t.BotBubble
	case own:
		bubble = t.OwnBubble
	}

	maxWidth := max(m.viewport.Width*3/4, 20)
	header := author.Render(msg.Author()) + " " + t.Timestamp.Render(msg.CreatedAt.Local().Format("15:04"))
	body := bubble.Width(min(lipgloss.Width(msg.Content)+2, maxWidth)).Render(msg.Content)
	block := lipgloss.JoinVertical(lipgloss.Left, header, body)

	if own {
		block = lipgloss.JoinVertical(lipgloss.Right, header, body)
		return lipgloss.PlaceHorizontal(m.viewport.Width, lipgloss.Right, block)
	}
	return block
}

// View renders the chat screen.
func (m *ChatModel) View() string {
	t := m.theme

	header := t.Title.Render(t.Banner) + "  " + t.Subtitle.Render("signed in as "+m.username)
	tip := t.Tip.Render(tipText)
	typingLine := t.Typing.Render(typing.Format(m.typers.Names()))

	inputStyle := t.InputFocused
	if m.sending {
		inputStyle = t.Input
	}
	input := inputStyle.Width(max(m.width-4, 10)).Render(m.input.View())
	help := t.Help.Render("enter: send • pgup/pgdown: scroll • ctrl+o: sign out • ctrl+c: quit")

	parts := []string{header, tip, m.viewport.View(), typingLine, input, help}
	if toast := m.toast.render(t); toast != "" {
		parts = append(parts, toast)
	}
	return t.App.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
