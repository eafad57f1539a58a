package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatnest/chat-app/internal/client"
	"github.com/chatnest/chat-app/internal/identity"
	"github.com/chatnest/chat-app/internal/message"
	"github.com/chatnest/chat-app/internal/protocol"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeConn struct {
	frames  chan client.Frame
	sent    []string
	typing  []bool
	sendErr error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan client.Frame, 16)}
}

func (c *fakeConn) Frames() <-chan client.Frame { return c.frames }

func (c *fakeConn) SendMessage(text string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) SendTyping(isTyping bool) error {
	c.typing = append(c.typing, isTyping)
	return nil
}

func (c *fakeConn) Close() error {
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

type fakeSession struct {
	user       *identity.User
	signUpErr  error
	signInErr  error
	restoreErr error
	signedOut  bool
}

func (s *fakeSession) SignUp(_ context.Context, email, _, username string) (*identity.User, error) {
	if s.signUpErr != nil {
		return nil, s.signUpErr
	}
	return &identity.User{ID: "new-id", Email: email, Username: username}, nil
}

func (s *fakeSession) SignIn(_ context.Context, email, _ string) (*identity.Session, error) {
	if s.signInErr != nil {
		return nil, s.signInErr
	}
	s.user = &identity.User{ID: "alice-id", Email: email, Username: "alice"}
	return &identity.Session{Token: "tok", User: *s.user}, nil
}

func (s *fakeSession) Restore(context.Context, string) error {
	if s.restoreErr != nil {
		return s.restoreErr
	}
	s.user = &identity.User{ID: "alice-id", Username: "alice"}
	return nil
}

func (s *fakeSession) SignOut(context.Context) error {
	s.signedOut = true
	s.user = nil
	return nil
}

func (s *fakeSession) Current() (*identity.User, client.AuthState) {
	if s.user == nil {
		return nil, client.Anonymous
	}
	return s.user, client.Authenticated
}

func (s *fakeSession) WebSocketURL() string { return "ws://test/ws?token=tok" }

func frame(t *testing.T, msgType string, payload interface{}) client.Frame {
	t.Helper()
	raw, err := protocol.NewServerMessage(msgType, payload)
	require.NoError(t, err)
	return client.Frame{Type: msgType, Raw: raw}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+t":
		return tea.KeyMsg{Type: tea.KeyCtrlT}
	case "ctrl+o":
		return tea.KeyMsg{Type: tea.KeyCtrlO}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Theme
// ---------------------------------------------------------------------------

func TestThemeByName(t *testing.T) {
	for _, name := range ThemeNames {
		assert.Equal(t, name, ThemeByName(name).Name)
	}
	assert.Equal(t, "neon", ThemeByName(" NEON ").Name)
	assert.Equal(t, "jungle", ThemeByName("mystery").Name)
	assert.NotEmpty(t, ThemeByName("").Banner)
}

// ---------------------------------------------------------------------------
// Auth screen
// ---------------------------------------------------------------------------

func fillAuth(m AuthModel, email, password, username string) AuthModel {
	m.inputs[fieldEmail].SetValue(email)
	m.inputs[fieldPassword].SetValue(password)
	m.inputs[fieldUsername].SetValue(username)
	return m
}

func TestAuth_RequiresFields(t *testing.T) {
	m := NewAuthModel(ThemeByName("jungle"), &fakeSession{})
	assert.False(t, m.CanSubmit())

	m, cmd := m.Update(key("enter"))
	assert.Nil(t, cmd, "empty form must not submit")
	assert.False(t, m.Busy())

	m = fillAuth(m, "alice@example.com", "secret1", "")
	assert.True(t, m.CanSubmit())

	m, _ = m.Update(key("ctrl+t"))
	assert.Equal(t, ModeSignUp, m.Mode())
	assert.False(t, m.CanSubmit(), "sign-up needs a username")

	m = fillAuth(m, "alice@example.com", "secret1", "alice")
	assert.True(t, m.CanSubmit())
}

func TestAuth_SignInEmitsSignedIn(t *testing.T) {
	m := fillAuth(NewAuthModel(ThemeByName("jungle"), &fakeSession{}), "alice@example.com", "secret1", "")

	m, cmd := m.Update(key("enter"))
	require.NotNil(t, cmd)
	assert.True(t, m.Busy())

	// A second enter while busy is ignored.
	_, again := m.Update(key("enter"))
	assert.Nil(t, again)

	m, cmd = m.Update(cmd())
	require.NotNil(t, cmd)
	assert.False(t, m.Busy())

	signed, ok := cmd().(SignedInMsg)
	require.True(t, ok)
	assert.Equal(t, "tok", signed.Session.Token)
}

func TestAuth_SignUpShowsAccountCreated(t *testing.T) {
	m := NewAuthModel(ThemeByName("neon"), &fakeSession{})
	m, _ = m.Update(key("ctrl+t"))
	m = fillAuth(m, "bob@example.com", "secret1", "bob")

	m, cmd := m.Update(key("enter"))
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())

	require.NotNil(t, m.toast)
	assert.Equal(t, "Account Created!", m.toast.Title)
	assert.Equal(t, "Please check your email to verify your account.", m.toast.Text)
	assert.Equal(t, ModeSignIn, m.Mode())
	assert.Contains(t, m.View(), "Account Created!")
}

func TestAuth_ErrorShownVerbatim(t *testing.T) {
	session := &fakeSession{signInErr: errors.New("Invalid login credentials")}
	m := fillAuth(NewAuthModel(ThemeByName("classic"), session), "alice@example.com", "wrong!", "")

	m, cmd := m.Update(key("enter"))
	m, _ = m.Update(cmd())

	require.NotNil(t, m.toast)
	assert.Equal(t, ToastError, m.toast.Kind)
	assert.Equal(t, "Authentication Error", m.toast.Title)
	assert.Equal(t, "Invalid login credentials", m.toast.Text)
}

func TestAuth_ToastExpires(t *testing.T) {
	m := NewAuthModel(ThemeByName("jungle"), &fakeSession{})
	toast, _ := newToast(ToastInfo, "hello", "")
	m = m.WithToast(toast)

	m, _ = m.Update(toastExpiredMsg{id: toast.ID + 100})
	assert.NotNil(t, m.toast, "other toast ids are ignored")
	m, _ = m.Update(toastExpiredMsg{id: toast.ID})
	assert.Nil(t, m.toast)
}

// ---------------------------------------------------------------------------
// Chat screen
// ---------------------------------------------------------------------------

func newTestChat(t *testing.T) (*ChatModel, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	m := NewChatModel(ThemeByName("jungle"), conn, "alice-id", "alice")
	t.Cleanup(m.Close)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, conn
}

func deliver(m *ChatModel, conn Conn, f client.Frame) (*ChatModel, tea.Cmd) {
	return m.Update(frameMsg{conn: conn, frame: f})
}

func TestChat_HistoryRendersOrderedWithLabels(t *testing.T) {
	m, conn := newTestChat(t)
	base := time.Date(2026, 6, 1, 9, 5, 0, 0, time.UTC)

	history := []message.Message{
		{ID: "03", Content: "hi alice!", CreatedAt: base.Add(2 * time.Minute), IsGPT: true},
		{ID: "01", Content: "hello", CreatedAt: base, UserID: strPtr("alice-id"), Username: "alice"},
		{ID: "02", Content: "anyone?", CreatedAt: base.Add(time.Minute), UserID: strPtr("ghost-id")},
	}
	m, _ = deliver(m, conn, frame(t, protocol.TypeHistory, protocol.HistoryMsg{Messages: history}))

	got := m.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"01", "02", "03"}, []string{got[0].ID, got[1].ID, got[2].ID})

	view := m.View()
	assert.Contains(t, view, "ChatGPT")
	assert.Contains(t, view, "User")
	assert.Contains(t, view, base.Local().Format("15:04"))
	assert.Contains(t, view, tipText)
}

func TestChat_LiveMessageDeduplicated(t *testing.T) {
	m, conn := newTestChat(t)
	msg := message.Message{ID: "01", Content: "hey", CreatedAt: time.Now(), UserID: strPtr("bob-id"), Username: "bob"}

	m, _ = deliver(m, conn, frame(t, protocol.TypeMessage, protocol.ServerChatMsg{Message: msg}))
	m, _ = deliver(m, conn, frame(t, protocol.TypeMessage, protocol.ServerChatMsg{Message: msg}))
	assert.Len(t, m.Messages(), 1)
}

func TestChat_InputKeptUntilAcknowledged(t *testing.T) {
	m, conn := newTestChat(t)

	m, _ = m.Update(key("@gpt hi"))
	m, _ = m.Update(key("enter"))
	assert.Equal(t, []string{"@gpt hi"}, conn.sent)
	assert.Equal(t, "@gpt hi", m.InputValue())

	m, _ = deliver(m, conn, frame(t, protocol.TypeSendFailed, protocol.SendFailedMsg{Text: "@gpt hi"}))
	assert.Equal(t, "@gpt hi", m.InputValue(), "failed send keeps the text")

	m, _ = m.Update(key("enter"))
	assert.Len(t, conn.sent, 2)

	m, _ = deliver(m, conn, frame(t, protocol.TypeSent, protocol.SentMsg{}))
	assert.Empty(t, m.InputValue())
}

func TestChat_AckKeepsTextTypedAfterEnter(t *testing.T) {
	m, conn := newTestChat(t)

	m, _ = m.Update(key("hello"))
	m, _ = m.Update(key("enter"))
	m, _ = m.Update(key(" again"))
	require.Equal(t, "hello again", m.InputValue())

	m, _ = deliver(m, conn, frame(t, protocol.TypeSent, protocol.SentMsg{}))
	assert.Equal(t, "hello again", m.InputValue())

	m, _ = m.Update(key("enter"))
	assert.Equal(t, []string{"hello", "hello again"}, conn.sent)
	m, _ = deliver(m, conn, frame(t, protocol.TypeSent, protocol.SentMsg{}))
	assert.Empty(t, m.InputValue())
}

func TestChat_BlankInputNotSent(t *testing.T) {
	m, conn := newTestChat(t)
	m, _ = m.Update(key("   "))
	m, cmd := m.Update(key("enter"))
	assert.Nil(t, cmd)
	assert.Empty(t, conn.sent)
	assert.Equal(t, "   ", m.InputValue())
}

func TestChat_SendErrorShowsToast(t *testing.T) {
	m, conn := newTestChat(t)
	conn.sendErr = errors.New("broken pipe")

	m, _ = m.Update(key("hello"))
	m, _ = m.Update(key("enter"))
	require.NotNil(t, m.toast)
	assert.Equal(t, "Failed to send message", m.toast.Text)
	assert.Equal(t, "hello", m.InputValue())
}

func TestChat_NoticeFrames(t *testing.T) {
	m, conn := newTestChat(t)
	m, _ = deliver(m, conn, frame(t, protocol.TypeNotice, protocol.NoticeMsg{
		Kind:  protocol.NoticeAIError,
		Title: "AI Error",
		Text:  "Failed to get response from ChatGPT",
	}))
	require.NotNil(t, m.toast)
	assert.Equal(t, "AI Error", m.toast.Title)
	assert.Contains(t, m.View(), "Failed to get response from ChatGPT")
}

func TestChat_TypingIndicator(t *testing.T) {
	m, conn := newTestChat(t)

	m, _ = deliver(m, conn, frame(t, protocol.TypeTyping, protocol.ServerTypingMsg{Username: "bob", IsTyping: true}))
	assert.Contains(t, m.View(), "bob is typing...")

	m, _ = deliver(m, conn, frame(t, protocol.TypeTyping, protocol.ServerTypingMsg{Username: "carol", IsTyping: true}))
	assert.Contains(t, m.View(), "bob, carol are typing...")

	m, _ = deliver(m, conn, frame(t, protocol.TypeTyping, protocol.ServerTypingMsg{Username: "bob", IsTyping: false}))
	view := m.View()
	assert.Contains(t, view, "carol is typing...")
	assert.NotContains(t, view, "bob")

	// Own typing echoes are ignored.
	m, _ = deliver(m, conn, frame(t, protocol.TypeTyping, protocol.ServerTypingMsg{Username: "alice", IsTyping: true}))
	assert.NotContains(t, m.View(), "alice is typing")
}

func TestChat_ReportsTyping(t *testing.T) {
	m, conn := newTestChat(t)
	m, _ = m.Update(key("h"))
	m, _ = m.Update(key("i"))
	assert.Equal(t, []bool{true}, conn.typing, "refresh is throttled")

	m, _ = m.Update(key("enter"))
	assert.Equal(t, []bool{true, false}, conn.typing)
}

func TestChat_IgnoresFramesFromOldConnection(t *testing.T) {
	m, _ := newTestChat(t)
	old := newFakeConn()
	msg := message.Message{ID: "01", Content: "stale", CreatedAt: time.Now(), IsGPT: true}

	m, cmd := deliver(m, old, frame(t, protocol.TypeMessage, protocol.ServerChatMsg{Message: msg}))
	assert.Nil(t, cmd)
	assert.Empty(t, m.Messages())
}

func TestChat_SignOutKey(t *testing.T) {
	m, _ := newTestChat(t)
	_, cmd := m.Update(key("ctrl+o"))
	require.NotNil(t, cmd)
	assert.IsType(t, SignOutRequestedMsg{}, cmd())
}

// ---------------------------------------------------------------------------
// Root model
// ---------------------------------------------------------------------------

func TestApp_SignInOpensChatAndSignOutReturns(t *testing.T) {
	session := &fakeSession{}
	conn := newFakeConn()
	var dialed string
	dial := func(_ context.Context, url string) (Conn, error) {
		dialed = url
		return conn, nil
	}

	app := NewApp(ThemeByName("jungle"), session, dial, "")
	app.Init()
	assert.Equal(t, screenAuth, app.screen)

	_, err := session.SignIn(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)

	_, cmd := app.Update(SignedInMsg{Session: identity.Session{Token: "tok"}})
	require.NotNil(t, cmd)
	_, _ = app.Update(cmd())

	assert.Equal(t, "ws://test/ws?token=tok", dialed)
	require.Equal(t, screenChat, app.screen)
	require.NotNil(t, app.chat.toast)
	assert.Equal(t, "Welcome back!", app.chat.toast.Title)
	assert.True(t, strings.Contains(app.View(), "signed in as alice"))

	_, cmd = app.Update(SignOutRequestedMsg{})
	require.NotNil(t, cmd)
	assert.True(t, conn.closed)
	_, _ = app.Update(cmd())

	assert.True(t, session.signedOut)
	assert.Equal(t, screenAuth, app.screen)
	require.NotNil(t, app.auth.toast)
	assert.Equal(t, "Signed out", app.auth.toast.Title)
	assert.Equal(t, "You have been signed out successfully.", app.auth.toast.Text)
}

func TestApp_RestoreFailureShowsAuth(t *testing.T) {
	session := &fakeSession{restoreErr: errors.New("Not signed in")}
	app := NewApp(ThemeByName("jungle"), session, nil, "stale-token")

	cmd := app.Init()
	assert.Equal(t, screenLoading, app.screen)
	assert.Contains(t, app.View(), "Loading...")

	_, _ = app.Update(cmd())
	assert.Equal(t, screenAuth, app.screen)
}

func TestApp_ConnectFailure(t *testing.T) {
	session := &fakeSession{}
	dial := func(context.Context, string) (Conn, error) { return nil, errors.New("connection refused") }
	app := NewApp(ThemeByName("jungle"), session, dial, "tok")

	cmd := app.Init()
	_, cmd = app.Update(cmd())
	require.NotNil(t, cmd)
	_, _ = app.Update(cmd())

	assert.Equal(t, screenAuth, app.screen)
	require.NotNil(t, app.auth.toast)
	assert.Equal(t, "Connection Error", app.auth.toast.Title)
	assert.Equal(t, "connection refused", app.auth.toast.Text)
}

func TestApp_StaleDisconnectIgnored(t *testing.T) {
	session := &fakeSession{user: &identity.User{ID: "alice-id", Username: "alice"}}
	conn := newFakeConn()
	app := NewApp(ThemeByName("jungle"), session, nil, "")
	_, _ = app.Update(connectedMsg{conn: conn})
	require.Equal(t, screenChat, app.screen)

	_, cmd := app.Update(DisconnectedMsg{conn: newFakeConn()})
	assert.Nil(t, cmd)

	_, cmd = app.Update(DisconnectedMsg{conn: conn})
	assert.NotNil(t, cmd, "current connection schedules a reconnect")
}
