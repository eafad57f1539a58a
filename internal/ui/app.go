package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chatnest/chat-app/internal/client"
	"github.com/chatnest/chat-app/internal/identity"
)

// Session is the client-side session the root model drives.
type Session interface {
	Authenticator
	Restore(ctx context.Context, token string) error
	SignOut(ctx context.Context) error
	Current() (*identity.User, client.AuthState)
	WebSocketURL() string
}

// Dialer opens the chat connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

type screen int

const (
	screenLoading screen = iota
	screenAuth
	screenChat
)

const (
	connectTimeout = 10 * time.Second
	reconnectDelay = 2 * time.Second
)

type restoredMsg struct{ err error }

type connectedMsg struct {
	conn    Conn
	welcome bool
}

type connectFailedMsg struct{ err error }

type reconnectMsg struct{}

type signedOutMsg struct{ err error }

// App is the root model. It restores a saved session, shows the auth screen
// when signed out and the chat screen when signed in.
type App struct {
	theme   Theme
	session Session
	dial    Dialer
	token   string

	screen screen
	auth   AuthModel
	chat   *ChatModel
	width  int
	height int
}

// NewApp creates the root model. token, if set, is restored on start.
func NewApp(theme Theme, session Session, dial Dialer, token string) *App {
	return &App{
		theme:   theme,
		session: session,
		dial:    dial,
		token:   token,
		auth:    NewAuthModel(theme, session),
	}
}

// Init restores the saved session or shows the auth screen.
func (a *App) Init() tea.Cmd {
	if a.token == "" {
		a.screen = screenAuth
		return a.auth.Init()
	}
	a.screen = screenLoading
	token := a.token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return restoredMsg{err: a.session.Restore(ctx, token)}
	}
}

// Update routes messages to the active screen and handles transitions.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if a.chat != nil {
				a.chat.Close()
			}
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.auth, _ = a.auth.Update(msg)
		if a.chat != nil {
			a.chat, _ = a.chat.Update(msg)
		}
		return a, nil

	case restoredMsg:
		if msg.err != nil {
			a.screen = screenAuth
			return a, a.auth.Init()
		}
		return a, a.connect(false)

	case SignedInMsg:
		return a, a.connect(true)

	case connectedMsg:
		return a, a.openChat(msg)

	case connectFailedMsg:
		a.closeChat()
		a.screen = screenAuth
		toast, cmd := newToast(ToastError, "Connection Error", msg.err.Error())
		a.auth = a.auth.WithToast(toast)
		return a, cmd

	case DisconnectedMsg:
		if a.screen != screenChat || msg.conn != a.chat.conn {
			return a, nil
		}
		cmd := a.chat.ShowToast(ToastError, "Disconnected", "Connection lost. Reconnecting...")
		return a, tea.Batch(cmd, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} }))

	case reconnectMsg:
		if a.screen != screenChat {
			return a, nil
		}
		return a, a.connect(false)

	case SignOutRequestedMsg:
		a.closeChat()
		return a, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			return signedOutMsg{err: a.session.SignOut(ctx)}
		}

	case signedOutMsg:
		a.screen = screenAuth
		toast, cmd := newToast(ToastInfo, "Signed out", "You have been signed out successfully.")
		a.auth = a.auth.WithToast(toast)
		return a, cmd
	}

	var cmd tea.Cmd
	switch a.screen {
	case screenAuth:
		a.auth, cmd = a.auth.Update(msg)
	case screenChat:
		a.chat, cmd = a.chat.Update(msg)
	}
	return a, cmd
}

// connect dials the chat server with the current session token.
func (a *App) connect(welcome bool) tea.Cmd {
	url := a.session.WebSocketURL()
	dial := a.dial
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		conn, err := dial(ctx, url)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn, welcome: welcome}
	}
}

func (a *App) openChat(msg connectedMsg) tea.Cmd {
	a.closeChat()

	user, _ := a.session.Current()
	var userID, username string
	if user != nil {
		userID, username = user.ID, user.Username
	}

	a.chat = NewChatModel(a.theme, msg.conn, userID, username)
	if a.width > 0 {
		a.chat, _ = a.chat.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
	}
	a.screen = screenChat

	cmds := []tea.Cmd{a.chat.Init()}
	if msg.welcome {
		cmds = append(cmds, a.chat.ShowToast(ToastSuccess, "Welcome back!", "You have been signed in successfully."))
	}
	return tea.Batch(cmds...)
}

func (a *App) closeChat() {
	if a.chat != nil {
		a.chat.Close()
		a.chat = nil
	}
}

// View renders the active screen.
func (a *App) View() string {
	switch a.screen {
	case screenChat:
		return a.chat.View()
	case screenAuth:
		return a.auth.View()
	default:
		return a.theme.App.Render(lipgloss.JoinVertical(lipgloss.Left,
			a.theme.Title.Render(a.theme.Banner),
			a.theme.Subtitle.Render("Loading..."),
		))
	}
}
