package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chatnest/chat-app/internal/identity"
)

// AuthMode selects between the sign-in and sign-up forms.
type AuthMode int

const (
	ModeSignIn AuthMode = iota
	ModeSignUp
)

// Authenticator performs account operations for the auth screen.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, username string) (*identity.User, error)
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
}

// SignedInMsg is emitted by the auth screen after a successful sign-in.
type SignedInMsg struct {
	Session identity.Session
}

type authResultMsg struct {
	mode    AuthMode
	session *identity.Session
	err     error
}

const (
	fieldEmail = iota
	fieldPassword
	fieldUsername
)

const authTimeout = 15 * time.Second

// AuthModel is the sign-in / sign-up screen.
type AuthModel struct {
	theme  Theme
	auth   Authenticator
	mode   AuthMode
	inputs []textinput.Model
	focus  int
	busy   bool
	toast  *Toast
	width  int
}

// NewAuthModel creates the auth screen in sign-in mode.
func NewAuthModel(theme Theme, auth Authenticator) AuthModel {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 254
	email.Prompt = ""

	password := textinput.New()
	password.Placeholder = "at least 6 characters"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.Prompt = ""

	username := textinput.New()
	username.Placeholder = "how others see you"
	username.CharLimit = 32
	username.Prompt = ""

	m := AuthModel{
		theme:  theme,
		auth:   auth,
		inputs: []textinput.Model{email, password, username},
	}
	m.inputs[fieldEmail].Focus()
	return m
}

// Init starts the cursor blinking.
func (m AuthModel) Init() tea.Cmd {
	return textinput.Blink
}

// Mode returns the current form mode.
func (m AuthModel) Mode() AuthMode {
	return m.mode
}

// Busy reports whether a request is in flight.
func (m AuthModel) Busy() bool {
	return m.busy
}

// WithToast returns m showing t.
func (m AuthModel) WithToast(t *Toast) AuthModel {
	m.toast = t
	return m
}

// CanSubmit reports whether the required fields are filled.
func (m AuthModel) CanSubmit() bool {
	if strings.TrimSpace(m.inputs[fieldEmail].Value()) == "" || m.inputs[fieldPassword].Value() == "" {
		return false
	}
	if m.mode == ModeSignUp && strings.TrimSpace(m.inputs[fieldUsername].Value()) == "" {
		return false
	}
	return true
}

// Update handles input and request results.
func (m AuthModel) Update(msg tea.Msg) (AuthModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case toastExpiredMsg:
		m.toast = dismiss(m.toast, msg)
		return m, nil

	case authResultMsg:
		return m.handleResult(msg)

	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "down":
			return m.moveFocus(1), nil
		case "shift+tab", "up":
			return m.moveFocus(-1), nil
		case "ctrl+t":
			return m.toggleMode(), nil
		case "enter":
			if m.busy || !m.CanSubmit() {
				return m, nil
			}
			m.busy = true
			return m, m.submit()
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m AuthModel) fieldCount() int {
	if m.mode == ModeSignUp {
		return 3
	}
	return 2
}

func (m AuthModel) moveFocus(delta int) AuthModel {
	m.inputs[m.focus].Blur()
	n := m.fieldCount()
	m.focus = (m.focus + delta + n) % n
	m.inputs[m.focus].Focus()
	return m
}

func (m AuthModel) toggleMode() AuthModel {
	if m.busy {
		return m
	}
	if m.mode == ModeSignIn {
		m.mode = ModeSignUp
	} else {
		m.mode = ModeSignIn
		if m.focus == fieldUsername {
			m.inputs[m.focus].Blur()
			m.focus = fieldEmail
			m.inputs[m.focus].Focus()
		}
	}
	return m
}

func (m AuthModel) submit() tea.Cmd {
	mode := m.mode
	email := strings.TrimSpace(m.inputs[fieldEmail].Value())
	password := m.inputs[fieldPassword].Value()
	username := strings.TrimSpace(m.inputs[fieldUsername].Value())
	auth := m.auth

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()

		if mode == ModeSignUp {
			_, err := auth.SignUp(ctx, email, password, username)
			return authResultMsg{mode: mode, err: err}
		}
		sess, err := auth.SignIn(ctx, email, password)
		return authResultMsg{mode: mode, session: sess, err: err}
	}
}

func (m AuthModel) handleResult(msg authResultMsg) (AuthModel, tea.Cmd) {
	m.busy = false

	if msg.err != nil {
		var cmd tea.Cmd
		m.toast, cmd = newToast(ToastError, "Authentication Error", msg.err.Error())
		return m, cmd
	}

	if msg.mode == ModeSignUp {
		var cmd tea.Cmd
		m.toast, cmd = newToast(ToastSuccess, "Account Created!", "Please check your email to verify your account.")
		m.inputs[fieldPassword].Reset()
		m = m.toggleMode()
		return m, cmd
	}

	sess := *msg.session
	m.inputs[fieldPassword].Reset()
	return m, func() tea.Msg { return SignedInMsg{Session: sess} }
}

// View renders the form.
func (m AuthModel) View() string {
	t := m.theme
	var b strings.Builder

	b.WriteString(t.Title.Render(t.Banner))
	b.WriteString("\n")
	heading, sub := "Sign In", "Welcome back! Sign in to continue chatting."
	if m.mode == ModeSignUp {
		heading, sub = "Sign Up", "Create an account to join the conversation."
	}
	b.WriteString(t.Title.Render(heading) + "\n")
	b.WriteString(t.Subtitle.Render(sub) + "\n\n")

	labels := []string{"Email", "Password", "Username"}
	for i := 0; i < m.fieldCount(); i++ {
		style := t.Input
		if i == m.focus {
			style = t.InputFocused
		}
		b.WriteString(t.Label.Render(labels[i]) + "\n")
		b.WriteString(style.Width(36).Render(m.inputs[i].View()) + "\n")
	}

	b.WriteString("\n")
	switch {
	case m.busy:
		b.WriteString(t.ButtonBusy.Render("Please wait..."))
	case m.mode == ModeSignUp:
		b.WriteString(t.Button.Render("Sign Up"))
	default:
		b.WriteString(t.Button.Render("Sign In"))
	}
	b.WriteString("\n\n")

	toggle := "ctrl+t: Don't have an account? Sign up"
	if m.mode == ModeSignUp {
		toggle = "ctrl+t: Already have an account? Sign in"
	}
	b.WriteString(t.Help.Render("tab: next field • enter: submit • " + toggle + " • ctrl+c: quit"))

	out := t.Panel.Render(b.String())
	if toast := m.toast.render(t); toast != "" {
		out = lipgloss.JoinVertical(lipgloss.Left, out, toast)
	}
	return t.App.Render(out)
}
