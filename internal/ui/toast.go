package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ToastKind selects a toast's colour.
type ToastKind int

const (
	ToastInfo ToastKind = iota
	ToastSuccess
	ToastError
)

// ToastDuration is how long a toast stays on screen.
const ToastDuration = 4 * time.Second

// Toast is a transient titled notification.
type Toast struct {
	ID    int
	Kind  ToastKind
	Title string
	Text  string
}

type toastExpiredMsg struct{ id int }

var toastSeq int

// newToast creates a toast and the command that dismisses it. Only called
// from Update, which bubbletea runs on a single goroutine.
func newToast(kind ToastKind, title, text string) (*Toast, tea.Cmd) {
	toastSeq++
	t := &Toast{ID: toastSeq, Kind: kind, Title: title, Text: text}
	id := t.ID
	return t, tea.Tick(ToastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })
}

// dismiss clears t when msg expires it.
func dismiss(t *Toast, msg toastExpiredMsg) *Toast {
	if t != nil && t.ID == msg.id {
		return nil
	}
	return t
}

func (t *Toast) render(theme Theme) string {
	if t == nil {
		return ""
	}
	style := theme.ToastInfo
	switch t.Kind {
	case ToastSuccess:
		style = theme.ToastSuccess
	case ToastError:
		style = theme.ToastError
	}
	body := lipgloss.NewStyle().Bold(true).Render(t.Title)
	if t.Text != "" {
		body += "\n" + t.Text
	}
	return style.Render(body)
}
