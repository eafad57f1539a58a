package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/client"
	"github.com/chatnest/chat-app/internal/config"
	"github.com/chatnest/chat-app/internal/logging"
	"github.com/chatnest/chat-app/internal/ui"
)

func main() {
	cfg := config.LoadClient()

	server := flag.String("server", cfg.ServerURL, "chat server base URL")
	theme := flag.String("theme", cfg.Theme, "UI theme: "+strings.Join(ui.ThemeNames, ", "))
	logFile := flag.String("log", filepath.Join(os.TempDir(), "chatnest.log"), "log file path")
	flag.Parse()

	// The terminal belongs to the UI, so logs go to a file.
	f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.Logger = zerolog.Nop()
	} else {
		defer f.Close()
		log.Logger = logging.New("production", f, "chatnest")
	}

	sessions := client.NewSessionStore(*server)
	dial := func(ctx context.Context, url string) (ui.Conn, error) {
		conn, err := client.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	sessions.OnChange(func(st client.State) {
		log.Debug().Str("auth", st.Auth.String()).Bool("loading", st.Loading).Msg("session changed")
	})

	app := ui.NewApp(ui.ThemeByName(*theme), sessions, dial, cfg.Token)
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatnest: %v\n", err)
		os.Exit(1)
	}
}
