package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/config"
	"github.com/chatnest/chat-app/internal/database"
	"github.com/chatnest/chat-app/internal/llm"
	"github.com/chatnest/chat-app/internal/logging"
	"github.com/chatnest/chat-app/internal/message"
	"github.com/chatnest/chat-app/internal/messaging"
	"github.com/chatnest/chat-app/internal/metrics"
	"github.com/chatnest/chat-app/internal/relay"
)

func main() {
	cfg := config.LoadRelay()
	logger := logging.Setup(cfg.Env, "relay")

	relayConfig := relay.Config{
		APIKey:      cfg.OpenAIAPIKey,
		DatabaseURL: cfg.DatabaseURL,
		ServiceKey:  cfg.ServiceKey,
	}
	if err := relayConfig.Validate(); err != nil {
		// Invocations report the same error until the configuration is fixed.
		log.Warn().Err(err).Msg("relay is not fully configured")
	}

	completer := llm.NewClient(cfg.OpenAIAPIKey,
		llm.WithBaseURL(cfg.OpenAIBaseURL),
		llm.WithModel(cfg.OpenAIModel),
	)

	// --- PostgreSQL + NATS (optional until configured) ---
	var (
		store      relay.Inserter
		db         *sql.DB
		natsClient *messaging.NATSClient
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}

		var notifier message.Notifier
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "chatnest-relay"
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, bot messages will not be announced")
		} else {
			notifier = natsClient
		}
		store = message.NewStore(db, notifier)
	}

	rl := relay.New(relayConfig, completer, store)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logging.Middleware(logger))

	r.Handle(relay.Path, relay.NewHandler(rl, cfg.ServiceKey))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"model":      completer.Model(),
			"configured": relayConfig.Validate() == nil,
		})
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		// Completions can take most of a minute.
		WriteTimeout: llm.DefaultTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("path", relay.Path).Str("model", completer.Model()).Msg("AI relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("relay server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay shutdown error")
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
