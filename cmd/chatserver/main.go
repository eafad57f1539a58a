package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/config"
	"github.com/chatnest/chat-app/internal/database"
	"github.com/chatnest/chat-app/internal/feed"
	"github.com/chatnest/chat-app/internal/identity"
	"github.com/chatnest/chat-app/internal/logging"
	"github.com/chatnest/chat-app/internal/message"
	"github.com/chatnest/chat-app/internal/messaging"
	"github.com/chatnest/chat-app/internal/metrics"
	"github.com/chatnest/chat-app/internal/protocol"
	"github.com/chatnest/chat-app/internal/ratelimit"
	"github.com/chatnest/chat-app/internal/relay"
	"github.com/chatnest/chat-app/internal/session"
	"github.com/chatnest/chat-app/internal/ws"
)

const (
	loadTimeout = 10 * time.Second
	sendTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logging.Setup("", "chatserver")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.Env, "chatserver")

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	// --- PostgreSQL ---
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to reach database")
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "chatnest-chatserver"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	// --- Redis ---
	sessionStore, err := session.NewStore(cfg.RedisAddr, cfg.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	messages := message.NewStore(db, natsClient)
	identities := identity.NewService(identity.NewPostgresRepository(db), sessionStore)
	relayClient := relay.NewClient(cfg.RelayURL, cfg.RelayServiceKey)
	feeds := feed.NewRegistry()

	log.Info().
		Str("listen_addr", serverConfig.ListenAddr).
		Int("worker_pool", serverConfig.WorkerPoolSize).
		Int("max_connections", serverConfig.MaxConnections).
		Dur("read_timeout", serverConfig.ReadTimeout).
		Dur("write_timeout", serverConfig.WriteTimeout).
		Str("nats_url", natsConfig.URL).
		Str("redis_addr", cfg.RedisAddr).
		Str("relay_url", cfg.RelayURL).
		Msg("ChatNest chat server starting")

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// message: store text, trigger the relay for @gpt prompts
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}

		f := feeds.Get(conn.ID)
		if f == nil {
			dispatcher.SendError(conn, "not_ready", "feed not ready")
			dispatcher.Send(conn, protocol.TypeSendFailed, protocol.SendFailedMsg{Text: chatMsg.Text})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage); !allowed {
			retry := limiter.RetryAfter(ctx, conn.UserID, ratelimit.RuleMessage)
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			dispatcher.Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(math.Max(1, math.Ceil(retry.Seconds()))),
			})
			return
		}

		start := time.Now()
		err := f.Send(ctx, chatMsg.Text)
		switch {
		case err == nil:
			metrics.MessagesTotal.WithLabelValues("sent").Inc()
			metrics.MessageLatency.Observe(time.Since(start).Seconds())
			dispatcher.Send(conn, protocol.TypeSent, protocol.SentMsg{})
			return
		case errors.Is(err, feed.ErrEmptyMessage):
			// Nothing to report; the client keeps its input.
		case errors.Is(err, message.ErrTooLong), errors.Is(err, message.ErrInvalidUTF8):
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			dispatcher.SendError(conn, "invalid_message", err.Error())
		default:
			// The feed has already sent the failure notice.
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
		}
		dispatcher.Send(conn, protocol.TypeSendFailed, protocol.SendFailedMsg{Text: chatMsg.Text})
	})

	// -----------------------------------------------------------------------
	// typing: fan out through NATS to every other connection
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		if err := natsClient.PublishTyping(messaging.TypingEvent{
			From:     conn.ID,
			Username: conn.Username,
			IsTyping: typingMsg.IsTyping,
		}); err != nil {
			log.Warn().Err(err).Str("conn", conn.ID).Msg("publish typing failed")
		}
	})

	server := ws.NewServer(serverConfig, identities, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	server.SetConnectLimiter(limiter)

	// New connection: create the feed, subscribe, then load history.
	server.SetOnConnect(func(conn *ws.Connection) {
		dispatcher.Send(conn, protocol.TypeReady, protocol.ReadyMsg{UserID: conn.UserID, Username: conn.Username})

		f := feed.New(feed.Config{
			Key:     conn.ID,
			UserID:  conn.UserID,
			Store:   messages,
			Changes: natsClient,
			Relay:   relayClient,
			OnMessage: func(m message.Message) {
				metrics.MessagesTotal.WithLabelValues("delivered").Inc()
				dispatcher.Send(conn, protocol.TypeMessage, protocol.ServerChatMsg{Message: m})
			},
			OnNotice: func(n feed.Notice) {
				dispatcher.Send(conn, protocol.TypeNotice, protocol.NoticeMsg{
					Kind:  string(n.Kind),
					Title: n.Title,
					Text:  n.Text,
				})
			},
		})
		feeds.Add(conn.ID, f)

		if err := f.Subscribe(); err != nil {
			log.Error().Err(err).Str("conn", conn.ID).Msg("feed subscribe failed")
			dispatcher.SendError(conn, "subscribe_failed", "live updates unavailable")
		}

		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		if err := f.Load(ctx); err == nil {
			dispatcher.Send(conn, protocol.TypeHistory, protocol.HistoryMsg{Messages: f.Messages()})
		}

		if err := natsClient.SubscribeTyping(conn.ID, func(ev messaging.TypingEvent) {
			if ev.From == conn.ID {
				return
			}
			dispatcher.Send(conn, protocol.TypeTyping, protocol.ServerTypingMsg{Username: ev.Username, IsTyping: ev.IsTyping})
		}); err != nil {
			log.Warn().Err(err).Str("conn", conn.ID).Msg("typing subscribe failed")
		}
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		feeds.Remove(conn.ID)
		_ = natsClient.UnsubscribeTyping(conn.ID)
		_ = natsClient.PublishTyping(messaging.TypingEvent{From: conn.ID, Username: conn.Username, IsTyping: false})
	})

	// --- HTTP API ---
	authRouter := chi.NewRouter()
	authRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	authRouter.Mount("/", identity.NewHandler(identities, limiter).Routes())
	server.Mount("/auth", authRouter)
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		if err := server.Shutdown(); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
		feeds.CloseAll()
		natsClient.Close()
		if err := sessionStore.Close(); err != nil {
			log.Error().Err(err).Msg("session store close error")
		}
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
