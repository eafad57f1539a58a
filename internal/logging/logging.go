// Package logging configures the process-wide zerolog logger and provides the
// HTTP request logging middleware shared by the ChatNest servers.
package logging

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/config"
)

// New builds a logger for the given environment. Development gets a human
// readable console writer; everything else gets JSON lines.
func New(env string, out io.Writer, service string) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if config.IsDevelopment(env) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("service", service).Logger()
}

// Setup installs the logger returned by New as the global zerolog logger.
func Setup(env, service string) zerolog.Logger {
	logger := New(env, os.Stdout, service)
	log.Logger = logger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if config.IsDevelopment(env) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return logger
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Middleware logs one line per completed HTTP request.
func Middleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
