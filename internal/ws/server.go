// Package ws runs the ChatNest WebSocket endpoint. Connections are
// authenticated with a bearer token at upgrade time, registered with epoll,
// and read by a bounded worker pool that hands each text frame to the
// message callback.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatnest/chat-app/internal/identity"
	"github.com/chatnest/chat-app/internal/logging"
	"github.com/chatnest/chat-app/internal/metrics"
	"github.com/chatnest/chat-app/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Authenticator resolves the bearer token presented on upgrade.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*identity.User, error)
}

// ConnectLimiter throttles upgrades per client address.
type ConnectLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Server is the WebSocket server built on gobwas/ws and epoll.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	auth         Authenticator
	limiter      ConnectLimiter
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // called per text frame
	onConnect    func(conn *Connection)              // called before the connection is polled
	onDisconnect func(conn *Connection)              // called once per removed connection
	router       chi.Router
	httpServer   *http.Server
	logger       zerolog.Logger
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine for
// every complete text frame.
func NewServer(config ServerConfig, auth Authenticator, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		auth:       auth,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		logger:     logging.Component("ws"),
		done:       make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logging.Middleware(s.logger))
	r.Get("/ws", s.handleUpgrade)
	r.Get("/health", s.handleHealth)
	s.router = r

	return s
}

// SetConnectLimiter enables per-address upgrade throttling.
func (s *Server) SetConnectLimiter(l ConnectLimiter) {
	s.limiter = l
}

// SetOnConnect registers a callback run for every authenticated connection
// before it starts receiving frames.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, close frame or shutdown).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Mount attaches an additional handler under pattern on the server's router.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// Handle registers h for exactly pattern.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start creates the epoll instance, starts the event loop and heartbeat, and
// blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	if err := s.startPolling(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// startPolling initializes epoll and the background loops.
func (s *Server) startPolling() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())
	return nil
}

// handleUpgrade authenticates the request and upgrades it to a WebSocket.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		if ok, _ := s.limiter.Allow(r.Context(), clientAddr(r), ratelimit.RuleConnect); !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	user, err := s.auth.Resolve(ctx, identity.TokenFromRequest(r))
	cancel()
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, identity.ErrUnauthenticated) {
			status = http.StatusInternalServerError
			s.logger.Error().Err(err).Msg("token resolution failed")
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Username:  user.Username,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	if s.onConnect != nil {
		s.onConnect(c)
	}

	if err := s.epoll.Add(conn); err != nil {
		s.logger.Error().Err(err).Str("conn", c.ID).Msg("epoll add failed")
		s.RemoveConnection(c)
		return
	}

	s.logger.Info().Str("conn", c.ID).Str("user", c.Username).Int("total", s.conns.Count()).Msg("new connection")
}

// handleHealth reports the connection count and uptime as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop dispatches ready connections to the worker pool.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error().Err(err).Msg("epoll wait error")
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. Control frames are
// handled without waiting for a data frame; read failures remove the
// connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means a stale dispatch; the heartbeat handles dead peers.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		if _, err := io.CopyN(io.Discard, reader, header.Length); err != nil {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection unregisters and closes c. Only the first call for a
// connection runs the disconnect callback.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.logger.Info().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
}

// Write sends a text frame to c under the configured write deadline.
func (s *Server) Write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return s.Write(c, data)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops accepting connections, closes every active connection and
// releases the epoll instance.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutting down server")

	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("http shutdown error")
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isEINTR reports whether err is an interrupted system call.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
