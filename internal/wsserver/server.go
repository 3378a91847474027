// Package wsserver is the WebSocket transport in front of the dispatcher.
//
// Routes:
//
//	GET /ws       upgrade; an optional ?token= binds the session up front
//	GET /healthz  liveness plus store reachability
//	GET /metrics  Prometheus exposition, when a gatherer is configured
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/potluck/internal/dispatch"
	"github.com/roach88/potluck/internal/session"
)

// Config holds transport settings.
type Config struct {
	Addr             string
	ReadBufferSize   int
	WriteBufferSize  int
	MaxMessageSize   int64
	SendBuffer       int
	FrameConcurrency int
	WriteWait        time.Duration
	PongWait         time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		MaxMessageSize:   64 * 1024,
		SendBuffer:       64,
		FrameConcurrency: 8,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// PingPeriod is how often control pings are sent. It must be shorter than
// PongWait.
func (c Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Server accepts WebSocket connections and feeds their frames to a
// dispatcher.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	sessions   *session.Registry
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	gatherer   prometheus.Gatherer
	health     func(ctx context.Context) error

	mu      sync.Mutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck makes /healthz report 503 when fn fails.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// New creates a Server. Zero fields of cfg take their defaults.
func New(cfg Config, d *dispatch.Dispatcher, sessions *session.Registry, opts ...Option) *Server {
	cfg = withDefaults(cfg)
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		sessions:   sessions,
		logger:     zap.NewNop(),
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "wsserver"))
	return s
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = def.WriteBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.FrameConcurrency <= 0 {
		cfg.FrameConcurrency = def.FrameConcurrency
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return cfg
}

// Handler returns the HTTP routes. Connections it accepts live until they
// disconnect or Shutdown is called.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		s.handleUpgrade(ctx, w, req)
	})
	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	c := newClient(conn, s.cfg, s.logger)
	if !s.track(c) {
		conn.Close()
		return
	}
	s.logger.Debug("connection opened",
		zap.String("conn", c.ID()),
		zap.String("remote", r.RemoteAddr),
		zap.String("request_id", chimiddleware.GetReqID(r.Context())))

	if token := r.URL.Query().Get("token"); token != "" {
		if code, err := s.dispatcher.Attach(c, dispatch.Token(token)); err != nil {
			s.logger.Debug("upgrade token rejected", zap.String("conn", c.ID()), zap.Error(err))
			reply, _ := json.Marshal(dispatch.Response{Error: code})
			c.Send(reply)
			c.Close()
		}
	}

	go func() {
		defer s.untrack(c)
		c.serve(ctx, s.dispatcher)
	}()
}

type health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok", Sessions: s.sessions.Len()}
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			h.Status = "unavailable"
			h.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(h)
}

// track registers c. It returns false once Shutdown has started.
func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients == nil {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	if s.clients != nil {
		delete(s.clients, c)
	}
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown closes every connection and waits for their handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()

	s.sessions.CloseAll()
	for c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("connections drained", zap.Int("closed", len(clients)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain connections: %w", ctx.Err())
	}
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then stops
// accepting, closes live connections, and returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	srv := &http.Server{
		Handler:           s.Handler(connCtx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if drainErr := s.Shutdown(shutdownCtx); drainErr != nil {
			err = errors.Join(err, drainErr)
		}
		cancelConns()
		return err
	})
	return g.Wait()
}
