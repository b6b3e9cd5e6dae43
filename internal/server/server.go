// Package server exposes the arena over HTTP: submissions (JSON or SSE),
// the leaderboard, detail records, admin deletion and the live event feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tablearena/tablearena/internal/bus"
	"github.com/tablearena/tablearena/internal/metrics"
	"github.com/tablearena/tablearena/internal/pkg/logger"
	"github.com/tablearena/tablearena/internal/pkg/middleware"
	"github.com/tablearena/tablearena/internal/submission"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"git_commit"`
	Date    string `json:"build_time"`
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Build is reported by /v1/version.
	Build BuildInfo

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	// Bodies and responses are unbounded: uploads are large and evaluation
	// streams run as long as the evaluation does.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps a submission request body.
	MaxUploadBytes int64

	// ProgressBuffer is the per-stream progress queue length.
	ProgressBuffer int

	// RateLimit is submissions per minute per client; 0 disables it.
	RateLimit int

	// CORSOrigins is a comma-separated allow list or "*".
	CORSOrigins string

	// AdminToken, when set, is required as a bearer token on admin routes.
	AdminToken string

	// MetricsPath serves Prometheus metrics when metrics are enabled.
	MetricsPath string
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8000,
		Build:             BuildInfo{Version: "dev"},
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxUploadBytes:    50 << 20,
		ProgressBuffer:    64,
		CORSOrigins:       "*",
		MetricsPath:       "/metrics",
	}
}

// Server is the arena HTTP server.
type Server struct {
	cfg Config
	log *logger.Logger

	svc     *submission.Service
	bus     bus.Bus
	events  *bus.EventLogger
	metrics *metrics.Metrics

	limiter  *middleware.RateLimiter
	inFlight middleware.InFlight
	ready    atomic.Bool

	// closing ends event feeds when Stop is called.
	closing   chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a server. eventBus, events and m may be nil.
func New(cfg Config, svc *submission.Service, eventBus bus.Bus, events *bus.EventLogger, m *metrics.Metrics, log *logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.ProgressBuffer <= 0 {
		cfg.ProgressBuffer = def.ProgressBuffer
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = def.MetricsPath
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		svc:     svc,
		bus:     eventBus,
		events:  events,
		metrics: m,
		closing: make(chan struct{}),
	}

	if cfg.RateLimit > 0 {
		rl := middleware.DefaultRateLimiterConfig()
		rl.PerMinute = cfg.RateLimit
		s.limiter = middleware.NewRateLimiter(rl)
	}

	if m != nil {
		m.AddCollector(func(m *metrics.Metrics) {
			st := svc.Stats()
			m.EvaluationsActive.Set(float64(st.Active))
			m.EvaluationsQueued.Set(float64(st.Queued))
		})
	}

	s.ready.Store(true)
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := http.Handler(mux)
	if s.metrics != nil {
		handler = metrics.HTTPMiddleware(s.metrics, handler)
	}
	handler = s.inFlight.Middleware(handler)
	handler = middleware.Logging(handler, s.log)
	handler = middleware.CORS(handler, s.cfg.CORSOrigins)
	handler = middleware.Recovery(handler, s.log)
	return handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	submit := http.Handler(http.HandlerFunc(s.handleSubmit))
	if s.limiter != nil {
		submit = s.limiter.Middleware(submit)
	}
	mux.Handle("POST /v1/submissions", submit)
	mux.HandleFunc("GET /v1/submissions/{name}", s.handleDetails)
	mux.HandleFunc("DELETE /v1/admin/submissions/{name}", s.handleDelete)
	mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/events/history", s.handleEventHistory)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.metrics)
	}
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop marks the server not ready, stops accepting connections and waits
// for in-flight requests. Event feeds are closed; submission streams end
// when their runs do.
func (s *Server) Stop(ctx context.Context) error {
	s.ready.Store(false)
	s.closeOnce.Do(func() { close(s.closing) })
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.log.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	if s.inFlight.Drain(s.cfg.ShutdownTimeout, s.log) {
		s.log.Info("All in-flight requests completed")
	} else {
		s.log.Warn("Shutdown timeout reached with pending requests", "remaining", s.inFlight.Count())
	}
	return err
}

// Ready reports whether the server accepts traffic.
func (s *Server) Ready() bool {
	return s.ready.Load()
}
