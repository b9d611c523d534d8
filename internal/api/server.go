package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"grimm.is/discoverd/internal/clock"
	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/introspect"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/nodecache"
	"grimm.is/discoverd/internal/process"
)

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64 // ramdisk reports carry base64 logs
}

// DefaultServerConfig returns the default server limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      64 << 20,
	}
}

// Introspector starts introspection.
type Introspector interface {
	Introspect(ctx context.Context, uuid string, req introspect.Request) error
}

// Processor handles ramdisk reports.
type Processor interface {
	Process(ctx context.Context, f *facts.Facts) (process.Result, error)
}

// StatusSource reports introspection status.
type StatusSource interface {
	Status(ctx context.Context, uuid string) (nodecache.Status, error)
}

// ServerOptions holds dependencies for the API server
type ServerOptions struct {
	Config       *config.Config
	Introspector Introspector
	Processor    Processor
	Status       StatusSource
	Metrics      *metrics.Registry
	Logger       *logging.Logger
}

// Server handles API requests.
type Server struct {
	introspector Introspector
	processor    Processor
	status       StatusSource
	metrics      *metrics.Registry
	logger       *logging.Logger

	authenticate bool
	metricsPath  string
	serverConfig *ServerConfig

	mux        *http.ServeMux
	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server with the provided options
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Introspector == nil || opts.Processor == nil || opts.Status == nil {
		return nil, errors.New("api: introspector, processor and status source are required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		introspector: opts.Introspector,
		processor:    opts.Processor,
		status:       opts.Status,
		metrics:      opts.Metrics,
		logger:       logging.OrDefault(opts.Logger).WithComponent("api"),
		authenticate: cfg.Authenticate,
		serverConfig: DefaultServerConfig(),
	}
	if s.metrics == nil {
		s.metrics = metrics.Get()
	}
	if cfg.Metrics != nil && cfg.Metrics.IsEnabled() {
		s.metricsPath = cfg.Metrics.Path
	}

	s.initRoutes()
	return s, nil
}

// initRoutes initializes the HTTP router
func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("POST /v1/introspection/{uuid}", s.requireAdmin(s.handleIntrospect))
	mux.HandleFunc("GET /v1/introspection/{uuid}", s.requireAdmin(s.handleGetStatus))
	mux.HandleFunc("POST /v1/discover", s.requireAdmin(s.handleDiscover))

	// Ramdisk callback
	mux.HandleFunc("POST /v1/continue", s.handleContinue)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.maxBodyMiddleware(s.serverConfig.MaxBodyBytes)(s.mux))
}

// ServeListener serves the API on listener until Shutdown.
func (s *Server) ServeListener(listener net.Listener) error {
	cfg := s.serverConfig
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("API server starting", "addr", listener.Addr().String())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on addr and serves the API.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// loggingMiddleware logs and counts all API requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordAPIRequest(r.Method, route, wrapped.statusCode, duration.Seconds())

		if r.URL.Path == s.metricsPath {
			return
		}
		args := []any{"method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration.Round(time.Millisecond)}
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", args...)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", args...)
		default:
			s.logger.Info("request", args...)
		}
	})
}

// maxBodyMiddleware limits the size of request bodies.
func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
