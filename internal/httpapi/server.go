// Package httpapi serves the broker's read-only admin API over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingSecret is returned when the server is configured without a signing secret
var ErrMissingSecret = errors.New("secret key is required")

// Server represents the HTTP API server
type Server struct {
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Addr      string
	SecretKey string
	// SnapshotTimeout bounds how long a request waits for the broker loop.
	SnapshotTimeout time.Duration
	Logger          zerolog.Logger
}

// NewServer creates a new HTTP API server
func NewServer(source Source, config Config) (*Server, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingSecret
	}
	if config.SnapshotTimeout <= 0 {
		config.SnapshotTimeout = 2 * time.Second
	}

	jwtAuth := NewJWTAuth(config.SecretKey, DefaultTokenTTL)
	s := &Server{
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(source, config.Logger, config.SnapshotTimeout),
		middleware: NewMiddleware(jwtAuth, config.Logger),
		logger:     config.Logger,
	}

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        s.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s, nil
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Auth returns the token authority used by the admin routes.
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin HTTP API listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.GetMethod(
					s.middleware.ContentType(handler))))
	}

	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	mux.Handle("/api/v1/admin/sessions", withMiddleware(s.middleware.AdminRequired(s.handlers.Sessions)))
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.Stats)))

	mux.Handle("/", withMiddleware(s.handleRoot))
	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"service": "topicrelay admin API",
		"endpoints": map[string]string{
			"health":   "GET /api/v1/health",
			"sessions": "GET /api/v1/admin/sessions?live={bool}&identity={id}",
			"stats":    "GET /api/v1/admin/stats",
		},
		"authentication": "Bearer JWT with admin claim required for /api/v1/admin",
	}, http.StatusOK)
}
