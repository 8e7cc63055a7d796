package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
)

// Deps bundles the collaborators the API server routes requests to.
type Deps struct {
	// Store is the control plane persistence layer.
	Store store.Store

	// Directory is the in-memory session engine.
	Directory *engine.Directory

	// Tokens mints and validates session tokens.
	Tokens *auth.JWTService

	// WS is the WebSocket attachment endpoint, mounted at GET /ws/{id}.
	// May be nil, in which case no attachment endpoint is served.
	WS http.Handler

	// BaseURL is the public base URL used to build join links and
	// WebSocket URLs.
	BaseURL string
}

// Server provides an HTTP server for the REST API.
//
// The server exposes health checks, the session lifecycle API and the
// WebSocket attachment endpoint, and supports graceful shutdown.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests. deps.Tokens and deps.Store are required.
func NewServer(config APIConfig, deps Deps) (*Server, error) {
	config.ApplyDefaults()

	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("JWT service is required; set the secret via %s env var or config", EnvControlPlaneSecret)
	}
	if deps.BaseURL == "" {
		deps.BaseURL = config.BaseURL
	}

	router := NewRouter(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}, nil
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and
// returns nil on success.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)
		logger.Debug("API endpoints available",
			"health", fmt.Sprintf("http://localhost:%d/health", s.config.Port),
			"sessions", fmt.Sprintf("http://localhost:%d/api/v1/sessions", s.config.Port),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Don't use the cancelled ctx as it would abort shutdown immediately
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
