// Package server wires the public tracking endpoints and the owner API into
// one HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/clicktrail/internal/auth"
	"github.com/foxzi/clicktrail/internal/compose"
	"github.com/foxzi/clicktrail/internal/metrics"
	"github.com/foxzi/clicktrail/internal/models"
	"github.com/foxzi/clicktrail/internal/tracking"
)

// SendTester sends a test email on behalf of an owner
type SendTester interface {
	SendTest(ctx context.Context, ownerID, emailID string) (*compose.Result, error)
}

// RecipientReader loads recipients and the owner they belong to
type RecipientReader interface {
	Get(ctx context.Context, id string) (*models.Recipient, error)
	OwnerOf(ctx context.Context, id string) (string, error)
}

// EventLister lists the event log of a recipient
type EventLister interface {
	ListByRecipient(ctx context.Context, recipientID string) ([]models.Event, error)
}

// Options configures the listener and the tracking routes
type Options struct {
	ListenAddr      string
	CertFile        string // TLS is served when both files are set
	KeyFile         string
	ClickPath       string
	UnsubscribePath string

	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// Deps are the components the routes delegate to
type Deps struct {
	Tracking   *tracking.Handler
	Auth       *auth.Authenticator
	Composer   SendTester
	Recipients RecipientReader
	Events     EventLister
	Metrics    *metrics.Metrics
}

// Server is the public HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	opts       Options
	deps       Deps
	logger     *slog.Logger
}

// New creates a server and registers its routes
func New(opts Options, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		deps:   deps,
		logger: logger.With("component", "http"),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	if s.opts.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware(s.deps.Metrics))

	s.router.Get("/health", s.handleHealth)

	// Public, authenticated by the link signature
	s.deps.Tracking.Mount(s.router, s.opts.ClickPath, s.opts.UnsubscribePath)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		r.Post("/emails/{id}/send-test", s.handleSendTest)
		r.Get("/recipients/{id}/events", s.handleRecipientEvents)
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	if err := s.configureTLS(); err != nil {
		return err
	}
	return s.serve()
}

func (s *Server) configureTLS() error {
	if s.opts.CertFile == "" || s.opts.KeyFile == "" {
		return nil
	}
	tlsConfig, err := LoadTLS(s.opts.CertFile, s.opts.KeyFile, s.logger)
	if err != nil {
		return err
	}
	s.httpServer.TLSConfig = tlsConfig
	return nil
}

func (s *Server) serve() error {
	if s.httpServer.TLSConfig != nil {
		s.logger.Info("starting HTTPS server", "addr", s.opts.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting HTTP server", "addr", s.opts.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Run serves until ctx is cancelled, then shuts down gracefully. A server
// shut down before it starts listening never opens its listener.
func (s *Server) Run(ctx context.Context) error {
	if err := s.configureTLS(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
