// Package api exposes the notification core over HTTP: passwordless login,
// magic-link redemption, supervisor broadcast tools and the outbox ledger.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/broadcast"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/session"
)

// Authenticator issues login emails and redeems magic links.
type Authenticator interface {
	RequestLogin(ctx context.Context, email string) error
	Redeem(ctx context.Context, token string) (*session.Session, error)
}

// Broadcaster composes event broadcasts.
type Broadcaster interface {
	Draft(ctx context.Context, eventID int64) (*broadcast.Draft, error)
	Broadcast(ctx context.Context, req broadcast.Request) (int, error)
}

// Ledger reads the outbox.
type Ledger interface {
	List(ctx context.Context, f outbox.ListFilter) ([]domain.Email, int, error)
	Stats(ctx context.Context) (map[domain.EmailStatus]int, error)
}

// Notifier sends signup notifications.
type Notifier interface {
	SignupRequested(ctx context.Context, volunteerID, shiftID int64) error
	SignupConfirmed(ctx context.Context, volunteerID, shiftID int64) error
}

// Deps bundles the services the HTTP layer calls.
type Deps struct {
	Auth      Authenticator
	Sessions  session.Store
	Broadcast Broadcaster
	Ledger    Ledger
	Notify    Notifier
	Health    *HealthChecker
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Server represents the API server.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer wires routes for deps.
func NewServer(cfg config.ServerConfig, cookie CookieConfig, deps Deps) *Server {
	h := &Handlers{deps: deps, cookie: cookie}
	handler := SetupRoutes(h, cfg.AllowedOrigins)
	return &Server{
		handler: handler,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. Called before Start, it makes a
// later Start return immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
