package magiclink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/metrics"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/session"
)

// Config holds token lifetimes and the branding used in login emails.
type Config struct {
	LoginTTL      time.Duration
	SubjectPrefix string
	ShelterName   string
}

// Deps bundles the collaborators of an Authenticator.
type Deps struct {
	Tokens   TokenRepository
	Users    UserDirectory
	Sessions SessionStore
	Queue    Enqueuer
	Links    LinkBuilder
	Render   Renderer
}

// Authenticator issues and redeems magic-link tokens.
type Authenticator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewAuthenticator creates an authenticator. Zero config values fall back
// to a 30 minute login TTL and "[MECWS]" branding.
func NewAuthenticator(deps Deps, cfg Config) *Authenticator {
	if cfg.LoginTTL <= 0 {
		cfg.LoginTTL = 30 * time.Minute
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "[MECWS]"
	}
	if cfg.ShelterName == "" {
		cfg.ShelterName = "MECWS"
	}
	return &Authenticator{deps: deps, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Issue mints a random token bound to userID that expires after ttl.
func (a *Authenticator) Issue(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("issue token: ttl must be positive")
	}
	now := a.now().UTC()
	t := &domain.LoginToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := a.deps.Tokens.Create(ctx, t); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	metrics.IncTokenIssued()
	return t.Token, nil
}

// Redeem consumes token and establishes a session for its user. The token
// is gone after this call whatever the outcome. If session creation fails
// after consumption the user must request a new link.
func (a *Authenticator) Redeem(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		metrics.IncRedemption("invalid")
		return nil, ErrInvalidToken
	}

	row, err := a.deps.Tokens.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			metrics.IncRedemption("invalid")
		}
		return nil, err
	}
	if row.Expired(a.now()) {
		metrics.IncRedemption("expired")
		logger.Info("expired login token redeemed", "component", "MagicLink", "user_id", row.UserID)
		return nil, ErrTokenExpired
	}

	u, err := a.deps.Users.GetUserByID(ctx, row.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve token user: %w", err)
	}
	sess, err := a.deps.Sessions.Create(ctx, *u)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	metrics.IncRedemption("ok")
	logger.Info("user logged in", "component", "MagicLink", "user_id", u.ID)
	return sess, nil
}

// RequestLogin emails a login link to the account registered under email.
// Unknown addresses return nil so callers cannot tell whether an address
// is registered.
func (a *Authenticator) RequestLogin(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	u, err := a.deps.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		logger.Info("login requested for unknown address", "component", "MagicLink", "email", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	token, err := a.Issue(ctx, u.ID, a.cfg.LoginTTL)
	if err != nil {
		return err
	}

	vars := map[string]interface{}{
		"name":    u.DisplayName(),
		"url":     a.deps.Links.LoginURL(token, ""),
		"shelter": a.cfg.ShelterName,
		"minutes": int(a.cfg.LoginTTL.Minutes()),
	}
	text, err := a.deps.Render.RenderFile("login_link.txt", vars)
	if err != nil {
		return fmt.Errorf("render login email: %w", err)
	}
	html, err := a.deps.Render.RenderFile("login_link.html", vars)
	if err != nil {
		return fmt.Errorf("render login email: %w", err)
	}

	return a.deps.Queue.Enqueue(ctx, outbox.Message{
		Recipients: []string{u.Email},
		Subject:    a.cfg.SubjectPrefix + " Login Link",
		TextBody:   text,
		HTMLBody:   html,
		Sensitive:  true,
	})
}
