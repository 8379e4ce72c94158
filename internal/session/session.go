// Package session stores authenticated browser sessions. A session is
// created once a magic link has been redeemed and is referenced by an
// opaque random id carried in a cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Session represents an authenticated user session.
type Session struct {
	ID        string      `json:"-"`
	UserID    int64       `json:"user_id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      domain.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// IsSupervisor reports whether the session may use admin endpoints.
func (s *Session) IsSupervisor() bool {
	return s.Role == domain.RoleSupervisor
}

// Store creates, resolves and destroys sessions. Implementations must be
// safe for concurrent use.
type Store interface {
	Create(ctx context.Context, u domain.User) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// newID creates a random session id.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newSession(u domain.User, now time.Time, ttl time.Duration) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}
