package magiclink

import (
	"context"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/session"
)

// TokenRepository persists login tokens. Implementations must be safe for
// concurrent use.
type TokenRepository interface {
	Create(ctx context.Context, t *domain.LoginToken) error

	// Consume deletes the token and returns the deleted row in one atomic
	// step. Returns ErrInvalidToken when no row matched.
	Consume(ctx context.Context, token string) (*domain.LoginToken, error)

	// DeleteExpired removes tokens that expired before the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// UserDirectory resolves accounts. Both lookups return ErrUserNotFound
// when nothing matches.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// SessionStore establishes an authenticated session for a user.
type SessionStore interface {
	Create(ctx context.Context, u domain.User) (*session.Session, error)
}

// Enqueuer hands outgoing mail to the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg outbox.Message) error
}

// LinkBuilder turns a token into an absolute login URL.
type LinkBuilder interface {
	LoginURL(token, next string) string
}

// Renderer renders the embedded login email templates.
type Renderer interface {
	RenderFile(name string, vars map[string]interface{}) (string, error)
}
