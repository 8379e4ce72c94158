package broadcast

import (
	"context"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/outbox"
)

// Directory reads the users and events a broadcast is built from.
type Directory interface {
	// GetEvent returns ErrEventNotFound when no event has the id.
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

// TokenIssuer mints login tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, userID int64, ttl time.Duration) (string, error)
}

// Enqueuer hands outgoing mail to the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg outbox.Message) error
}

// LinkBuilder turns a token into an absolute login URL.
type LinkBuilder interface {
	LoginURL(token, next string) string
}

// Renderer evaluates operator-authored templates.
type Renderer interface {
	Render(src string, vars map[string]interface{}) (string, error)
}
