package worker

import (
	"context"
	"errors"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
)

// ErrNotClaimed is returned by status updates when the row is no longer in
// the sending state, typically because the recovery worker requeued it.
var ErrNotClaimed = errors.New("email is not claimed")

// StaleClaimReason is recorded on rows failed by the recovery worker.
const StaleClaimReason = "delivery abandoned: claim expired too many times"

// Store is the consumer side of the outbox. Every method commits on its
// own; no transaction spans a transport call.
type Store interface {
	// ClaimPending atomically moves up to limit of the oldest pending rows
	// to sending, stamps claimed_at, increments attempts and returns them
	// in creation order.
	ClaimPending(ctx context.Context, limit int) ([]domain.Email, error)

	// MarkSent, MarkFailed and Release apply only to rows still in
	// sending and return ErrNotClaimed otherwise.
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// Release returns a claimed row to pending for another attempt.
	Release(ctx context.Context, id, reason string) error
}

// RecoveryStore requeues abandoned claims.
type RecoveryStore interface {
	// RecoverStale handles rows stuck in sending since before the cutoff:
	// rows under maxAttempts go back to pending, the rest are failed.
	RecoverStale(ctx context.Context, before time.Time, maxAttempts int) (requeued, failed int, err error)
}

// TokenPurger removes expired login tokens.
type TokenPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Sender delivers one message. Implemented by the mailer transports.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) error
}
