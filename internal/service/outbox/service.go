package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/metrics"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Message is what producers hand to Enqueue. Every recipient receives an
// identical copy.
type Message struct {
	Recipients []string
	Subject    string
	TextBody   string
	HTMLBody   string
	// Sensitive marks messages carrying credentials such as login links.
	// Their bodies are hidden from the ledger and from logs.
	Sensitive bool
}

// Queue is the producer side of the outbox. Safe for concurrent use if the
// underlying repository is.
type Queue struct {
	repo Repository
	now  func() time.Time
}

// NewQueue creates a queue backed by the given repository.
func NewQueue(repo Repository) *Queue {
	return &Queue{repo: repo, now: time.Now}
}

// Enqueue records one pending row per recipient in a single transaction.
// An empty recipient list is a no-op. Store failures are returned wrapped
// in ErrQueue and leave no rows behind.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return nil
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}

	now := q.now().UTC()
	rows := make([]*domain.Email, 0, len(msg.Recipients))
	for _, rcpt := range msg.Recipients {
		rcpt = strings.TrimSpace(rcpt)
		if rcpt == "" {
			return fmt.Errorf("%w: blank recipient", ErrInvalidMessage)
		}
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueue, err)
		}
		rows = append(rows, &domain.Email{
			ID:        id.String(),
			Recipient: rcpt,
			Subject:   msg.Subject,
			BodyText:  msg.TextBody,
			BodyHTML:  msg.HTMLBody,
			Sensitive: msg.Sensitive,
			Status:    domain.EmailPending,
			CreatedAt: now,
		})
	}

	if err := q.repo.InsertBatch(ctx, rows); err != nil {
		metrics.IncEnqueueError()
		logger.Error("enqueue failed", "component", "Outbox", "recipients", len(rows), "error", err.Error())
		return fmt.Errorf("%w: %v", ErrQueue, err)
	}

	metrics.AddEnqueued(len(rows))
	if msg.Sensitive {
		logger.Debug("queued sensitive email", "component", "Outbox", "recipients", len(rows))
	} else {
		logger.Debug("queued email", "component", "Outbox", "recipients", len(rows), "subject", msg.Subject)
	}
	return nil
}

// List returns the outbox ledger, newest first. Bodies of sensitive rows
// are blanked.
func (q *Queue) List(ctx context.Context, f ListFilter) ([]domain.Email, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	rows, total, err := q.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i := range rows {
		rows[i] = rows[i].Redacted()
	}
	return rows, total, nil
}

// Stats returns row counts per status for the admin dashboard.
func (q *Queue) Stats(ctx context.Context) (map[domain.EmailStatus]int, error) {
	return q.repo.CountByStatus(ctx)
}
