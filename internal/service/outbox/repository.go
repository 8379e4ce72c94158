package outbox

import (
	"context"

	"github.com/mecws/shelter-ops/internal/domain"
)

// Repository defines the data access contract for the outbox.
// Implementations must be safe for concurrent use.
type Repository interface {
	// InsertBatch persists all rows or none of them.
	InsertBatch(ctx context.Context, emails []*domain.Email) error

	// List returns rows matching the filter, newest first, and the total
	// number of matching rows.
	List(ctx context.Context, filter ListFilter) ([]domain.Email, int, error)

	// CountByStatus returns the number of rows in each status.
	CountByStatus(ctx context.Context) (map[domain.EmailStatus]int, error)
}

// ListFilter controls pagination and filtering for the outbox ledger.
type ListFilter struct {
	Status domain.EmailStatus
	Limit  int
	Offset int
}
