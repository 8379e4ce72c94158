package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/worker"
)

// Outbox is an in-memory outbox store.
type Outbox struct {
	mu     sync.Mutex
	emails map[string]*domain.Email

	// Now is the clock used for claimed_at and sent_at.
	Now func() time.Time
	// FailInsert, when set, is consulted for every row of a batch. A
	// non-nil result aborts the whole batch.
	FailInsert func(i int, e *domain.Email) error
}

func NewOutbox() *Outbox {
	return &Outbox{emails: make(map[string]*domain.Email), Now: time.Now}
}

func (o *Outbox) InsertBatch(_ context.Context, emails []*domain.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	staged := make([]*domain.Email, 0, len(emails))
	for i, e := range emails {
		if o.FailInsert != nil {
			if err := o.FailInsert(i, e); err != nil {
				return err
			}
		}
		cp := *e
		staged = append(staged, &cp)
	}
	for _, e := range staged {
		o.emails[e.ID] = e
	}
	return nil
}

func (o *Outbox) List(_ context.Context, f outbox.ListFilter) ([]domain.Email, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []domain.Email
	for _, e := range o.emails {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })

	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (o *Outbox) CountByStatus(_ context.Context) (map[domain.EmailStatus]int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := make(map[domain.EmailStatus]int)
	for _, e := range o.emails {
		counts[e.Status]++
	}
	return counts, nil
}

// ClaimPending moves up to limit of the oldest pending rows to sending.
func (o *Outbox) ClaimPending(_ context.Context, limit int) ([]domain.Email, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var pending []*domain.Email
	for _, e := range o.emails {
		if e.Status == domain.EmailPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return older(*pending[i], *pending[j]) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := o.Now()
	out := make([]domain.Email, 0, len(pending))
	for _, e := range pending {
		e.Status = domain.EmailSending
		e.Attempts++
		claimed := now
		e.ClaimedAt = &claimed
		out = append(out, *e)
	}
	return out, nil
}

func (o *Outbox) MarkSent(_ context.Context, id string) error {
	return o.transition(id, func(e *domain.Email) {
		e.Status = domain.EmailSent
		sent := o.Now()
		e.SentAt = &sent
		e.ErrorMessage = ""
	})
}

func (o *Outbox) MarkFailed(_ context.Context, id, reason string) error {
	return o.transition(id, func(e *domain.Email) {
		e.Status = domain.EmailFailed
		e.ErrorMessage = reason
	})
}

func (o *Outbox) Release(_ context.Context, id, reason string) error {
	return o.transition(id, func(e *domain.Email) {
		e.Status = domain.EmailPending
		e.ClaimedAt = nil
		e.ErrorMessage = reason
	})
}

func (o *Outbox) RecoverStale(_ context.Context, before time.Time, maxAttempts int) (int, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	requeued, failed := 0, 0
	for _, e := range o.emails {
		if e.Status != domain.EmailSending || e.ClaimedAt == nil || !e.ClaimedAt.Before(before) {
			continue
		}
		if e.Attempts < maxAttempts {
			e.Status = domain.EmailPending
			e.ClaimedAt = nil
			requeued++
			continue
		}
		e.Status = domain.EmailFailed
		e.ErrorMessage = worker.StaleClaimReason
		failed++
	}
	return requeued, failed, nil
}

// Get returns a copy of one row. Test helper.
func (o *Outbox) Get(id string) (domain.Email, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.emails[id]
	if !ok {
		return domain.Email{}, false
	}
	return *e, true
}

// All returns every row oldest first. Test helper.
func (o *Outbox) All() []domain.Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Email, 0, len(o.emails))
	for _, e := range o.emails {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	return out
}

func (o *Outbox) transition(id string, apply func(*domain.Email)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.emails[id]
	if !ok || e.Status != domain.EmailSending {
		return worker.ErrNotClaimed
	}
	apply(e)
	return nil
}

func older(a, b domain.Email) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func newer(a, b domain.Email) bool {
	return older(b, a)
}
