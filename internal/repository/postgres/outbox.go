package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/worker"
)

// insertChunk keeps each multi-row INSERT well under the 65535 parameter
// limit of the Postgres wire protocol.
const insertChunk = 500

var emailColumns = []string{
	"id", "recipient", "subject", "body_text", "COALESCE(body_html, '')", "sensitive",
	"status", "attempts", "created_at", "claimed_at", "sent_at", "COALESCE(error_message, '')",
}

// OutboxRepo implements outbox.Repository and the worker stores against
// PostgreSQL.
type OutboxRepo struct{ db *sql.DB }

// NewOutboxRepo creates a Postgres-backed outbox repository.
func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// InsertBatch writes every row in one transaction.
func (r *OutboxRepo) InsertBatch(ctx context.Context, emails []*domain.Email) error {
	if len(emails) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(emails); start += insertChunk {
		end := start + insertChunk
		if end > len(emails) {
			end = len(emails)
		}
		ins := psql.Insert("emails").Columns(
			"id", "recipient", "subject", "body_text", "body_html", "sensitive", "status", "attempts", "created_at",
		)
		for _, e := range emails[start:end] {
			ins = ins.Values(e.ID, e.Recipient, e.Subject, e.BodyText, nullString(e.BodyHTML),
				e.Sensitive, string(domain.EmailPending), 0, e.CreatedAt)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build enqueue: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert emails: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

func (r *OutboxRepo) List(ctx context.Context, f outbox.ListFilter) ([]domain.Email, int, error) {
	where := sq.And{}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}

	countQ, countArgs, err := psql.Select("COUNT(*)").From("emails").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q, args, err := psql.Select(emailColumns...).From("emails").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	out, err := scanEmails(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *OutboxRepo) CountByStatus(ctx context.Context) (map[domain.EmailStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM emails GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EmailStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.EmailStatus(status)] = n
	}
	return counts, rows.Err()
}

// ClaimPending claims the oldest pending rows in one statement. SKIP
// LOCKED lets concurrent workers claim disjoint batches.
func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]domain.Email, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE emails
		SET status = 'sending',
		    claimed_at = NOW(),
		    attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM emails
			WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, recipient, subject, body_text, COALESCE(body_html, ''), sensitive,
		          status, attempts, created_at, claimed_at, sent_at, COALESCE(error_message, '')
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim emails: %w", err)
	}
	defer rows.Close()

	out, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *OutboxRepo) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":        string(domain.EmailSent),
		"sent_at":       sq.Expr("NOW()"),
		"error_message": nil,
	})
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":        string(domain.EmailFailed),
		"error_message": reason,
	})
}

func (r *OutboxRepo) Release(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":        string(domain.EmailPending),
		"claimed_at":    nil,
		"error_message": nullString(reason),
	})
}

// RecoverStale requeues or fails rows stuck in sending since before the
// cutoff, in one transaction.
func (r *OutboxRepo) RecoverStale(ctx context.Context, before time.Time, maxAttempts int) (int, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin recovery: %w", err)
	}
	defer tx.Rollback()

	stale := sq.And{
		sq.Eq{"status": string(domain.EmailSending)},
		sq.Lt{"claimed_at": before},
	}

	requeue, args, err := psql.Update("emails").
		Set("status", string(domain.EmailPending)).
		Set("claimed_at", nil).
		Where(stale).Where(sq.Lt{"attempts": maxAttempts}).
		ToSql()
	if err != nil {
		return 0, 0, err
	}
	res, err := tx.ExecContext(ctx, requeue, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale: %w", err)
	}
	requeued, _ := res.RowsAffected()

	fail, args, err := psql.Update("emails").
		Set("status", string(domain.EmailFailed)).
		Set("error_message", worker.StaleClaimReason).
		Where(stale).Where(sq.GtOrEq{"attempts": maxAttempts}).
		ToSql()
	if err != nil {
		return 0, 0, err
	}
	res, err = tx.ExecContext(ctx, fail, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale: %w", err)
	}
	failed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit recovery: %w", err)
	}
	return int(requeued), int(failed), nil
}

// transition applies set to a row that is still claimed.
func (r *OutboxRepo) transition(ctx context.Context, id string, set map[string]interface{}) error {
	q, args, err := psql.Update("emails").SetMap(set).
		Where(sq.Eq{"id": id, "status": string(domain.EmailSending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update email %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update email %s: %w", id, err)
	}
	if n == 0 {
		return worker.ErrNotClaimed
	}
	return nil
}

func scanEmails(rows *sql.Rows) ([]domain.Email, error) {
	var out []domain.Email
	for rows.Next() {
		var e domain.Email
		var status string
		var claimedAt, sentAt sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.Recipient, &e.Subject, &e.BodyText, &e.BodyHTML, &e.Sensitive,
			&status, &e.Attempts, &e.CreatedAt, &claimedAt, &sentAt, &e.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		e.Status = domain.EmailStatus(status)
		if claimedAt.Valid {
			t := claimedAt.Time
			e.ClaimedAt = &t
		}
		if sentAt.Valid {
			t := sentAt.Time
			e.SentAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
