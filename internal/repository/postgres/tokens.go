package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
)

// purgeBatchSize limits each DELETE of the expired-token purge.
const purgeBatchSize = 10000

// TokenRepo implements magiclink.TokenRepository against PostgreSQL.
type TokenRepo struct{ db *sql.DB }

// NewTokenRepo creates a Postgres-backed login token repository.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

func (r *TokenRepo) Create(ctx context.Context, t *domain.LoginToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_tokens (token, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.Token, t.UserID, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create login token: %w", err)
	}
	return nil
}

// Consume deletes the token and returns it. Of two concurrent calls for
// the same token only one sees the row.
func (r *TokenRepo) Consume(ctx context.Context, token string) (*domain.LoginToken, error) {
	t := &domain.LoginToken{Token: token}
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM login_tokens
		WHERE token = $1
		RETURNING user_id, expires_at, created_at
	`, token).Scan(&t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, magiclink.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("consume login token: %w", err)
	}
	return t, nil
}

// DeleteExpired purges in batches until nothing older than the cutoff is
// left.
func (r *TokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := r.db.ExecContext(ctx, `
			DELETE FROM login_tokens
			WHERE token IN (
				SELECT token FROM login_tokens
				WHERE expires_at < $1
				LIMIT $2
			)
		`, before, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("delete expired tokens: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
