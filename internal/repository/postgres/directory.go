package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/broadcast"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
	"github.com/mecws/shelter-ops/internal/service/notify"
)

// DirectoryRepo reads users, events and shifts owned by the shelter web
// application.
type DirectoryRepo struct{ db *sql.DB }

// NewDirectoryRepo creates a Postgres-backed directory.
func NewDirectoryRepo(db *sql.DB) *DirectoryRepo { return &DirectoryRepo{db: db} }

var userColumns = []string{"id", "email", "name", "role", "email_allowed"}

func (r *DirectoryRepo) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getUser(ctx, sq.Eq{"id": id})
}

// GetUserByEmail matches addresses case-insensitively.
func (r *DirectoryRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUser(ctx, sq.Expr("LOWER(email) = LOWER(?)", email))
}

func (r *DirectoryRepo) ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	q, args, err := psql.Select(userColumns...).From("users").
		Where(sq.Eq{"role": string(role)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *DirectoryRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	e := &domain.Event{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, date, description, status FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.Date, &e.Description, &e.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, broadcast.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *DirectoryRepo) GetShift(ctx context.Context, id int64) (*domain.Shift, error) {
	s := &domain.Shift{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, name, start_time, end_time, capacity FROM shifts WHERE id = $1
	`, id).Scan(&s.ID, &s.EventID, &s.Name, &s.Start, &s.End, &s.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notify.ErrShiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return s, nil
}

func (r *DirectoryRepo) getUser(ctx context.Context, where sq.Sqlizer) (*domain.User, error) {
	q, args, err := psql.Select(userColumns...).From("users").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get user: %w", err)
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, magiclink.ErrUserNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(s scanner) (*domain.User, error) {
	var u domain.User
	var role string
	var allowed sql.NullBool
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &role, &allowed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = domain.Role(role)
	if allowed.Valid {
		v := allowed.Bool
		u.EmailAllowed = &v
	}
	return &u, nil
}
