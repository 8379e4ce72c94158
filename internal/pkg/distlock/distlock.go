// Package distlock serializes outbox polling across processes. The outbox
// claim query is already safe under concurrent workers; the lock keeps a
// second deployment from spinning up a competing delivery loop at all.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is held for the duration of one delivery cycle.
// A Lock value belongs to a single goroutine.
type Lock interface {
	// Acquire tries to take the lock without blocking. It reports whether
	// the caller now owns it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if the caller still owns it.
	Release(ctx context.Context) error
	// Extend confirms the caller still owns the lock and pushes its expiry
	// out by the configured TTL. It returns ErrLockLost when ownership
	// lapsed.
	Extend(ctx context.Context) error
}

// ErrLockLost is returned by Extend when the lock is no longer held.
var ErrLockLost = errors.New("lock no longer held")

// New picks Redis when a client is configured and falls back to a
// PostgreSQL advisory lock otherwise. It returns nil when neither backend
// is available, which callers treat as "no coordination".
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return nil
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks are scoped to a
// session, so Acquire and Release pin one pooled connection between them;
// the lock dies with that connection if the process crashes.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable 64-bit lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Extend checks that the pinned session is alive; advisory locks have no
// expiry of their own.
func (l *PGAdvisoryLock) Extend(ctx context.Context) error {
	if l.conn == nil {
		return ErrLockLost
	}
	if err := l.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	return nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
