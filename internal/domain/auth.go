package domain

import "time"

// LoginToken is a single-use, time-limited credential bound to a user.
// Redemption deletes the row.
type LoginToken struct {
	Token     string    `json:"-" db:"token"`
	UserID    int64     `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t LoginToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
