package worker

import (
	"context"
	"log"
	"time"
)

// DefaultCleanupInterval is how often expired login tokens are purged.
const DefaultCleanupInterval = 1 * time.Hour

// TokenCleanupWorker periodically deletes expired login tokens. Redeeming
// an expired token already removes it; this catches links nobody clicked.
type TokenCleanupWorker struct {
	purger   TokenPurger
	interval time.Duration
	now      func() time.Time
}

// NewTokenCleanupWorker creates a cleanup worker.
func NewTokenCleanupWorker(purger TokenPurger, interval time.Duration) *TokenCleanupWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &TokenCleanupWorker{purger: purger, interval: interval, now: time.Now}
}

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (tc *TokenCleanupWorker) Start(ctx context.Context) {
	log.Printf("[TokenCleanup] Starting (interval=%s)", tc.interval)

	// Run once immediately on start
	tc.RunOnce(ctx)

	ticker := time.NewTicker(tc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TokenCleanup] Stopping")
			return
		case <-ticker.C:
			tc.RunOnce(ctx)
		}
	}
}

// RunOnce purges tokens that are already expired and returns the count.
func (tc *TokenCleanupWorker) RunOnce(ctx context.Context) int {
	start := time.Now()
	n, err := tc.purger.DeleteExpired(ctx, tc.now())
	if err != nil {
		log.Printf("[TokenCleanup] Error deleting expired tokens: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("[TokenCleanup] Removed %d expired login tokens in %s", n, time.Since(start).Round(time.Millisecond))
	}
	return n
}
