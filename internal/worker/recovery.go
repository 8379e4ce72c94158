package worker

import (
	"context"
	"log"
	"time"

	"github.com/mecws/shelter-ops/internal/metrics"
)

const (
	// DefaultRecoveryInterval is how often we scan for stuck claims.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a row may sit in sending before the
	// claiming worker is presumed dead.
	DefaultStaleAge = 10 * time.Minute

	// DefaultRecoveryMaxAttempts bounds how often a row that keeps
	// stranding its worker is requeued before it is failed.
	DefaultRecoveryMaxAttempts = 3
)

// QueueRecoveryWorker returns abandoned claims to pending. A message whose
// send succeeded but whose sent status was never committed is delivered
// again, so delivery is at-least-once.
type QueueRecoveryWorker struct {
	store       RecoveryStore
	interval    time.Duration
	staleAge    time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewQueueRecoveryWorker creates a recovery worker. Zero values select the
// defaults.
func NewQueueRecoveryWorker(store RecoveryStore, interval, staleAge time.Duration, maxAttempts int) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultRecoveryMaxAttempts
	}
	return &QueueRecoveryWorker{
		store:       store,
		interval:    interval,
		staleAge:    staleAge,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[QueueRecovery] Starting (interval=%s, stale_age=%s, max_attempts=%d)",
		qr.interval, qr.staleAge, qr.maxAttempts)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[QueueRecovery] Stopping")
			return
		case <-ticker.C:
			qr.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scan and returns how many rows were requeued and
// failed.
func (qr *QueueRecoveryWorker) RunOnce(ctx context.Context) (requeued, failed int) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	requeued, failed, err := qr.store.RecoverStale(queryCtx, qr.now().Add(-qr.staleAge), qr.maxAttempts)
	if err != nil {
		log.Printf("[QueueRecovery] recover error: %v", err)
		return 0, 0
	}
	if requeued > 0 {
		metrics.AddRecovered(requeued)
		log.Printf("[QueueRecovery] requeued %d stuck emails", requeued)
	}
	if failed > 0 {
		log.Printf("[QueueRecovery] failed %d emails that exceeded %d attempts", failed, qr.maxAttempts)
	}
	return requeued, failed
}
