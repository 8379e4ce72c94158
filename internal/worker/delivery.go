package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/metrics"
	"github.com/mecws/shelter-ops/internal/pkg/distlock"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultErrorBackoff = 5 * time.Second
	DefaultBatchSize    = 50
	DefaultSendTimeout  = 30 * time.Second

	maxErrorLength = 1000
	releaseTimeout = 5 * time.Second
)

// DeliveryConfig tunes the delivery loop.
type DeliveryConfig struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	BatchSize    int
	SendTimeout  time.Duration
	// MaxAttempts of 1 makes every transport error terminal.
	MaxAttempts int
	FromEmail   string
	FromName    string
}

func (c *DeliveryConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
}

// CycleResult summarizes one delivery cycle.
type CycleResult struct {
	Claimed int
	Sent    int
	Failed  int
	Retried int
	// Released counts claims handed back to pending unsent, on shutdown or
	// after losing the lock.
	Released int
	Skipped  bool // lock held elsewhere
}

type outcome int

const (
	outcomeUnrecorded outcome = iota // status update failed; recovery will pick it up
	outcomeSent
	outcomeFailed
	outcomeRetried
	outcomeReleased
)

// DeliveryWorker drains the outbox. Each cycle claims a batch of pending
// rows, sends them one at a time in creation order and records the
// outcome of every message before moving to the next.
type DeliveryWorker struct {
	store  Store
	sender Sender
	lock   distlock.Lock
	cfg    DeliveryConfig

	cycles atomic.Int64
	sent   atomic.Int64
	failed atomic.Int64
}

// NewDeliveryWorker creates a worker. lock may be nil when a single worker
// process runs; claims are already safe across processes.
func NewDeliveryWorker(store Store, sender Sender, lock distlock.Lock, cfg DeliveryConfig) *DeliveryWorker {
	cfg.applyDefaults()
	return &DeliveryWorker{store: store, sender: sender, lock: lock, cfg: cfg}
}

// Start runs cycles until ctx is cancelled. It never returns early on
// store or transport errors.
func (w *DeliveryWorker) Start(ctx context.Context) {
	log.Printf("[DeliveryWorker] Starting (poll=%s, batch=%d, max_attempts=%d, send_timeout=%s)",
		w.cfg.PollInterval, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.SendTimeout)

	for {
		wait := w.cfg.PollInterval
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			wait += w.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			log.Println("[DeliveryWorker] Stopping")
			return
		case <-time.After(wait):
		}
	}
}

// RunOnce performs a single cycle. The returned error is non-nil only when
// the batch could not be claimed; per-message failures are recorded on the
// rows themselves.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	w.cycles.Add(1)

	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx)
		if err != nil {
			metrics.IncPollError()
			logger.Error("lock acquire failed", "component", "DeliveryWorker", "error", err.Error())
			return res, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := w.lock.Release(relCtx); err != nil {
				logger.Warn("lock release failed", "component", "DeliveryWorker", "error", err.Error())
			}
		}()
	}

	batch, err := w.store.ClaimPending(ctx, w.cfg.BatchSize)
	if err != nil {
		metrics.IncPollError()
		logger.Error("claim failed", "component", "DeliveryWorker", "error", err.Error())
		return res, fmt.Errorf("claim pending: %w", err)
	}
	res.Claimed = len(batch)
	if len(batch) == 0 {
		return res, nil
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		}
		return batch[i].ID < batch[j].ID
	})

	for i := range batch {
		if ctx.Err() != nil {
			res.Released += w.releaseRemaining(ctx, batch[i:], "shutdown")
			break
		}
		if w.lock != nil {
			if err := w.lock.Extend(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("delivery lock lost mid-cycle", "component", "DeliveryWorker", "error", err.Error())
				res.Released += w.releaseRemaining(ctx, batch[i:], "lock lost")
				break
			}
		}
		switch w.deliver(ctx, &batch[i]) {
		case outcomeSent:
			res.Sent++
		case outcomeFailed:
			res.Failed++
		case outcomeRetried:
			res.Retried++
		case outcomeReleased:
			res.Released++
		}
	}

	logger.Info("delivery cycle complete", "component", "DeliveryWorker",
		"claimed", res.Claimed, "sent", res.Sent, "failed", res.Failed, "retried", res.Retried, "released", res.Released)
	return res, nil
}

// Stats returns lifetime counters for the health endpoint.
func (w *DeliveryWorker) Stats() map[string]int64 {
	return map[string]int64{
		"cycles": w.cycles.Load(),
		"sent":   w.sent.Load(),
		"failed": w.failed.Load(),
	}
}

// deliver sends one claimed row and records the outcome. Status updates
// run on a context detached from ctx so a shutdown signal arriving during
// the send cannot stop the result from being committed.
func (w *DeliveryWorker) deliver(ctx context.Context, e *domain.Email) outcome {
	msg := &domain.EmailMessage{
		ID:        e.ID,
		FromName:  w.cfg.FromName,
		FromEmail: w.cfg.FromEmail,
		To:        e.Recipient,
		Subject:   e.Subject,
		Text:      e.BodyText,
		HTML:      e.BodyHTML,
		Sensitive: e.Sensitive,
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	start := time.Now()
	sendErr := w.sender.Send(sendCtx, msg)
	cancel()
	metrics.ObserveSend(time.Since(start))
	metrics.ObserveLag(start.Sub(e.CreatedAt))

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer commitCancel()

	if sendErr == nil {
		if err := w.store.MarkSent(commitCtx, e.ID); err != nil {
			w.logMarkError("sent", e, err)
			return outcomeUnrecorded
		}
		w.sent.Add(1)
		metrics.IncDelivery("sent")
		w.logOutcome("email sent", e, nil)
		return outcomeSent
	}

	// The worker is stopping: the relay never answered, so this is not a
	// delivery failure.
	if ctx.Err() != nil {
		if err := w.store.Release(commitCtx, e.ID, ""); err != nil {
			w.logMarkError("pending", e, err)
			return outcomeUnrecorded
		}
		metrics.IncDelivery("released")
		w.logOutcome("email send interrupted by shutdown", e, sendErr)
		return outcomeReleased
	}

	reason := truncate(sendErr.Error(), maxErrorLength)
	if e.Attempts < w.cfg.MaxAttempts {
		if err := w.store.Release(commitCtx, e.ID, reason); err != nil {
			w.logMarkError("pending", e, err)
			return outcomeUnrecorded
		}
		metrics.IncDelivery("retry")
		w.logOutcome("email send failed, will retry", e, sendErr)
		return outcomeRetried
	}

	if err := w.store.MarkFailed(commitCtx, e.ID, reason); err != nil {
		w.logMarkError("failed", e, err)
		return outcomeUnrecorded
	}
	w.failed.Add(1)
	metrics.IncDelivery("failed")
	w.logOutcome("email send failed", e, sendErr)
	return outcomeFailed
}

// releaseRemaining hands unattempted claims back so they do not wait for
// the recovery worker. It returns how many were released.
func (w *DeliveryWorker) releaseRemaining(ctx context.Context, rest []domain.Email, why string) int {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	n := 0
	for i := range rest {
		if err := w.store.Release(relCtx, rest[i].ID, ""); err != nil {
			w.logMarkError("pending", &rest[i], err)
			continue
		}
		n++
	}
	log.Printf("[DeliveryWorker] Released %d unsent claims (%s)", n, why)
	return n
}

func (w *DeliveryWorker) logOutcome(msg string, e *domain.Email, err error) {
	kv := []interface{}{"component", "DeliveryWorker", "email_id", e.ID, "recipient", e.Recipient, "attempt", e.Attempts}
	if !e.Sensitive {
		kv = append(kv, "subject", e.Subject)
	}
	if err != nil {
		kv = append(kv, "error", err.Error())
		logger.Warn(msg, kv...)
		return
	}
	logger.Info(msg, kv...)
}

func (w *DeliveryWorker) logMarkError(target string, e *domain.Email, err error) {
	if errors.Is(err, ErrNotClaimed) {
		logger.Warn("claim lost before status update", "component", "DeliveryWorker", "email_id", e.ID, "target", target)
		return
	}
	logger.Error("status update failed", "component", "DeliveryWorker", "email_id", e.ID, "target", target, "error", err.Error())
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
