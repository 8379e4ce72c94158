package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/pkg/distlock"
	"github.com/mecws/shelter-ops/internal/repository/memory"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures every message and fails for listed recipients.
type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]error
}

func (s *recordingSender) Send(ctx context.Context, msg *domain.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg.To)
	if err, ok := s.failTo[msg.To]; ok {
		return err
	}
	return ctx.Err()
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// failingClaimStore fails every claim.
type failingClaimStore struct {
	*memory.Outbox
	calls int
}

func (f *failingClaimStore) ClaimPending(context.Context, int) ([]domain.Email, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

// strictStore refuses status updates on a done context, like a SQL driver.
type strictStore struct {
	*memory.Outbox
}

func (s strictStore) MarkSent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Outbox.MarkSent(ctx, id)
}

func (s strictStore) MarkFailed(ctx context.Context, id, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Outbox.MarkFailed(ctx, id, reason)
}

func (s strictStore) Release(ctx context.Context, id, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Outbox.Release(ctx, id, reason)
}

// stubLock records calls; Extend starts failing after extendOK calls when
// extendOK is non-negative.
type stubLock struct {
	held     bool
	extendOK int
	acquires int
	extends  int
	releases int
}

func (l *stubLock) Acquire(context.Context) (bool, error) {
	l.acquires++
	return !l.held, nil
}

func (l *stubLock) Extend(context.Context) error {
	l.extends++
	if l.extendOK >= 0 && l.extends > l.extendOK {
		return distlock.ErrLockLost
	}
	return nil
}

func (l *stubLock) Release(context.Context) error {
	l.releases++
	return nil
}

func enqueue(t *testing.T, store *memory.Outbox, recipients ...string) {
	t.Helper()
	q := outbox.NewQueue(store)
	for _, r := range recipients {
		require.NoError(t, q.Enqueue(context.Background(), outbox.Message{
			Recipients: []string{r},
			Subject:    "[MECWS] Test",
			TextBody:   "hello " + r,
		}))
	}
}

func countStatus(store *memory.Outbox, status domain.EmailStatus) int {
	n := 0
	for _, e := range store.All() {
		if e.Status == status {
			n++
		}
	}
	return n
}

func newWorker(store worker.Store, sender worker.Sender, cfg worker.DeliveryConfig) *worker.DeliveryWorker {
	cfg.FromEmail = "noreply@example.org"
	return worker.NewDeliveryWorker(store, sender, nil, cfg)
}

func TestDeliverySendsInCreationOrder(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "a@example.org", "b@example.org", "c@example.org")

	sender := &recordingSender{}
	res, err := newWorker(store, sender, worker.DeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.org", "b@example.org", "c@example.org"}, sender.recipients())
	assert.Equal(t, 3, res.Sent)
	for _, e := range store.All() {
		assert.Equal(t, domain.EmailSent, e.Status)
		assert.NotNil(t, e.SentAt)
		assert.Equal(t, 1, e.Attempts)
	}
}

func TestDeliveryIsolatesFailures(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "a@example.org", "b@example.org", "c@example.org")

	sender := &recordingSender{failTo: map[string]error{"b@example.org": errors.New("550 mailbox unavailable")}}
	res, err := newWorker(store, sender, worker.DeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	all := store.All()
	assert.Equal(t, domain.EmailSent, all[0].Status)
	assert.Equal(t, domain.EmailFailed, all[1].Status)
	assert.Equal(t, "550 mailbox unavailable", all[1].ErrorMessage)
	assert.Equal(t, domain.EmailSent, all[2].Status)

	// A failed row is terminal with the default single attempt.
	res, err = newWorker(store, sender, worker.DeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestDeliveryRespectsBatchSize(t *testing.T) {
	store := memory.NewOutbox()
	var rcpts []string
	for i := 0; i < 60; i++ {
		rcpts = append(rcpts, fmt.Sprintf("v%02d@example.org", i))
	}
	enqueue(t, store, rcpts...)

	sender := &recordingSender{}
	res, err := newWorker(store, sender, worker.DeliveryConfig{BatchSize: 50}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, res.Claimed)
	assert.Equal(t, 50, countStatus(store, domain.EmailSent))
	assert.Equal(t, 10, countStatus(store, domain.EmailPending))
	assert.Equal(t, rcpts[:50], sender.recipients())
}

func TestDeliveryRetriesUpToMaxAttempts(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "flaky@example.org")

	sender := &recordingSender{failTo: map[string]error{"flaky@example.org": errors.New("421 try later")}}
	w := newWorker(store, sender, worker.DeliveryConfig{MaxAttempts: 2})

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	e := store.All()[0]
	assert.Equal(t, domain.EmailPending, e.Status)
	assert.Equal(t, "421 try later", e.ErrorMessage)

	res, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	e = store.All()[0]
	assert.Equal(t, domain.EmailFailed, e.Status)
	assert.Equal(t, 2, e.Attempts)
}

func TestDeliveryClaimErrorIsReported(t *testing.T) {
	store := &failingClaimStore{Outbox: memory.NewOutbox()}
	_, err := newWorker(store, &recordingSender{}, worker.DeliveryConfig{}).RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestDeliveryStartSurvivesErrorsAndStops(t *testing.T) {
	store := &failingClaimStore{Outbox: memory.NewOutbox()}
	w := newWorker(store, &recordingSender{}, worker.DeliveryConfig{
		PollInterval: 5 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return w.Stats()["cycles"] >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestDeliveryPassesSensitiveFlag(t *testing.T) {
	store := memory.NewOutbox()
	q := outbox.NewQueue(store)
	require.NoError(t, q.Enqueue(context.Background(), outbox.Message{
		Recipients: []string{"vol@example.org"},
		Subject:    "[MECWS] Login Link",
		TextBody:   "https://example.org/login/secret",
		Sensitive:  true,
	}))

	var got *domain.EmailMessage
	sender := senderFunc(func(_ context.Context, m *domain.EmailMessage) error {
		got = m
		return nil
	})
	_, err := newWorker(store, sender, worker.DeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Sensitive)
	assert.Equal(t, "noreply@example.org", got.FromEmail)
}

type senderFunc func(context.Context, *domain.EmailMessage) error

func (f senderFunc) Send(ctx context.Context, m *domain.EmailMessage) error { return f(ctx, m) }

func TestDeliveryCommitsSendAfterShutdownSignal(t *testing.T) {
	mem := memory.NewOutbox()
	enqueue(t, mem, "a@example.org")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := senderFunc(func(context.Context, *domain.EmailMessage) error {
		// The relay accepted the message just as the worker was told to stop.
		cancel()
		return nil
	})

	res, err := newWorker(strictStore{mem}, sender, worker.DeliveryConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	e := mem.All()[0]
	assert.Equal(t, domain.EmailSent, e.Status)
	assert.NotNil(t, e.SentAt)
}

func TestDeliveryReleasesSendInterruptedByShutdown(t *testing.T) {
	mem := memory.NewOutbox()
	enqueue(t, mem, "a@example.org")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := senderFunc(func(c context.Context, _ *domain.EmailMessage) error {
		cancel()
		return c.Err()
	})

	res, err := newWorker(strictStore{mem}, sender, worker.DeliveryConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.Released)

	e := mem.All()[0]
	assert.Equal(t, domain.EmailPending, e.Status)
	assert.Empty(t, e.ErrorMessage)
	assert.Nil(t, e.ClaimedAt)
}

func TestDeliveryReleasesUnattemptedClaimsOnShutdown(t *testing.T) {
	mem := memory.NewOutbox()
	enqueue(t, mem, "a@example.org", "b@example.org", "c@example.org")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &recordingSender{}
	stopAfterFirst := senderFunc(func(c context.Context, m *domain.EmailMessage) error {
		cancel()
		return sender.Send(context.WithoutCancel(c), m)
	})

	res, err := newWorker(strictStore{mem}, stopAfterFirst, worker.DeliveryConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Claimed)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.Released)
	assert.Equal(t, []string{"a@example.org"}, sender.recipients())

	all := mem.All()
	assert.Equal(t, domain.EmailSent, all[0].Status)
	for _, e := range all[1:] {
		assert.Equal(t, domain.EmailPending, e.Status, e.Recipient)
		assert.Nil(t, e.ClaimedAt)
	}
}

func TestDeliverySkipsWhenLockHeld(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "a@example.org", "b@example.org")

	lock := &stubLock{held: true, extendOK: -1}
	sender := &recordingSender{}
	w := worker.NewDeliveryWorker(store, sender, lock, worker.DeliveryConfig{FromEmail: "noreply@example.org"})

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Claimed)
	assert.Empty(t, sender.recipients())
	assert.Equal(t, 2, countStatus(store, domain.EmailPending))
	assert.Zero(t, lock.releases, "a lock that was never acquired is not released")
}

func TestDeliveryHoldsLockForWholeCycle(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "a@example.org", "b@example.org", "c@example.org")

	lock := &stubLock{extendOK: -1}
	w := worker.NewDeliveryWorker(store, &recordingSender{}, lock, worker.DeliveryConfig{FromEmail: "noreply@example.org"})

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, lock.acquires)
	assert.Equal(t, 3, lock.extends, "lease renewed before every send")
	assert.Equal(t, 1, lock.releases)
}

func TestDeliveryStopsWhenLockLost(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "a@example.org", "b@example.org", "c@example.org")

	lock := &stubLock{extendOK: 1}
	sender := &recordingSender{}
	w := worker.NewDeliveryWorker(store, sender, lock, worker.DeliveryConfig{FromEmail: "noreply@example.org"})

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.Released)
	assert.Equal(t, []string{"a@example.org"}, sender.recipients())
	assert.Equal(t, 2, countStatus(store, domain.EmailPending))
	assert.Equal(t, 1, lock.releases)
}

func TestDeliveryTruncatesErrorOnRuneBoundary(t *testing.T) {
	store := memory.NewOutbox()
	enqueue(t, store, "a@example.org")

	// Every multibyte rune starts on an odd offset, so byte 1000 is a
	// continuation byte.
	long := "x" + strings.Repeat("é", 600)
	sender := &recordingSender{failTo: map[string]error{"a@example.org": errors.New(long)}}
	_, err := newWorker(store, sender, worker.DeliveryConfig{}).RunOnce(context.Background())
	require.NoError(t, err)

	e := store.All()[0]
	assert.Equal(t, domain.EmailFailed, e.Status)
	assert.True(t, utf8.ValidString(e.ErrorMessage))
	assert.Len(t, e.ErrorMessage, 999)
	assert.True(t, strings.HasPrefix(long, e.ErrorMessage))
}
