package outbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/repository/memory"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueOneRowPerRecipient(t *testing.T) {
	store := memory.NewOutbox()
	q := outbox.NewQueue(store)

	err := q.Enqueue(context.Background(), outbox.Message{
		Recipients: []string{"a@example.org", "b@example.org", "c@example.org"},
		Subject:    "[MECWS] New Volunteer Signup",
		TextBody:   "text",
		HTMLBody:   "<p>text</p>",
	})
	require.NoError(t, err)

	rows := store.All()
	require.Len(t, rows, 3)
	ids := map[string]bool{}
	for i, e := range rows {
		assert.Equal(t, []string{"a@example.org", "b@example.org", "c@example.org"}[i], e.Recipient)
		assert.Equal(t, domain.EmailPending, e.Status)
		assert.Zero(t, e.Attempts)
		assert.Equal(t, "<p>text</p>", e.BodyHTML)
		assert.False(t, ids[e.ID])
		ids[e.ID] = true
	}
}

func TestEnqueueIsAtomic(t *testing.T) {
	store := memory.NewOutbox()
	store.FailInsert = func(i int, _ *domain.Email) error {
		if i == 2 {
			return errors.New("disk full")
		}
		return nil
	}
	q := outbox.NewQueue(store)

	err := q.Enqueue(context.Background(), outbox.Message{
		Recipients: []string{"a@example.org", "b@example.org", "c@example.org"},
		Subject:    "S",
		TextBody:   "T",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, outbox.ErrQueue)
	assert.Empty(t, store.All())
}

func TestEnqueueEmptyRecipientsIsNoop(t *testing.T) {
	store := memory.NewOutbox()
	require.NoError(t, outbox.NewQueue(store).Enqueue(context.Background(), outbox.Message{Subject: "S"}))
	assert.Empty(t, store.All())
}

func TestEnqueueRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  outbox.Message
	}{
		{"blank subject", outbox.Message{Recipients: []string{"a@example.org"}, Subject: "  "}},
		{"blank recipient", outbox.Message{Recipients: []string{"a@example.org", " "}, Subject: "S"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewOutbox()
			err := outbox.NewQueue(store).Enqueue(context.Background(), tt.msg)
			assert.ErrorIs(t, err, outbox.ErrInvalidMessage)
			assert.Empty(t, store.All())
		})
	}
}

func TestListHidesSensitiveBodies(t *testing.T) {
	store := memory.NewOutbox()
	q := outbox.NewQueue(store)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, outbox.Message{
		Recipients: []string{"a@example.org"}, Subject: "[MECWS] Login Link",
		TextBody: "https://example.org/login/secret", HTMLBody: "<a>secret</a>", Sensitive: true,
	}))
	require.NoError(t, q.Enqueue(ctx, outbox.Message{
		Recipients: []string{"b@example.org"}, Subject: "[MECWS] Hello", TextBody: "plain",
	}))

	rows, total, err := q.List(ctx, outbox.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 2)

	// newest first
	assert.Equal(t, "b@example.org", rows[0].Recipient)
	assert.Equal(t, "plain", rows[0].BodyText)
	assert.Equal(t, "a@example.org", rows[1].Recipient)
	assert.Empty(t, rows[1].BodyText)
	assert.Empty(t, rows[1].BodyHTML)
	assert.Equal(t, "[MECWS] Login Link", rows[1].Subject)

	// stored row keeps its body for delivery
	stored, ok := store.Get(rows[1].ID)
	require.True(t, ok)
	assert.Equal(t, "https://example.org/login/secret", stored.BodyText)
}

func TestListFiltersAndStats(t *testing.T) {
	store := memory.NewOutbox()
	q := outbox.NewQueue(store)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, outbox.Message{Recipients: []string{"a@example.org", "b@example.org"}, Subject: "S"}))

	rows, total, err := q.List(ctx, outbox.ListFilter{Status: domain.EmailSent})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, rows)

	_, _, err = q.List(ctx, outbox.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, outbox.ErrInvalidMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[domain.EmailPending])
}
