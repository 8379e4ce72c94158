package magiclink_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/links"
	"github.com/mecws/shelter-ops/internal/repository/memory"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/session"
	"github.com/mecws/shelter-ops/internal/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	auth     *magiclink.Authenticator
	tokens   *memory.Tokens
	dir      *memory.Directory
	outbox   *memory.Outbox
	sessions *session.MemoryStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tokens:   memory.NewTokens(),
		dir:      memory.NewDirectory(),
		outbox:   memory.NewOutbox(),
		sessions: session.NewMemoryStore(time.Hour),
		now:      time.Date(2025, 12, 30, 18, 0, 0, 0, time.UTC),
	}
	f.dir.AddUser(domain.User{ID: 1, Email: "vol@example.org", Name: "Vol One", Role: domain.RoleTeamMember})

	lb, err := links.New("https://volunteer.example.org")
	require.NoError(t, err)

	f.auth = magiclink.NewAuthenticator(magiclink.Deps{
		Tokens:   f.tokens,
		Users:    f.dir,
		Sessions: f.sessions,
		Queue:    outbox.NewQueue(f.outbox),
		Links:    lb,
		Render:   templates.New(),
	}, magiclink.Config{LoginTTL: 30 * time.Minute}).WithClock(func() time.Time { return f.now })
	return f
}

func TestIssueStoresToken(t *testing.T) {
	f := newFixture(t)
	tok, err := f.auth.Issue(context.Background(), 1, 30*time.Minute)
	require.NoError(t, err)
	assert.Len(t, tok, 36)

	row, ok := f.tokens.Peek(tok)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.UserID)
	assert.Equal(t, f.now.Add(30*time.Minute), row.ExpiresAt)
}

func TestIssueRejectsNonPositiveTTL(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Issue(context.Background(), 1, 0)
	assert.Error(t, err)
}

func TestRedeemIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, err := f.auth.Issue(ctx, 1, 30*time.Minute)
	require.NoError(t, err)

	sess, err := f.auth.Redeem(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.UserID)
	assert.Equal(t, "vol@example.org", sess.Email)

	_, err = f.auth.Redeem(ctx, tok)
	assert.ErrorIs(t, err, magiclink.ErrInvalidToken)
	assert.True(t, magiclink.IsDenied(err))
}

func TestRedeemExpiredTokenIsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, err := f.auth.Issue(ctx, 1, 30*time.Minute)
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Minute)
	_, err = f.auth.Redeem(ctx, tok)
	assert.ErrorIs(t, err, magiclink.ErrTokenExpired)
	assert.Zero(t, f.tokens.Len())

	_, err = f.auth.Redeem(ctx, tok)
	assert.ErrorIs(t, err, magiclink.ErrInvalidToken)
}

func TestRedeemUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Redeem(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, magiclink.ErrInvalidToken)

	_, err = f.auth.Redeem(context.Background(), "")
	assert.ErrorIs(t, err, magiclink.ErrInvalidToken)
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, err := f.auth.Issue(ctx, 1, 30*time.Minute)
	require.NoError(t, err)

	var wins, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Redeem(ctx, tok)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, magiclink.ErrInvalidToken):
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), denied.Load())
}

func TestRedeemForDeletedUser(t *testing.T) {
	f := newFixture(t)
	tok, err := f.auth.Issue(context.Background(), 99, time.Hour)
	require.NoError(t, err)

	_, err = f.auth.Redeem(context.Background(), tok)
	assert.ErrorIs(t, err, magiclink.ErrUserNotFound)
	assert.True(t, magiclink.IsDenied(err))
}

func TestRequestLoginQueuesSensitiveEmail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.auth.RequestLogin(context.Background(), "  VOL@example.org "))

	rows := f.outbox.All()
	require.Len(t, rows, 1)
	e := rows[0]
	assert.Equal(t, "vol@example.org", e.Recipient)
	assert.Equal(t, "[MECWS] Login Link", e.Subject)
	assert.True(t, e.Sensitive)
	assert.Contains(t, e.BodyText, "Hi Vol One")
	assert.Contains(t, e.BodyText, "https://volunteer.example.org/login/")
	assert.Contains(t, e.BodyText, "30 minutes")
	assert.Contains(t, e.BodyHTML, `<a href="https://volunteer.example.org/login/`)

	// the emailed token redeems
	require.Equal(t, 1, f.tokens.Len())
	idx := strings.Index(e.BodyText, "/login/")
	tok := e.BodyText[idx+len("/login/") : idx+len("/login/")+36]
	_, err := f.auth.Redeem(context.Background(), tok)
	assert.NoError(t, err)
}

func TestRequestLoginUnknownAddressIsSilent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.auth.RequestLogin(context.Background(), "stranger@example.org"))
	assert.Empty(t, f.outbox.All())
	assert.Zero(t, f.tokens.Len())
}

func TestRequestLoginQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.outbox.FailInsert = func(int, *domain.Email) error { return errors.New("db down") }

	err := f.auth.RequestLogin(context.Background(), "vol@example.org")
	assert.ErrorIs(t, err, outbox.ErrQueue)
}
