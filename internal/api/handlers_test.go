package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/links"
	"github.com/mecws/shelter-ops/internal/repository/memory"
	"github.com/mecws/shelter-ops/internal/service/broadcast"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
	"github.com/mecws/shelter-ops/internal/service/notify"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/session"
	"github.com/mecws/shelter-ops/internal/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieName = "test_session"

type testEnv struct {
	handler  http.Handler
	auth     *magiclink.Authenticator
	outbox   *memory.Outbox
	tokens   *memory.Tokens
	sessions *session.MemoryStore
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := memory.NewDirectory()
	dir.AddUser(domain.User{ID: 1, Email: "vol@example.org", Name: "Vol One", Role: domain.RoleTeamMember})
	dir.AddUser(domain.User{ID: 2, Email: "boss@example.org", Name: "Boss", Role: domain.RoleSupervisor})
	dir.AddEvent(domain.Event{ID: 7, Date: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Status: "open"})
	dir.AddShift(domain.Shift{ID: 3, EventID: 7, Name: "Overnight",
		Start: time.Date(2026, 1, 5, 21, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 6, 7, 0, 0, 0, time.UTC)})

	env := &testEnv{
		outbox:   memory.NewOutbox(),
		tokens:   memory.NewTokens(),
		sessions: session.NewMemoryStore(time.Hour),
	}
	lb, err := links.New("https://volunteer.example.org")
	require.NoError(t, err)
	render := templates.New()
	queue := outbox.NewQueue(env.outbox)

	env.auth = magiclink.NewAuthenticator(magiclink.Deps{
		Tokens: env.tokens, Users: dir, Sessions: env.sessions,
		Queue: queue, Links: lb, Render: render,
	}, magiclink.Config{LoginTTL: 30 * time.Minute})
	composer := broadcast.NewComposer(broadcast.Deps{
		Directory: dir, Tokens: env.auth, Queue: queue, Links: lb, Render: render,
	}, broadcast.Config{})

	srv := NewServer(config.ServerConfig{Port: 0}, CookieConfig{Name: cookieName, MaxAge: time.Hour}, Deps{
		Auth:      env.auth,
		Sessions:  env.sessions,
		Broadcast: composer,
		Ledger:    queue,
		Notify:    notify.NewNotifier(dir, queue, render, lb, ""),
		Health:    NewHealthChecker(nil, nil, queue),
	})
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, sess *session.Session) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: sess.ID})
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, u domain.User) *session.Session {
	t.Helper()
	s, err := e.sessions.Create(context.Background(), u)
	require.NoError(t, err)
	return s
}

var volunteer = domain.User{ID: 1, Email: "vol@example.org", Name: "Vol One", Role: domain.RoleTeamMember}
var supervisor = domain.User{ID: 2, Email: "boss@example.org", Name: "Boss", Role: domain.RoleSupervisor}

func TestRequestLoginSameResponseForUnknownAddress(t *testing.T) {
	env := setupTestServer(t)

	known := env.do(t, http.MethodPost, "/login", map[string]string{"email": "vol@example.org"}, nil)
	unknown := env.do(t, http.MethodPost, "/login", map[string]string{"email": "nobody@example.org"}, nil)

	assert.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Contains(t, known.Body.String(), magiclink.RequestedMessage)

	rows := env.outbox.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "vol@example.org", rows[0].Recipient)
	assert.True(t, rows[0].Sensitive)
}

func TestRequestLoginValidation(t *testing.T) {
	env := setupTestServer(t)

	rr := env.do(t, http.MethodPost, "/login", map[string]string{"email": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

var loginLink = regexp.MustCompile(`/login/([0-9a-f-]{36})`)

func TestLoginEmailLinkRedeems(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/login", map[string]string{"email": "vol@example.org"}, nil)

	rows := env.outbox.All()
	require.Len(t, rows, 1)
	m := loginLink.FindStringSubmatch(rows[0].BodyText)
	require.Len(t, m, 2)

	rr := env.do(t, http.MethodGet, "/login/"+m[1], nil, nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, DashboardPath, rr.Header().Get("Location"))
}

func TestRedeemSetsCookieAndRedirects(t *testing.T) {
	env := setupTestServer(t)
	tok, err := env.auth.Issue(context.Background(), 1, 48*time.Hour)
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/login/"+tok+"?next=%2Fshifts", nil, nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/shifts", rr.Header().Get("Location"))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, cookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	s, err := env.sessions.Get(context.Background(), cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.UserID)
}

func TestRedeemTwiceIsDenied(t *testing.T) {
	env := setupTestServer(t)
	tok, err := env.auth.Issue(context.Background(), 1, time.Hour)
	require.NoError(t, err)

	first := env.do(t, http.MethodGet, "/login/"+tok, nil, nil)
	require.Equal(t, http.StatusSeeOther, first.Code)

	second := env.do(t, http.MethodGet, "/login/"+tok, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, second.Code)
	assert.Contains(t, second.Body.String(), magiclink.DeniedMessage)
	assert.Empty(t, second.Result().Cookies())
}

func TestRedeemUnknownTokenSharesMessage(t *testing.T) {
	env := setupTestServer(t)
	rr := env.do(t, http.MethodGet, "/login/not-a-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, magiclink.DeniedMessage, body["error"])
	assert.Equal(t, "link_denied", body["code"])
}

func TestRedeemIgnoresOffsiteNext(t *testing.T) {
	env := setupTestServer(t)
	tok, err := env.auth.Issue(context.Background(), 1, time.Hour)
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/login/"+tok+"?next=%2F%2Fevil.example.com", nil, nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, DashboardPath, rr.Header().Get("Location"))
}

func TestMeAndLogout(t *testing.T) {
	env := setupTestServer(t)

	rr := env.do(t, http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	sess := env.login(t, volunteer)
	rr = env.do(t, http.MethodGet, "/api/me", nil, sess)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"email":"vol@example.org"`)

	rr = env.do(t, http.MethodPost, "/logout", nil, sess)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, err := env.sessions.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestAdminRoutesRequireSupervisor(t *testing.T) {
	env := setupTestServer(t)

	rr := env.do(t, http.MethodGet, "/admin/emails", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/emails", nil, env.login(t, volunteer))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/emails", nil, env.login(t, supervisor))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBroadcastDraft(t *testing.T) {
	env := setupTestServer(t)
	boss := env.login(t, supervisor)

	rr := env.do(t, http.MethodGet, "/admin/events/7/broadcast", nil, boss)
	require.Equal(t, http.StatusOK, rr.Code)

	var draft broadcast.Draft
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &draft))
	assert.Equal(t, "Volunteers Needed: Monday, January 05", draft.Subject)
	assert.Contains(t, draft.Message, "{{ link }}")

	rr = env.do(t, http.MethodGet, "/admin/events/99/broadcast", nil, boss)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/events/abc/broadcast", nil, boss)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBroadcastSend(t *testing.T) {
	env := setupTestServer(t)
	boss := env.login(t, supervisor)

	rr := env.do(t, http.MethodPost, "/admin/events/7/broadcast", broadcastRequest{
		Subject: "Help tonight",
		Message: "Hi {{ name }}, can you help on {{ date }}? {{ link }}",
	}, boss)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp broadcastResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Sent)
	assert.Equal(t, "Broadcast sent to 1 volunteers.", resp.Message)

	rows := env.outbox.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "[MECWS] Help tonight", rows[0].Subject)
	assert.Contains(t, rows[0].BodyText, "Hi Vol One, can you help on January 05, 2026?")

	rr = env.do(t, http.MethodPost, "/admin/events/7/broadcast", broadcastRequest{Subject: "", Message: "x"}, boss)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignupNotifications(t *testing.T) {
	env := setupTestServer(t)

	rr := env.do(t, http.MethodPost, "/api/shifts/3/signup-notice", nil, env.login(t, volunteer))
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Len(t, env.outbox.All(), 2)

	rr = env.do(t, http.MethodPost, "/admin/shifts/3/signups/1/confirmed", nil, env.login(t, supervisor))
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Len(t, env.outbox.All(), 3)

	rr = env.do(t, http.MethodPost, "/api/shifts/404/signup-notice", nil, env.login(t, volunteer))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListEmailsRedactsSensitive(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/login", map[string]string{"email": "vol@example.org"}, nil)

	rr := env.do(t, http.MethodGet, "/admin/emails?status=pending", nil, env.login(t, supervisor))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp emailListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Emails, 1)
	assert.Empty(t, resp.Emails[0].BodyText)
	assert.NotContains(t, rr.Body.String(), "/login/")

	rr = env.do(t, http.MethodGet, "/admin/emails?status=bogus", nil, env.login(t, supervisor))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEmailStats(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/login", map[string]string{"email": "vol@example.org"}, nil)

	rr := env.do(t, http.MethodGet, "/admin/emails/stats", nil, env.login(t, supervisor))
	require.Equal(t, http.StatusOK, rr.Code)

	var counts map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts["pending"])
}

func TestHealthWithoutBackends(t *testing.T) {
	env := setupTestServer(t)

	rr := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "not_configured", status.Checks["database"].Status)
	assert.Equal(t, "up", status.Checks["outbox"].Status)

	rr = env.do(t, http.MethodGet, "/healthz/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, "healthy", overallStatus(map[string]ComponentCheck{"a": {Status: "up"}, "b": {Status: "not_configured"}}))
	assert.Equal(t, "degraded", overallStatus(map[string]ComponentCheck{"a": {Status: "up"}, "b": {Status: "degraded"}}))
	assert.Equal(t, "unhealthy", overallStatus(map[string]ComponentCheck{"a": {Status: "degraded"}, "b": {Status: "down"}}))
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	rr := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServerShutdownRacesStart(t *testing.T) {
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, CookieConfig{Name: cookieName}, Deps{})

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
