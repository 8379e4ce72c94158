package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/links"
	"github.com/mecws/shelter-ops/internal/pkg/httputil"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"github.com/mecws/shelter-ops/internal/service/broadcast"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
	"github.com/mecws/shelter-ops/internal/service/notify"
	"github.com/mecws/shelter-ops/internal/service/outbox"
)

// DashboardPath is where a redeemed link lands without a next parameter.
const DashboardPath = "/dashboard"

// Handlers contains all HTTP handlers.
type Handlers struct {
	deps   Deps
	cookie CookieConfig
}

type loginRequest struct {
	Email string `json:"email"`
}

// RequestLogin queues a login link. The response never reveals whether the
// address is registered.
//
//	POST /login
func (h *Handlers) RequestLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	if err := h.deps.Auth.RequestLogin(r.Context(), req.Email); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, magiclink.RequestedMessage)
}

// RedeemLink consumes a magic link and starts a session.
//
//	GET /login/{token}?next=/shifts
func (h *Handlers) RedeemLink(w http.ResponseWriter, r *http.Request) {
	sess, err := h.deps.Auth.Redeem(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if magiclink.IsDenied(err) {
			httputil.ErrorCode(w, http.StatusUnauthorized, "link_denied", magiclink.DeniedMessage)
			return
		}
		httputil.InternalError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	dest := links.SafeNext(r.URL.Query().Get("next"))
	if dest == "" {
		dest = DashboardPath
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

// Logout destroys the current session.
//
//	POST /logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if s := SessionFrom(r.Context()); s != nil {
		if err := h.deps.Sessions.Delete(r.Context(), s.ID); err != nil {
			logger.Warn("session delete failed", "component", "API", "error", err.Error())
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   h.cookie.Name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	httputil.NoContent(w)
}

// Me returns the current session.
//
//	GET /api/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, SessionFrom(r.Context()))
}

// BroadcastDraft returns the default subject and message for an event.
//
//	GET /admin/events/{eventID}/broadcast
func (h *Handlers) BroadcastDraft(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	draft, err := h.deps.Broadcast.Draft(r.Context(), eventID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	httputil.OK(w, draft)
}

type broadcastRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type broadcastResponse struct {
	Sent    int    `json:"sent"`
	Message string `json:"message"`
}

// BroadcastSend queues one personalized email per eligible volunteer.
//
//	POST /admin/events/{eventID}/broadcast
func (h *Handlers) BroadcastSend(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req broadcastRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	n, err := h.deps.Broadcast.Broadcast(r.Context(), broadcast.Request{
		EventID: eventID,
		Subject: req.Subject,
		Message: req.Message,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	httputil.OK(w, broadcastResponse{
		Sent:    n,
		Message: fmt.Sprintf("Broadcast sent to %d volunteers.", n),
	})
}

// SignupNotice tells supervisors the caller signed up for a shift.
//
//	POST /api/shifts/{shiftID}/signup-notice
func (h *Handlers) SignupNotice(w http.ResponseWriter, r *http.Request) {
	shiftID, ok := pathID(w, r, "shiftID")
	if !ok {
		return
	}
	if err := h.deps.Notify.SignupRequested(r.Context(), SessionFrom(r.Context()).UserID, shiftID); err != nil {
		h.serviceError(w, err)
		return
	}
	httputil.Accepted(w, "Signup submitted. A supervisor will confirm your spot.")
}

// SignupConfirmed tells a volunteer their signup was approved.
//
//	POST /admin/shifts/{shiftID}/signups/{userID}/confirmed
func (h *Handlers) SignupConfirmed(w http.ResponseWriter, r *http.Request) {
	shiftID, ok := pathID(w, r, "shiftID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.deps.Notify.SignupConfirmed(r.Context(), userID, shiftID); err != nil {
		h.serviceError(w, err)
		return
	}
	httputil.Accepted(w, "Confirmation queued.")
}

type emailListResponse struct {
	Emails []domain.Email `json:"emails"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListEmails pages through the outbox, newest first.
//
//	GET /admin/emails?status=failed&limit=50&offset=0
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	f := outbox.ListFilter{
		Status: domain.EmailStatus(r.URL.Query().Get("status")),
		Limit:  httputil.QueryInt(r, "limit", 50),
		Offset: httputil.QueryInt(r, "offset", 0),
	}
	emails, total, err := h.deps.Ledger.List(r.Context(), f)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if emails == nil {
		emails = []domain.Email{}
	}
	httputil.OK(w, emailListResponse{Emails: emails, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// EmailStats returns row counts per status.
//
//	GET /admin/emails/stats
func (h *Handlers) EmailStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.deps.Ledger.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, counts)
}

// serviceError maps service sentinels onto HTTP statuses.
func (h *Handlers) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broadcast.ErrEventNotFound),
		errors.Is(err, notify.ErrShiftNotFound),
		errors.Is(err, magiclink.ErrUserNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, broadcast.ErrInvalidRequest),
		errors.Is(err, outbox.ErrInvalidMessage):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}
