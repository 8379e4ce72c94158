package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/mecws/shelter-ops/internal/pkg/httputil"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"github.com/mecws/shelter-ops/internal/session"
)

// SessionContextKey is the key for the authenticated session.
type SessionContextKey struct{}

// SessionFrom returns the session attached by loadSession, or nil.
func SessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(SessionContextKey{}).(*session.Session)
	return s
}

// loadSession resolves the session cookie. A missing or stale cookie leaves
// the request anonymous.
func (h *Handlers) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(h.cookie.Name)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		s, err := h.deps.Sessions.Get(r.Context(), c.Value)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				logger.Warn("session lookup failed", "component", "API", "error", err.Error())
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), SessionContextKey{}, s)))
	})
}

func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFrom(r.Context()) == nil {
			httputil.Unauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireSupervisor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := SessionFrom(r.Context())
		if s == nil {
			httputil.Unauthorized(w, "unauthorized")
			return
		}
		if !s.IsSupervisor() {
			httputil.Forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
