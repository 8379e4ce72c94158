package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if h.deps.Health != nil {
		r.Get("/healthz", h.deps.Health.HandleHealth)
		r.Get("/healthz/ready", h.deps.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.loadSession)

		r.Post("/login", h.RequestLogin)
		r.Get("/login/{token}", h.RedeemLink)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/api/me", h.Me)
			r.Post("/api/shifts/{shiftID}/signup-notice", h.SignupNotice)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireSupervisor)
			r.Get("/events/{eventID}/broadcast", h.BroadcastDraft)
			r.Post("/events/{eventID}/broadcast", h.BroadcastSend)
			r.Post("/shifts/{shiftID}/signups/{userID}/confirmed", h.SignupConfirmed)
			r.Get("/emails", h.ListEmails)
			r.Get("/emails/stats", h.EmailStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return r
}
