// Package httptransport exposes the ingest API: submissions and member-join
// events are accepted, validated, and enqueued onto the serialized worker;
// exports and health are served directly.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all public endpoints. Ingest and admin routes require a
// bearer token; health and metrics do not.
func NewRouter(h *Handler, admin *AdminHandler, verifier *TokenVerifier, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(verifier, logger))
		r.Post("/v1/verifications", h.handleSubmit)
		r.Post("/v1/events/member-join", h.handleMemberJoin)
		r.Get("/v1/export", h.handleExport)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Post("/unverify", admin.handleUnverify)
			r.Post("/ipbans", admin.handleBanIP)
			r.Delete("/ipbans/{ip}", admin.handleUnbanIP)
			r.Get("/settings", admin.handleListSettings)
			r.Put("/settings/{key}", admin.handleSetSetting)
			r.Put("/blacklist/{userID}", admin.handleBlacklistAdd)
			r.Delete("/blacklist/{userID}", admin.handleBlacklistRemove)
			r.Put("/whitelist/{userID}", admin.handleWhitelistAdd)
			r.Delete("/whitelist/{userID}", admin.handleWhitelistRemove)
		})
	})

	return r
}
