package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/perthro/internal/scriptservice"
	"github.com/starford/perthro/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// ws may be nil when no workspace is configured.
func NewRouter(svc *scriptservice.Service, ws *workspace.FS, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, ws)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/scripts/{owner}/{script}", func(r chi.Router) {
		r.Get("/content", h.LoadContent)
		r.Post("/checkout", h.Checkout)
		r.Get("/checkpoint", h.LastCheckpoint)
		r.Post("/publish", h.Publish)

		r.Get("/versions", h.History)
		r.Post("/versions", h.SaveVersion)
		r.Delete("/versions", h.ResetHistory)

		r.Delete("/", h.PurgeHistory)
	})

	r.Delete("/versions/{id}", h.DeleteVersion)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
