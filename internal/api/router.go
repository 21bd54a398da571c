package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, reloader Reloader, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, reloader)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/observers", h.ListObservers)
	r.Post("/sync", h.Sync)
	r.Get("/notes/*", h.GetNote)
	r.Post("/scripts/reload", h.ReloadScripts)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
