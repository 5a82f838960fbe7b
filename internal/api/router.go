package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mono/internal/editor"
	"github.com/starford/mono/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// trigger requests a background sync pass.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, sessions *editor.Sessions, trigger func(), authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, sessions, trigger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/last-opened", h.LastOpened)

	r.Route("/notes/{id}", func(r chi.Router) {
		r.Get("/", h.GetNote)
		r.Delete("/", h.DeleteNote)
		r.Post("/open", h.OpenNote)
		r.Put("/content", h.EditContent)
		r.Put("/cursor", h.MoveCursor)
		r.Put("/name", h.RenameNote)
		r.Get("/markdown", h.GetMarkdown)
		r.Put("/markdown", h.PutMarkdown)
		r.Get("/html", h.GetHTML)
	})

	r.Get("/sync", h.SyncStatus)
	r.Post("/sync", h.Sync)
	r.Delete("/remote/authorization", h.Deauthorize)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
