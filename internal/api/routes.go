package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Post("/turns", h.SubmitTurn)
			r.Post("/recall", h.Recall)

			r.Get("/entries/{id}", h.GetEntry)
			r.Get("/entries/{id}/note", h.GetEntryNote)

			r.Route("/tasks/note-updates", func(r chi.Router) {
				r.Get("/", h.ListNoteUpdateTasks)
				r.Get("/{id}", h.GetNoteUpdateTask)
				r.Post("/{id}/retry", h.RetryNoteUpdateTask)
			})
			r.Route("/tasks/entity-creations", func(r chi.Router) {
				r.Get("/", h.ListEntityCreationTasks)
				r.Get("/{id}", h.GetEntityCreationTask)
				r.Post("/{id}/retry", h.RetryEntityCreationTask)
			})
		})
	})

	return r
}
