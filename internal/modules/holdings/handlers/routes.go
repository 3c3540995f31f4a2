package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/", h.HandleGetPortfolio)
		r.Post("/sync", h.HandleSync)
		r.Post("/invalidate", h.HandleInvalidate)
		r.Put("/holdings/{ticker}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleUpdateAnnotation(w, r, chi.URLParam(r, "ticker"))
		})
	})
}
