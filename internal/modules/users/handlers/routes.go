package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterPublicRoutes registers the account-creation route, which runs
// before any caller identity exists.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/users", h.HandleCreate)
}

// RegisterRoutes registers the identity-scoped user routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/me", h.HandleGetMe)
		r.Put("/me", h.HandleUpdateMe)
	})
}
