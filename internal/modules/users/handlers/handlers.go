// Package handlers provides the HTTP surface for user accounts.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/cache"
	"github.com/omerros/trackfolio/internal/domain"
	"github.com/omerros/trackfolio/internal/modules/users"
)

// Handler handles user HTTP requests.
type Handler struct {
	repo      *users.Repository
	userCache *cache.Store
	log       zerolog.Logger
}

// NewHandler creates a new user handler.
func NewHandler(repo *users.Repository, userCache *cache.Store, log zerolog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		userCache: userCache,
		log:       log.With().Str("handler", "users").Logger(),
	}
}

// HandleCreate handles POST /api/users.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string       `json:"email"`
		FirstName   string       `json:"firstName"`
		LastName    string       `json:"lastName"`
		OpeningCash domain.Money `json:"openingCash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Email == "" {
		h.writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	user, err := h.repo.Create(body.Email, body.FirstName, body.LastName, body.OpeningCash)
	if err != nil {
		h.log.Error().Err(err).Str("email", body.Email).Msg("Failed to create user")
		h.writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// HandleGetMe handles GET /api/users/me. Profile reads go through the user
// cache; the write path drops the entry whenever the cash balance changes.
func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	userID := userID(r)

	key := cache.UserKey(userID)
	if cached, ok := h.userCache.Get(key); ok {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	user, err := h.repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		h.writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	h.userCache.Set(key, user)
	h.writeJSON(w, http.StatusOK, user)
}

// HandleUpdateMe handles PUT /api/users/me. Only profile fields are
// writable; the cash balance moves exclusively through ledger operations.
func (h *Handler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := userID(r)

	var body struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.repo.UpdateProfile(userID, body.FirstName, body.LastName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to update profile")
		h.writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	h.userCache.Delete(cache.UserKey(userID))
	h.writeJSON(w, http.StatusOK, user)
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
