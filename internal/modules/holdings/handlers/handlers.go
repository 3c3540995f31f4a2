// Package handlers provides the HTTP surface for portfolio holdings.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/domain"
	"github.com/omerros/trackfolio/internal/modules/holdings"
)

// Handler handles portfolio HTTP requests.
type Handler struct {
	service *holdings.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler.
func NewHandler(service *holdings.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetPortfolio handles GET /api/portfolio. If any stored holding is
// stale the whole projection is recomputed before responding, so the view is
// never a mix of fresh and stale rows.
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Portfolio(r.Context(), userID(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build portfolio view")
		h.writeError(w, http.StatusInternalServerError, "Failed to load portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleSync handles POST /api/portfolio/sync. With a holdings payload the
// supplied rows replace the stored projection; with an empty body the
// projection is recomputed from the ledger even if no holding is marked
// stale.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Holdings []domain.ComputedHolding `json:"holdings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(body.Holdings) == 0 {
		view, err := h.service.ForceSync(r.Context(), userID(r))
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to sync portfolio")
			h.writeError(w, http.StatusInternalServerError, "Failed to sync portfolio")
			return
		}
		h.writeJSON(w, http.StatusOK, view)
		return
	}

	for i, ch := range body.Holdings {
		ticker := domain.NormalizeTicker(ch.Ticker)
		if !domain.ValidTicker(ticker) {
			h.writeError(w, http.StatusBadRequest, "Invalid ticker symbol in holdings")
			return
		}
		if ch.TotalShares < 0 {
			h.writeError(w, http.StatusBadRequest, "Share counts must not be negative")
			return
		}
		body.Holdings[i].Ticker = ticker
	}

	view, err := h.service.Sync(r.Context(), userID(r), body.Holdings)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to sync supplied holdings")
		h.writeError(w, http.StatusInternalServerError, "Failed to sync portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleInvalidate handles POST /api/portfolio/invalidate. Marks the given
// tickers stale; the next portfolio read recomputes.
func (h *Handler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tickers []string `json:"tickers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.Tickers) == 0 {
		h.writeError(w, http.StatusBadRequest, "At least one ticker is required")
		return
	}

	for i, t := range body.Tickers {
		body.Tickers[i] = domain.NormalizeTicker(t)
	}
	if err := h.service.Invalidate(userID(r), body.Tickers); err != nil {
		h.log.Error().Err(err).Msg("Failed to invalidate holdings")
		h.writeError(w, http.StatusInternalServerError, "Failed to invalidate holdings")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"invalidated": body.Tickers,
	})
}

// HandleUpdateAnnotation handles PUT /api/portfolio/holdings/{ticker}. Only
// the user annotations are writable this way; share counts and cost basis
// always come from the ledger.
func (h *Handler) HandleUpdateAnnotation(w http.ResponseWriter, r *http.Request, ticker string) {
	ticker = domain.NormalizeTicker(ticker)
	if !domain.ValidTicker(ticker) {
		h.writeError(w, http.StatusBadRequest, "Invalid ticker symbol")
		return
	}

	var body struct {
		StopLoss    domain.Money `json:"stopLoss"`
		EntryReason string       `json:"entryReason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	holding, err := h.service.UpdateAnnotation(userID(r), ticker, body.StopLoss, body.EntryReason)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Holding not found")
			return
		}
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to update annotation")
		h.writeError(w, http.StatusInternalServerError, "Failed to update holding")
		return
	}
	h.writeJSON(w, http.StatusOK, holding)
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
