package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/cache"
	"github.com/omerros/trackfolio/internal/pricefeed"
)

// SystemHandlers serves operational diagnostics: cache effectiveness and
// price feed connection state.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	caches      []*cache.Store
	prices      *pricefeed.Client
}

// NewSystemHandlers creates the diagnostics handlers.
func NewSystemHandlers(log zerolog.Logger, prices *pricefeed.Client, caches ...*cache.Store) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		caches:      caches,
		prices:      prices,
	}
}

// RegisterRoutes registers all system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/cache", h.HandleCacheStats)
		r.Get("/pricefeed", h.HandlePricefeedStatus)
		r.Post("/pricefeed/connect", h.HandlePricefeedConnect)
		r.Post("/pricefeed/disconnect", h.HandlePricefeedDisconnect)
	})
}

// HandleCacheStats handles GET /api/system/cache
func (h *SystemHandlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]cache.Stats, 0, len(h.caches))
	for _, c := range h.caches {
		stats = append(stats, c.Stats())
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"caches":        stats,
		"uptimeSeconds": int(time.Since(h.startupTime).Seconds()),
	})
}

// HandlePricefeedStatus handles GET /api/system/pricefeed
func (h *SystemHandlers) HandlePricefeedStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.prices.Status())
}

// HandlePricefeedConnect handles POST /api/system/pricefeed/connect. The
// stream never reconnects on its own after a drop; this is the external
// trigger that re-establishes it.
func (h *SystemHandlers) HandlePricefeedConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := h.prices.Connect(ctx); err != nil {
		h.log.Error().Err(err).Msg("Price feed connect failed")
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": "Failed to connect price feed",
			"state": h.prices.State(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, h.prices.Status())
}

// HandlePricefeedDisconnect handles POST /api/system/pricefeed/disconnect
func (h *SystemHandlers) HandlePricefeedDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.prices.Disconnect(); err != nil {
		h.log.Error().Err(err).Msg("Price feed disconnect failed")
	}
	h.writeJSON(w, http.StatusOK, h.prices.Status())
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
