// Package handlers provides the HTTP surface for ledger operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/cache"
	"github.com/omerros/trackfolio/internal/domain"
	"github.com/omerros/trackfolio/internal/modules/balance"
	"github.com/omerros/trackfolio/internal/modules/ledger"
	"github.com/omerros/trackfolio/internal/pricefeed"
)

// HoldingsLister reports the user's current holdings, used to resolve which
// symbols a portfolio-wide price subscription covers.
type HoldingsLister interface {
	Get(userID string) ([]domain.Holding, error)
}

// Handler handles transaction ledger HTTP requests.
type Handler struct {
	coordinator *balance.Coordinator
	repo        *ledger.Repository
	holdings    HoldingsLister
	prices      *pricefeed.Client
	listCache   *cache.Store
	log         zerolog.Logger
}

// NewHandler creates a new ledger handler.
func NewHandler(
	coordinator *balance.Coordinator,
	repo *ledger.Repository,
	holdings HoldingsLister,
	prices *pricefeed.Client,
	listCache *cache.Store,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		coordinator: coordinator,
		repo:        repo,
		holdings:    holdings,
		prices:      prices,
		listCache:   listCache,
		log:         log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleList handles GET /api/transactions. List reads go through the
// per-user cache; each distinct filter/sort/page combination caches
// independently under the user's key prefix.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := userID(r)
	query := parseListQuery(r)

	key := cache.TransactionsPrefix(userID) + ":" + query.CacheSuffix()
	if cached, ok := h.listCache.Get(key); ok {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	result, err := h.repo.List(userID, query)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list transactions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	h.listCache.Set(key, result)
	h.writeJSON(w, http.StatusOK, result)
}

// HandleCreate handles POST /api/transactions.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID := userID(r)

	var cmd balance.NewTransaction
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.coordinator.Apply(userID, cmd)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// HandleBatch handles POST /api/transactions/batch. The batch commits as a
// single atomic unit: one invalid item rejects the whole request.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	userID := userID(r)

	var body struct {
		Transactions []balance.NewTransaction `json:"transactions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txns, cashDelta, err := h.coordinator.ApplyBatch(userID, body.Transactions)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
		"cashDelta":    cashDelta,
	})
}

// HandleGetAll handles GET /api/transactions/all. Returns the full ledger in
// execution order, capped to a bounded row count.
func (h *Handler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	userID := userID(r)

	txns, err := h.repo.GetAllUnpaginated(userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load full ledger")
		h.writeError(w, http.StatusInternalServerError, "Failed to load transactions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  txns,
		"count": len(txns),
	})
}

// HandleGetByID handles GET /api/transactions/{id}.
func (h *Handler) HandleGetByID(w http.ResponseWriter, r *http.Request, id string) {
	txn, err := h.repo.GetByID(userID(r), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txn)
}

// HandleUpdate handles PUT /api/transactions/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var patch balance.UpdatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.coordinator.Update(userID(r), id, patch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txn)
}

// HandleDelete handles DELETE /api/transactions/{id}. Deleting reverses the
// transaction's cash effect in the same atomic unit.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.coordinator.Reverse(userID(r), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
		"id":      id,
	})
}

// HandleGetPrice handles GET /api/transactions/prices/{symbol}. Resolves
// from the streaming cache first, then the REST fallback.
func (h *Handler) HandleGetPrice(w http.ResponseWriter, r *http.Request, symbol string) {
	symbol = domain.NormalizeTicker(symbol)
	if !domain.ValidTicker(symbol) {
		h.writeError(w, http.StatusBadRequest, "Invalid ticker symbol")
		return
	}

	price, err := h.prices.GetPriceAsync(r.Context(), symbol)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	})
}

// HandleSubscribePortfolio handles POST /api/transactions/prices/subscribe-portfolio.
// Subscribes the price stream to every symbol the user currently holds.
func (h *Handler) HandleSubscribePortfolio(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.holdings.Get(userID(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load holdings for subscription")
		h.writeError(w, http.StatusInternalServerError, "Failed to load holdings")
		return
	}

	symbols := make([]string, 0, len(holdings))
	for _, holding := range holdings {
		symbols = append(symbols, holding.Ticker)
	}
	h.prices.Subscribe(symbols)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscribed":  symbols,
		"streamState": h.prices.State(),
	})
}

// parseListQuery extracts filter, sort and pagination parameters. Invalid
// values fall back to defaults rather than erroring.
func parseListQuery(r *http.Request) ledger.ListQuery {
	q := r.URL.Query()
	query := ledger.ListQuery{
		Ticker:    q.Get("ticker"),
		Operation: q.Get("operation"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		query.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		query.PageSize = limit
	}
	if start, err := parseDate(q.Get("startDate")); err == nil {
		query.StartDate = &start
	}
	if end, err := parseDate(q.Get("endDate")); err == nil {
		query.EndDate = &end
	}
	return query
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// userID reads the caller identity set by the upstream verifier. The server
// middleware rejects requests without it before handlers run.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// writeDomainError maps domain sentinel errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPriceUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Price unavailable")
	case errors.Is(err, domain.ErrAtomicWriteAborted):
		h.log.Error().Err(err).Msg("Atomic write aborted")
		h.writeError(w, http.StatusInternalServerError, "Transaction aborted, no changes applied")
	default:
		h.log.Error().Err(err).Msg("Unexpected handler error")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
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
