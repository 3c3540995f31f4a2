package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerros/trackfolio/internal/domain"
	"github.com/omerros/trackfolio/internal/modules/holdings"
)

type fakeLedger struct {
	txns  []domain.Transaction
	calls int
}

func (f *fakeLedger) GetAllUnpaginated(userID string) ([]domain.Transaction, error) {
	f.calls++
	return f.txns, nil
}

type fakeQuotes struct {
	prices map[string]string
}

func (f *fakeQuotes) GetPriceAsync(ctx context.Context, symbol string) (domain.Money, error) {
	if p, ok := f.prices[symbol]; ok {
		return domain.MoneyFromString(p)
	}
	return domain.Money{}, fmt.Errorf("%w: no quote for %s", domain.ErrPriceUnavailable, symbol)
}

func setupTestRouter(t *testing.T, ledger *fakeLedger, quotes *fakeQuotes) chi.Router {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// in-memory sqlite is per-connection; the pool must stay at one
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE holdings (
			user_id        TEXT NOT NULL,
			ticker         TEXT NOT NULL,
			total_shares   INTEGER NOT NULL DEFAULT 0,
			average_price  TEXT NOT NULL DEFAULT '0.00',
			total_spent    TEXT NOT NULL DEFAULT '0.00',
			total_value    TEXT NOT NULL DEFAULT '0.00',
			last_price     TEXT NOT NULL DEFAULT '0.00',
			stop_loss      TEXT NOT NULL DEFAULT '0.00',
			entry_reason   TEXT NOT NULL DEFAULT '',
			last_synced_at INTEGER,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			PRIMARY KEY (user_id, ticker)
		);
	`)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	service := holdings.NewService(holdings.NewRepository(db, log), ledger, quotes, log)
	handler := NewHandler(service, log)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestHandleSync_SuppliedHoldings tests the payload form of the sync
// endpoint: supplied rows replace the projection without a ledger replay
func TestHandleSync_SuppliedHoldings(t *testing.T) {
	ledger := &fakeLedger{}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "150.00"}}
	router := setupTestRouter(t, ledger, quotes)

	rec := doRequest(t, router, http.MethodPost, "/portfolio/sync", `{"holdings": [
		{"ticker": "aapl", "totalShares": 5, "averagePrice": 120, "totalSpent": 600}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view holdings.PortfolioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Holdings, 1)
	assert.Equal(t, "AAPL", view.Holdings[0].Ticker)
	assert.Equal(t, "750.00", view.Holdings[0].TotalValue.String())
	assert.Equal(t, 0, ledger.calls, "payload sync must not replay the ledger")
}

// TestHandleSync_EmptyBodyForcesRecompute tests that the bodyless form still
// recomputes the projection from the ledger
func TestHandleSync_EmptyBodyForcesRecompute(t *testing.T) {
	ledger := &fakeLedger{}
	quotes := &fakeQuotes{}
	router := setupTestRouter(t, ledger, quotes)

	rec := doRequest(t, router, http.MethodPost, "/portfolio/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, ledger.calls)
}

// TestHandleSync_InvalidTicker tests payload validation
func TestHandleSync_InvalidTicker(t *testing.T) {
	router := setupTestRouter(t, &fakeLedger{}, &fakeQuotes{})

	rec := doRequest(t, router, http.MethodPost, "/portfolio/sync", `{"holdings": [
		{"ticker": "NOTATICKER", "totalShares": 5}
	]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleInvalidate_RequiresTickers tests the empty-payload rejection
func TestHandleInvalidate_RequiresTickers(t *testing.T) {
	router := setupTestRouter(t, &fakeLedger{}, &fakeQuotes{})

	rec := doRequest(t, router, http.MethodPost, "/portfolio/invalidate", `{"tickers": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
