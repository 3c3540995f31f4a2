package holdings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerros/trackfolio/internal/domain"
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

func setupService(t *testing.T, ledger *fakeLedger, quotes *fakeQuotes) (*Service, *Repository) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(setupTestDB(t), log)
	return NewService(repo, ledger, quotes, log), repo
}

// TestPortfolio_RecomputesWhenEmpty tests the cold-start path: no stored
// rows forces a full ledger replay with live valuation
func TestPortfolio_RecomputesWhenEmpty(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 10, base),
		fifoTxn(t, "AAPL", domain.OperationBuy, "120.00", 10, base.Add(time.Hour)),
		fifoTxn(t, "AAPL", domain.OperationSell, "130.00", 15, base.Add(2*time.Hour)),
	}}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "150.00"}}
	svc, _ := setupService(t, ledger, quotes)

	view, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)

	assert.True(t, view.Recomputed)
	assert.Equal(t, 1, ledger.calls)
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	assert.EqualValues(t, 5, h.TotalShares)
	assert.Equal(t, "600.00", h.TotalSpent.String())
	assert.Equal(t, "150.00", h.LastPrice.String())
	assert.Equal(t, "750.00", h.TotalValue.String())
	assert.Equal(t, "150.00", h.UnrealizedPL.String())
	assert.InDelta(t, 25.0, h.UnrealizedPLPercent, 0.001)
	assert.False(t, h.PriceStale)
}

// TestPortfolio_ServesFreshWithoutRecompute tests that an all-fresh
// projection is served as stored
func TestPortfolio_ServesFreshWithoutRecompute(t *testing.T) {
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 5, time.Now().Add(-time.Hour)),
	}}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "110.00"}}
	svc, _ := setupService(t, ledger, quotes)

	// First read computes and stores.
	_, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, ledger.calls)

	// Second read must be served from the stored projection.
	view, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, view.Recomputed)
	assert.Equal(t, 1, ledger.calls, "fresh rows must not trigger another ledger replay")
}

// TestPortfolio_OneStaleRowRecomputesEverything tests the all-or-nothing
// staleness gate
func TestPortfolio_OneStaleRowRecomputesEverything(t *testing.T) {
	base := time.Now().Add(-2 * time.Hour)
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 5, base),
		fifoTxn(t, "MSFT", domain.OperationBuy, "300.00", 2, base.Add(time.Minute)),
	}}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "110.00", "MSFT": "310.00"}}
	svc, repo := setupService(t, ledger, quotes)

	_, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, ledger.calls)

	// Staling a single ticker forces the whole projection through recompute.
	require.NoError(t, repo.Invalidate("user-1", []string{"AAPL"}))

	view, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, view.Recomputed)
	assert.Equal(t, 2, ledger.calls)
	for _, h := range view.Holdings {
		assert.NotNil(t, h.LastSyncedAt, "every row must be fresh after the gate fires")
	}
}

// TestPortfolio_PriceUnavailableFallsBackToStored tests that a failed quote
// keeps the last stored price instead of valuing the position at zero
func TestPortfolio_PriceUnavailableFallsBackToStored(t *testing.T) {
	base := time.Now().Add(-2 * time.Hour)
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 5, base),
	}}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "110.00"}}
	svc, repo := setupService(t, ledger, quotes)

	_, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)

	// The feed goes dark, then the projection is invalidated.
	quotes.prices = map[string]string{}
	require.NoError(t, repo.Invalidate("user-1", []string{"AAPL"}))

	view, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	assert.Equal(t, "110.00", h.LastPrice.String(), "must fall back to the last stored price")
	assert.Equal(t, "550.00", h.TotalValue.String())
	assert.False(t, h.PriceStale)
}

// TestPortfolio_NoPriceAnywhereValuesZeroButFlagsIt tests a position that
// has never had a quote
func TestPortfolio_NoPriceAnywhereValuesZeroButFlagsIt(t *testing.T) {
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 5, time.Now().Add(-time.Hour)),
	}}
	svc, _ := setupService(t, ledger, &fakeQuotes{})

	view, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	assert.True(t, h.PriceStale)
	assert.Equal(t, "0.00", h.TotalValue.String())
	// Cost basis stays correct even without a valuation.
	assert.Equal(t, "500.00", h.TotalSpent.String())
}

// TestPortfolio_RiskMetrics tests the stop-loss derived risk numbers
func TestPortfolio_RiskMetrics(t *testing.T) {
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 10, time.Now().Add(-time.Hour)),
	}}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "120.00"}}
	svc, repo := setupService(t, ledger, quotes)

	_, err := repo.UpdateAnnotation("user-1", "AAPL", money(t, "90.00"), "")
	require.NoError(t, err)

	view, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	// Exposure above the stop: 10*120 - 10*90 = 300.
	assert.Equal(t, "300.00", h.RiskDollar.String())
	assert.InDelta(t, 25.0, h.RiskPercent, 0.001)
	assert.InDelta(t, 100.0, h.TotalPercent, 0.001)
}

// TestForceSync_IgnoresFreshness tests the explicit sync endpoint behavior
func TestForceSync_IgnoresFreshness(t *testing.T) {
	ledger := &fakeLedger{txns: []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 5, time.Now().Add(-time.Hour)),
	}}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "110.00"}}
	svc, _ := setupService(t, ledger, quotes)

	_, err := svc.Portfolio(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, ledger.calls)

	view, err := svc.ForceSync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, view.Recomputed)
	assert.Equal(t, 2, ledger.calls, "force sync replays the ledger even when rows are fresh")
}

// TestSync_SuppliedRows tests the payload sync path: externally computed
// rows replace the projection without a ledger replay, annotations survive
func TestSync_SuppliedRows(t *testing.T) {
	ledger := &fakeLedger{}
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "150.00"}}
	svc, repo := setupService(t, ledger, quotes)

	_, err := repo.UpdateAnnotation("user-1", "AAPL", money(t, "90.00"), "breakout")
	require.NoError(t, err)

	view, err := svc.Sync(context.Background(), "user-1", []domain.ComputedHolding{
		computed(t, "AAPL", 5, "120.00", "600.00", "0.00", "0.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, ledger.calls, "supplied rows must not trigger a ledger replay")
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	assert.EqualValues(t, 5, h.TotalShares)
	assert.Equal(t, "150.00", h.LastPrice.String(), "zero-price input is valued with a live quote")
	assert.Equal(t, "750.00", h.TotalValue.String())
	assert.Equal(t, "90.00", h.StopLoss.String(), "annotations survive a payload sync")
	assert.Equal(t, "breakout", h.EntryReason)

	stored, err := repo.GetByUser("user-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotNil(t, stored[0].LastSyncedAt)
}
