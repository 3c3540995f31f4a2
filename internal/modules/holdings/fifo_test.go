package holdings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerros/trackfolio/internal/domain"
)

func fifoTxn(t *testing.T, ticker string, op domain.Operation, price string, shares int64, executedAt time.Time) domain.Transaction {
	t.Helper()
	p, err := domain.MoneyFromString(price)
	require.NoError(t, err)
	return domain.Transaction{
		Operation:  op,
		Ticker:     ticker,
		Price:      p,
		Shares:     shares,
		ExecutedAt: executedAt,
	}
}

// TestComputeFIFO_SellConsumesOldestLotsFirst tests that a sell removes cost
// basis from the earliest buys: buy 10@100, buy 10@120, sell 15 leaves
// 5 shares with the $120 basis
func TestComputeFIFO_SellConsumesOldestLotsFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 10, base),
		fifoTxn(t, "AAPL", domain.OperationBuy, "120.00", 10, base.Add(time.Hour)),
		fifoTxn(t, "AAPL", domain.OperationSell, "130.00", 15, base.Add(2*time.Hour)),
	}

	result := ComputeFIFO(txns)
	require.Len(t, result, 1)

	h := result[0]
	assert.Equal(t, "AAPL", h.Ticker)
	assert.EqualValues(t, 5, h.TotalShares)
	// Removed basis: 10@100 + 5@120 = 1600, leaving 5 shares at 120.
	assert.Equal(t, "600.00", h.TotalSpent.String())
	assert.Equal(t, "120.00", h.AveragePrice.String())
}

// TestComputeFIFO_OrdersByExecutedAt tests that insertion order does not
// matter, only execution time
func TestComputeFIFO_OrdersByExecutedAt(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationSell, "130.00", 15, base.Add(2*time.Hour)),
		fifoTxn(t, "AAPL", domain.OperationBuy, "120.00", 10, base.Add(time.Hour)),
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 10, base),
	}

	result := ComputeFIFO(txns)
	require.Len(t, result, 1)
	assert.EqualValues(t, 5, result[0].TotalShares)
	assert.Equal(t, "600.00", result[0].TotalSpent.String())
}

// TestComputeFIFO_SoldOutPositionsExcluded tests that tickers ending at or
// below zero shares do not appear in the result
func TestComputeFIFO_SoldOutPositionsExcluded(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		fifoTxn(t, "MSFT", domain.OperationBuy, "300.00", 5, base),
		fifoTxn(t, "MSFT", domain.OperationSell, "310.00", 5, base.Add(time.Hour)),
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 3, base),
	}

	result := ComputeFIFO(txns)
	require.Len(t, result, 1)
	assert.Equal(t, "AAPL", result[0].Ticker)
}

// TestComputeFIFO_OversellCarriesNoBasis tests that selling more shares than
// the lots hold consumes everything available and the surplus removes nothing
func TestComputeFIFO_OversellCarriesNoBasis(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		fifoTxn(t, "TSLA", domain.OperationBuy, "10.00", 5, base),
		fifoTxn(t, "TSLA", domain.OperationSell, "12.00", 6, base.Add(time.Hour)),
		fifoTxn(t, "TSLA", domain.OperationBuy, "20.00", 4, base.Add(2*time.Hour)),
	}

	result := ComputeFIFO(txns)
	require.Len(t, result, 1)

	h := result[0]
	// 5 - 6 + 4 = 3 shares; basis = 50 - 50 + 80 = 80.
	assert.EqualValues(t, 3, h.TotalShares)
	assert.Equal(t, "80.00", h.TotalSpent.String())
	assert.Equal(t, "26.67", h.AveragePrice.String())
}

// TestComputeFIFO_MultipleTickersIndependent tests per-ticker isolation
func TestComputeFIFO_MultipleTickersIndependent(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		fifoTxn(t, "AAPL", domain.OperationBuy, "100.00", 10, base),
		fifoTxn(t, "MSFT", domain.OperationBuy, "300.00", 2, base.Add(time.Minute)),
		fifoTxn(t, "AAPL", domain.OperationSell, "110.00", 4, base.Add(time.Hour)),
	}

	result := ComputeFIFO(txns)
	require.Len(t, result, 2)

	byTicker := make(map[string]domain.ComputedHolding)
	for _, h := range result {
		byTicker[h.Ticker] = h
	}
	assert.EqualValues(t, 6, byTicker["AAPL"].TotalShares)
	assert.Equal(t, "600.00", byTicker["AAPL"].TotalSpent.String())
	assert.EqualValues(t, 2, byTicker["MSFT"].TotalShares)
	assert.Equal(t, "600.00", byTicker["MSFT"].TotalSpent.String())
}

// TestComputeFIFO_EmptyLedger tests the trivial case
func TestComputeFIFO_EmptyLedger(t *testing.T) {
	assert.Empty(t, ComputeFIFO(nil))
}
