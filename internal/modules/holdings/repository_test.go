package holdings

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerros/trackfolio/internal/domain"
)

func setupTestDB(t *testing.T) *sql.DB {
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
	return db
}

func money(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(s)
	require.NoError(t, err)
	return m
}

func computed(t *testing.T, ticker string, shares int64, avg, spent, value, price string) domain.ComputedHolding {
	t.Helper()
	return domain.ComputedHolding{
		Ticker:       ticker,
		TotalShares:  shares,
		AveragePrice: money(t, avg),
		TotalSpent:   money(t, spent),
		TotalValue:   money(t, value),
		LastPrice:    money(t, price),
	}
}

// TestSync_UpsertsAndStampsFresh tests that synced rows come back with a
// sync timestamp set
func TestSync_UpsertsAndStampsFresh(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	rows, err := repo.Sync("user-1", []domain.ComputedHolding{
		computed(t, "AAPL", 5, "120.00", "600.00", "650.00", "130.00"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	h := rows[0]
	assert.Equal(t, "AAPL", h.Ticker)
	assert.EqualValues(t, 5, h.TotalShares)
	assert.Equal(t, "600.00", h.TotalSpent.String())
	assert.NotNil(t, h.LastSyncedAt, "synced rows must carry a sync timestamp")
}

// TestSync_PreservesAnnotations tests that stop loss and entry reason
// survive a resync
func TestSync_PreservesAnnotations(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := repo.UpdateAnnotation("user-1", "AAPL", money(t, "95.00"), "breakout entry")
	require.NoError(t, err)

	rows, err := repo.Sync("user-1", []domain.ComputedHolding{
		computed(t, "AAPL", 5, "120.00", "600.00", "650.00", "130.00"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "95.00", rows[0].StopLoss.String())
	assert.Equal(t, "breakout entry", rows[0].EntryReason)
	assert.EqualValues(t, 5, rows[0].TotalShares)
}

// TestSync_ZeroesSoldOutRows tests that tickers absent from the computed set
// are zeroed and stamped synced, so the staleness gate does not loop on them
func TestSync_ZeroesSoldOutRows(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := repo.Sync("user-1", []domain.ComputedHolding{
		computed(t, "AAPL", 5, "120.00", "600.00", "650.00", "130.00"),
		computed(t, "MSFT", 2, "300.00", "600.00", "610.00", "305.00"),
	})
	require.NoError(t, err)

	// MSFT fully sold: next sync only carries AAPL.
	rows, err := repo.Sync("user-1", []domain.ComputedHolding{
		computed(t, "AAPL", 5, "120.00", "600.00", "650.00", "130.00"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byTicker := make(map[string]domain.Holding)
	for _, h := range rows {
		byTicker[h.Ticker] = h
	}
	assert.EqualValues(t, 0, byTicker["MSFT"].TotalShares)
	assert.Equal(t, "0.00", byTicker["MSFT"].TotalSpent.String())
	assert.NotNil(t, byTicker["MSFT"].LastSyncedAt, "zeroed rows must still be stamped synced")
	assert.EqualValues(t, 5, byTicker["AAPL"].TotalShares)
}

// TestInvalidate_MarksStale tests the NULL sync-timestamp staleness flag
func TestInvalidate_MarksStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := repo.Sync("user-1", []domain.ComputedHolding{
		computed(t, "AAPL", 5, "120.00", "600.00", "650.00", "130.00"),
		computed(t, "MSFT", 2, "300.00", "600.00", "610.00", "305.00"),
	})
	require.NoError(t, err)

	require.NoError(t, repo.Invalidate("user-1", []string{"aapl"}))

	rows, err := repo.GetByUser("user-1")
	require.NoError(t, err)

	byTicker := make(map[string]domain.Holding)
	for _, h := range rows {
		byTicker[h.Ticker] = h
	}
	assert.Nil(t, byTicker["AAPL"].LastSyncedAt)
	assert.NotNil(t, byTicker["MSFT"].LastSyncedAt)
}

// TestInvalidate_MissingTickersNoOp tests idempotence when nothing matches
func TestInvalidate_MissingTickersNoOp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	assert.NoError(t, repo.Invalidate("user-1", []string{"GONE"}))
	assert.NoError(t, repo.Invalidate("user-1", nil))
}

// TestUpdateAnnotation_CreatesRowWhenAbsent tests annotating a ticker before
// any ledger transaction exists for it
func TestUpdateAnnotation_CreatesRowWhenAbsent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	h, err := repo.UpdateAnnotation("user-1", "nvda", money(t, "800.00"), "earnings play")
	require.NoError(t, err)

	assert.Equal(t, "NVDA", h.Ticker)
	assert.Equal(t, "800.00", h.StopLoss.String())
	assert.Equal(t, "earnings play", h.EntryReason)
	assert.EqualValues(t, 0, h.TotalShares)
	assert.Nil(t, h.LastSyncedAt, "a row created by annotation alone is not synced")
}
