// Package holdings maintains the denormalized per-(user, ticker) projection
// derived from the ledger, including its staleness flag and FIFO recompute.
package holdings

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/database"
	"github.com/omerros/trackfolio/internal/domain"
)

const holdingColumns = `user_id, ticker, total_shares, average_price, total_spent, total_value, last_price, stop_loss, entry_reason, last_synced_at, created_at, updated_at`

// Repository handles holding database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new holdings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "holdings").Logger(),
	}
}

// GetByUser returns all holding rows for a user, fresh or stale.
func (r *Repository) GetByUser(userID string) ([]domain.Holding, error) {
	rows, err := r.db.Query(
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = ? ORDER BY ticker ASC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// Invalidate marks the given tickers' rows stale by nulling last_synced_at.
// Missing rows are an idempotent no-op.
func (r *Repository) Invalidate(userID string, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(tickers))
	args := []interface{}{time.Now().Unix(), userID}
	for _, ticker := range tickers {
		placeholders = append(placeholders, "?")
		args = append(args, domain.NormalizeTicker(ticker))
	}

	res, err := r.db.Exec(
		"UPDATE holdings SET last_synced_at = NULL, updated_at = ? WHERE user_id = ? AND ticker IN ("+
			strings.Join(placeholders, ", ")+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate holdings: %w", err)
	}

	affected, _ := res.RowsAffected()
	r.log.Debug().
		Str("user_id", userID).
		Strs("tickers", tickers).
		Int64("invalidated", affected).
		Msg("Holdings invalidated")
	return nil
}

// Sync upserts the computed holdings and stamps them freshly synced.
// User annotations (stop_loss, entry_reason) are deliberately absent from
// the update list so they survive every resync. Rows for tickers the user
// no longer holds are zeroed, not deleted, and also stamped synced so the
// staleness gate does not retrigger on them forever.
func (r *Repository) Sync(userID string, computed []domain.ComputedHolding) ([]domain.Holding, error) {
	now := time.Now()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		kept := make([]string, 0, len(computed))
		for _, ch := range computed {
			kept = append(kept, ch.Ticker)
			_, err := tx.Exec(`
				INSERT INTO holdings (user_id, ticker, total_shares, average_price, total_spent,
				                      total_value, last_price, stop_loss, entry_reason,
				                      last_synced_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, '0.00', '', ?, ?, ?)
				ON CONFLICT(user_id, ticker) DO UPDATE SET
					total_shares   = excluded.total_shares,
					average_price  = excluded.average_price,
					total_spent    = excluded.total_spent,
					total_value    = excluded.total_value,
					last_price     = excluded.last_price,
					last_synced_at = excluded.last_synced_at,
					updated_at     = excluded.updated_at
			`, userID, ch.Ticker, ch.TotalShares, ch.AveragePrice, ch.TotalSpent,
				ch.TotalValue, ch.LastPrice, now.Unix(), now.Unix(), now.Unix())
			if err != nil {
				return fmt.Errorf("failed to upsert holding %s: %w", ch.Ticker, err)
			}
		}

		// Zero out rows not present in the computed set.
		query := `UPDATE holdings
			SET total_shares = 0, average_price = '0.00', total_spent = '0.00',
			    total_value = '0.00', last_synced_at = ?, updated_at = ?
			WHERE user_id = ?`
		args := []interface{}{now.Unix(), now.Unix(), userID}
		if len(kept) > 0 {
			query += " AND ticker NOT IN (" + strings.Repeat("?, ", len(kept)-1) + "?)"
			for _, ticker := range kept {
				args = append(args, ticker)
			}
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to zero sold-out holdings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Str("user_id", userID).
		Int("count", len(computed)).
		Msg("Holdings synced")

	return r.GetByUser(userID)
}

// UpdateAnnotation upserts the user-set fields of a holding: stop loss and
// entry reason. These are independent of the ledger and are never touched
// by Sync or Invalidate.
func (r *Repository) UpdateAnnotation(userID, ticker string, stopLoss domain.Money, entryReason string) (domain.Holding, error) {
	ticker = domain.NormalizeTicker(ticker)
	now := time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO holdings (user_id, ticker, stop_loss, entry_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, ticker) DO UPDATE SET
			stop_loss    = excluded.stop_loss,
			entry_reason = excluded.entry_reason,
			updated_at   = excluded.updated_at
	`, userID, ticker, stopLoss.Round2(), entryReason, now, now)
	if err != nil {
		return domain.Holding{}, fmt.Errorf("failed to update holding annotation: %w", err)
	}

	row := r.db.QueryRow(
		"SELECT "+holdingColumns+" FROM holdings WHERE user_id = ? AND ticker = ?",
		userID, ticker,
	)
	return scanHolding(row)
}

func scanHoldings(rows *sql.Rows) ([]domain.Holding, error) {
	holdings := make([]domain.Holding, 0)
	for rows.Next() {
		var h domain.Holding
		var lastSynced sql.NullInt64
		var createdAt, updatedAt int64

		if err := rows.Scan(&h.UserID, &h.Ticker, &h.TotalShares, &h.AveragePrice,
			&h.TotalSpent, &h.TotalValue, &h.LastPrice, &h.StopLoss, &h.EntryReason,
			&lastSynced, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}

		if lastSynced.Valid {
			t := time.Unix(lastSynced.Int64, 0).UTC()
			h.LastSyncedAt = &t
		}
		h.CreatedAt = time.Unix(createdAt, 0).UTC()
		h.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

func scanHolding(row *sql.Row) (domain.Holding, error) {
	var h domain.Holding
	var lastSynced sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&h.UserID, &h.Ticker, &h.TotalShares, &h.AveragePrice,
		&h.TotalSpent, &h.TotalValue, &h.LastPrice, &h.StopLoss, &h.EntryReason,
		&lastSynced, &createdAt, &updatedAt)
	if err != nil {
		return domain.Holding{}, fmt.Errorf("failed to scan holding: %w", err)
	}

	if lastSynced.Valid {
		t := time.Unix(lastSynced.Int64, 0).UTC()
		h.LastSyncedAt = &t
	}
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	h.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return h, nil
}
