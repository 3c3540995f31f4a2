// Package ledger provides the transaction log: paginated reads and the
// row-level writes used by the balance coordinator's atomic units.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/domain"
)

const transactionColumns = `id, user_id, operation, ticker, price, shares, executed_at, created_at, updated_at`

// Repository handles transaction database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new transaction repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// List returns a page of a user's transactions with filters and sorting.
func (r *Repository) List(userID string, query ListQuery) (ListResult, error) {
	query = query.normalize()

	where := "WHERE user_id = ?"
	args := []interface{}{userID}

	if query.Ticker != "" {
		// Prefix match; tickers are stored normalized uppercase so
		// uppercasing the needle makes the match case-insensitive.
		where += " AND ticker LIKE ?"
		args = append(args, domain.NormalizeTicker(query.Ticker)+"%")
	}
	if query.Operation != "" {
		where += " AND operation = ?"
		args = append(args, query.Operation)
	}
	if query.StartDate != nil {
		where += " AND executed_at >= ?"
		args = append(args, query.StartDate.Unix())
	}
	if query.EndDate != nil {
		where += " AND executed_at <= ?"
		args = append(args, query.EndDate.Unix())
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM transactions "+where, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("failed to count transactions: %w", err)
	}

	direction := "DESC"
	if query.SortOrder == "asc" {
		direction = "ASC"
	}

	// Sort columns are whitelisted; user input never reaches the ORDER BY
	// clause directly. Price ordering uses the total transaction value.
	var orderBy string
	switch query.SortBy {
	case SortByPrice:
		orderBy = "CAST(price AS REAL) * shares " + direction
	case SortByCreatedAt:
		orderBy = "created_at " + direction
	case SortByTicker:
		orderBy = "ticker " + direction + ", executed_at DESC"
	default:
		orderBy = "executed_at " + direction
	}

	offset := (query.Page - 1) * query.PageSize
	listArgs := append(append([]interface{}{}, args...), query.PageSize, offset)

	rows, err := r.db.Query(
		"SELECT "+transactionColumns+" FROM transactions "+where+" ORDER BY "+orderBy+" LIMIT ? OFFSET ?",
		listArgs...,
	)
	if err != nil {
		return ListResult{}, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	items, err := scanTransactions(rows)
	if err != nil {
		return ListResult{}, err
	}

	return ListResult{
		Items:      items,
		Pagination: newPagination(query.Page, query.PageSize, total),
	}, nil
}

// GetByID returns a single transaction owned by the user, or domain.ErrNotFound.
func (r *Repository) GetByID(userID, id string) (domain.Transaction, error) {
	return getByID(r.db, userID, id)
}

// GetByIDTx is GetByID inside an open database transaction, so a
// read-modify-write sequence observes the same row it is about to mutate.
func (r *Repository) GetByIDTx(tx *sql.Tx, userID, id string) (domain.Transaction, error) {
	return getByID(tx, userID, id)
}

type rowQuerier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func getByID(q rowQuerier, userID, id string) (domain.Transaction, error) {
	row := q.QueryRow(
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ? AND user_id = ?",
		id, userID,
	)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetAllUnpaginated returns the user's full ledger in ascending executedAt
// order, bounded by maxUnpaginatedRows. Used by the holdings recompute path,
// which needs every transaction to derive FIFO cost basis.
func (r *Repository) GetAllUnpaginated(userID string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = ? ORDER BY executed_at ASC, created_at ASC LIMIT ?",
		userID, maxUnpaginatedRows,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query full ledger: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// InsertTx inserts a transaction row inside an open database transaction.
// Validation must already have happened; this is the raw write used by the
// balance coordinator.
func (r *Repository) InsertTx(tx *sql.Tx, txn domain.Transaction) error {
	_, err := tx.Exec(
		`INSERT INTO transactions (id, user_id, operation, ticker, price, shares, executed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.UserID, string(txn.Operation), txn.Ticker, txn.Price.Round2(),
		txn.Shares, txn.ExecutedAt.Unix(), txn.CreatedAt.Unix(), txn.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// UpdateTx rewrites the editable fields of a transaction row inside an open
// database transaction.
func (r *Repository) UpdateTx(tx *sql.Tx, txn domain.Transaction) error {
	res, err := tx.Exec(
		`UPDATE transactions
		 SET operation = ?, ticker = ?, price = ?, shares = ?, executed_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		string(txn.Operation), txn.Ticker, txn.Price.Round2(), txn.Shares,
		txn.ExecutedAt.Unix(), time.Now().Unix(), txn.ID, txn.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transaction update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", txn.ID, domain.ErrNotFound)
	}
	return nil
}

// DeleteTx removes a transaction row inside an open database transaction.
func (r *Repository) DeleteTx(tx *sql.Tx, userID, id string) error {
	res, err := tx.Exec("DELETE FROM transactions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transaction delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	items := make([]domain.Transaction, 0)
	for rows.Next() {
		var txn domain.Transaction
		var operation string
		var executedAt, createdAt, updatedAt int64

		if err := rows.Scan(&txn.ID, &txn.UserID, &operation, &txn.Ticker, &txn.Price,
			&txn.Shares, &executedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		txn.Operation = domain.Operation(operation)
		txn.ExecutedAt = time.Unix(executedAt, 0).UTC()
		txn.CreatedAt = time.Unix(createdAt, 0).UTC()
		txn.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		items = append(items, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return items, nil
}

func scanTransaction(row *sql.Row) (domain.Transaction, error) {
	var txn domain.Transaction
	var operation string
	var executedAt, createdAt, updatedAt int64

	err := row.Scan(&txn.ID, &txn.UserID, &operation, &txn.Ticker, &txn.Price,
		&txn.Shares, &executedAt, &createdAt, &updatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}

	txn.Operation = domain.Operation(operation)
	txn.ExecutedAt = time.Unix(executedAt, 0).UTC()
	txn.CreatedAt = time.Unix(createdAt, 0).UTC()
	txn.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return txn, nil
}
