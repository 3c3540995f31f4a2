// Package balance implements the two-aggregate mutation protocol: every
// ledger write and its cash-balance effect commit or abort as one atomic
// unit, then downstream projections and caches are invalidated.
package balance

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omerros/trackfolio/internal/database"
	"github.com/omerros/trackfolio/internal/domain"
	"github.com/omerros/trackfolio/internal/modules/ledger"
	"github.com/omerros/trackfolio/internal/modules/users"
)

const (
	minBatchSize = 1
	maxBatchSize = 10
)

// UpdateCashPolicy controls what an edit of a committed transaction does to
// the owner's cash balance.
type UpdateCashPolicy string

const (
	// CashPolicyIgnore leaves cash untouched on update. This matches the
	// historical behavior: an edit only rewrites the ledger row.
	CashPolicyIgnore UpdateCashPolicy = "ignore"

	// CashPolicyRecompute reverses the original cash delta and applies the
	// delta implied by the edited fields, inside the same atomic unit as
	// the row update.
	CashPolicyRecompute UpdateCashPolicy = "recompute"
)

// HoldingsInvalidator marks holdings projections stale after a ledger write.
type HoldingsInvalidator interface {
	Invalidate(userID string, tickers []string) error
}

// CacheInvalidator drops a user's read-through cache entries after a write.
type CacheInvalidator interface {
	InvalidateUser(userID string)
}

// NewTransaction is the validated command to record one buy or sell.
type NewTransaction struct {
	Operation  domain.Operation `json:"operation"`
	Ticker     string           `json:"ticker"`
	Price      domain.Money     `json:"price"`
	Shares     int64            `json:"shares"`
	ExecutedAt time.Time        `json:"executedAt"`
}

// UpdatePatch carries the editable fields of a transaction. Nil fields are
// left unchanged.
type UpdatePatch struct {
	Operation  *domain.Operation `json:"operation"`
	Ticker     *string           `json:"ticker"`
	Price      *domain.Money     `json:"price"`
	Shares     *int64            `json:"shares"`
	ExecutedAt *time.Time        `json:"executedAt"`
}

// Coordinator performs the atomic transaction/cash mutations.
type Coordinator struct {
	db         *sql.DB
	ledgerRepo *ledger.Repository
	userRepo   *users.Repository
	holdings   HoldingsInvalidator
	cache      CacheInvalidator
	cashPolicy UpdateCashPolicy
	log        zerolog.Logger
}

// NewCoordinator creates a balance coordinator. holdings and cache may be
// nil in tests; invalidation is then skipped.
func NewCoordinator(
	db *sql.DB,
	ledgerRepo *ledger.Repository,
	userRepo *users.Repository,
	holdings HoldingsInvalidator,
	cache CacheInvalidator,
	cashPolicy UpdateCashPolicy,
	log zerolog.Logger,
) *Coordinator {
	if cashPolicy == "" {
		cashPolicy = CashPolicyIgnore
	}
	return &Coordinator{
		db:         db,
		ledgerRepo: ledgerRepo,
		userRepo:   userRepo,
		holdings:   holdings,
		cache:      cache,
		cashPolicy: cashPolicy,
		log:        log.With().Str("service", "balance").Logger(),
	}
}

// Apply records a transaction and applies its cash delta in one atomic unit.
// Either both the ledger row and the cash update persist, or neither does.
func (c *Coordinator) Apply(userID string, cmd NewTransaction) (domain.Transaction, error) {
	now := time.Now().UTC()
	txn := domain.Transaction{
		ID:         uuid.NewString(),
		UserID:     userID,
		Operation:  cmd.Operation,
		Ticker:     domain.NormalizeTicker(cmd.Ticker),
		Price:      cmd.Price.Round2(),
		Shares:     cmd.Shares,
		ExecutedAt: cmd.ExecutedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := txn.Validate(); err != nil {
		return domain.Transaction{}, err
	}

	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		if err := c.applyCashDeltaTx(tx, userID, txn.CashDelta()); err != nil {
			return err
		}
		return c.ledgerRepo.InsertTx(tx, txn)
	})
	if err != nil {
		return domain.Transaction{}, c.classify(err)
	}

	c.log.Info().
		Str("user_id", userID).
		Str("ticker", txn.Ticker).
		Str("operation", string(txn.Operation)).
		Str("value", txn.Value().String()).
		Msg("Transaction applied")

	c.invalidate(userID, txn.Ticker)
	return txn, nil
}

// Reverse deletes a transaction and restores its cash effect in one atomic
// unit: the inverse of Apply. The row is read inside the same unit, so the
// reversed delta is always the committed one.
func (c *Coordinator) Reverse(userID, transactionID string) error {
	var txn domain.Transaction
	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		var err error
		txn, err = c.ledgerRepo.GetByIDTx(tx, userID, transactionID)
		if err != nil {
			return err
		}
		if err := c.applyCashDeltaTx(tx, userID, txn.CashDelta().Neg()); err != nil {
			return err
		}
		return c.ledgerRepo.DeleteTx(tx, userID, transactionID)
	})
	if err != nil {
		return c.classify(err)
	}

	c.log.Info().
		Str("user_id", userID).
		Str("transaction_id", transactionID).
		Str("ticker", txn.Ticker).
		Msg("Transaction reversed")

	c.invalidate(userID, txn.Ticker)
	return nil
}

// Update edits a committed transaction. Whether the cash balance is adjusted
// for changed financial fields depends on the configured UpdateCashPolicy.
// Holdings for both the old and the new ticker are invalidated.
func (c *Coordinator) Update(userID, transactionID string, patch UpdatePatch) (domain.Transaction, error) {
	var original, updated domain.Transaction
	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		var err error
		original, err = c.ledgerRepo.GetByIDTx(tx, userID, transactionID)
		if err != nil {
			return err
		}

		updated = original
		if patch.Operation != nil {
			updated.Operation = *patch.Operation
		}
		if patch.Ticker != nil {
			updated.Ticker = domain.NormalizeTicker(*patch.Ticker)
		}
		if patch.Price != nil {
			updated.Price = patch.Price.Round2()
		}
		if patch.Shares != nil {
			updated.Shares = *patch.Shares
		}
		if patch.ExecutedAt != nil {
			updated.ExecutedAt = *patch.ExecutedAt
		}

		if err := updated.Validate(); err != nil {
			return err
		}

		if c.cashPolicy == CashPolicyRecompute {
			adjustment := updated.CashDelta().Sub(original.CashDelta())
			if !adjustment.IsZero() {
				if err := c.applyCashDeltaTx(tx, userID, adjustment); err != nil {
					return err
				}
			}
		}
		return c.ledgerRepo.UpdateTx(tx, updated)
	})
	if err != nil {
		return domain.Transaction{}, c.classify(err)
	}

	c.log.Info().
		Str("user_id", userID).
		Str("transaction_id", transactionID).
		Str("cash_policy", string(c.cashPolicy)).
		Msg("Transaction updated")

	tickers := []string{original.Ticker}
	if updated.Ticker != original.Ticker {
		tickers = append(tickers, updated.Ticker)
	}
	c.invalidate(userID, tickers...)

	updated.UpdatedAt = time.Now().UTC()
	return updated, nil
}

// ApplyBatch records up to maxBatchSize transactions and the sum of their
// cash deltas in a single atomic unit. If any row fails validation nothing
// is persisted. Returns the created rows and the aggregate cash delta.
func (c *Coordinator) ApplyBatch(userID string, cmds []NewTransaction) ([]domain.Transaction, domain.Money, error) {
	if len(cmds) < minBatchSize || len(cmds) > maxBatchSize {
		return nil, domain.Money{}, fmt.Errorf("%w: batch size must be between %d and %d, got %d",
			domain.ErrValidation, minBatchSize, maxBatchSize, len(cmds))
	}

	now := time.Now().UTC()
	txns := make([]domain.Transaction, 0, len(cmds))
	totalDelta := domain.ZeroMoney()
	tickers := make(map[string]struct{})

	for i, cmd := range cmds {
		txn := domain.Transaction{
			ID:         uuid.NewString(),
			UserID:     userID,
			Operation:  cmd.Operation,
			Ticker:     domain.NormalizeTicker(cmd.Ticker),
			Price:      cmd.Price.Round2(),
			Shares:     cmd.Shares,
			ExecutedAt: cmd.ExecutedAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := txn.Validate(); err != nil {
			return nil, domain.Money{}, fmt.Errorf("batch item %d: %w", i, err)
		}
		txns = append(txns, txn)
		totalDelta = totalDelta.Add(txn.CashDelta())
		tickers[txn.Ticker] = struct{}{}
	}

	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		if err := c.applyCashDeltaTx(tx, userID, totalDelta); err != nil {
			return err
		}
		for _, txn := range txns {
			if err := c.ledgerRepo.InsertTx(tx, txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Money{}, c.classify(err)
	}

	c.log.Info().
		Str("user_id", userID).
		Int("count", len(txns)).
		Str("cash_delta", totalDelta.String()).
		Msg("Batch applied")

	affected := make([]string, 0, len(tickers))
	for ticker := range tickers {
		affected = append(affected, ticker)
	}
	c.invalidate(userID, affected...)

	return txns, totalDelta.Round2(), nil
}

// applyCashDeltaTx reads the user's cash inside the transaction and writes
// back cash + delta. The read doubles as the user-existence check: a missing
// user aborts the whole unit with ErrNotFound.
func (c *Coordinator) applyCashDeltaTx(tx *sql.Tx, userID string, delta domain.Money) error {
	cash, err := c.userRepo.GetCashTx(tx, userID)
	if err != nil {
		return err
	}
	return c.userRepo.SetCashTx(tx, userID, cash.Add(delta))
}

// classify maps an atomic-unit failure onto the error taxonomy. NotFound and
// validation failures pass through; everything else surfaces as a retryable
// aborted write.
func (c *Coordinator) classify(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrAtomicWriteAborted, err)
}

// invalidate marks affected holdings stale and drops the user's cached
// reads. Both are post-commit effects: failures are logged, never propagated,
// because the ledger write has already durably happened.
func (c *Coordinator) invalidate(userID string, tickers ...string) {
	if c.holdings != nil && len(tickers) > 0 {
		if err := c.holdings.Invalidate(userID, tickers); err != nil {
			c.log.Error().Err(err).
				Str("user_id", userID).
				Strs("tickers", tickers).
				Msg("Failed to invalidate holdings")
		}
	}
	if c.cache != nil {
		c.cache.InvalidateUser(userID)
	}
}
