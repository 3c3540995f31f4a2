package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Operation is the side of a ledger transaction.
type Operation string

const (
	OperationBuy  Operation = "buy"
	OperationSell Operation = "sell"
)

// Valid reports whether the operation is a known side.
func (o Operation) Valid() bool {
	return o == OperationBuy || o == OperationSell
}

// tickerPattern matches normalized tickers: 1-5 uppercase letters.
var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// NormalizeTicker uppercases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ValidTicker reports whether a normalized ticker is well-formed.
func ValidTicker(ticker string) bool {
	return tickerPattern.MatchString(ticker)
}

// Transaction is one row of the append-mostly buy/sell ledger.
type Transaction struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Operation  Operation `json:"operation"`
	Ticker     string    `json:"ticker"`
	Price      Money     `json:"price"`
	Shares     int64     `json:"shares"`
	ExecutedAt time.Time `json:"executedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Value is the total transaction value: price * shares.
func (t Transaction) Value() Money {
	return t.Price.MulInt(t.Shares).Round2()
}

// CashDelta is the signed effect of this transaction on the owner's cash
// balance: buys subtract, sells add.
func (t Transaction) CashDelta() Money {
	value := t.Value()
	if t.Operation == OperationBuy {
		return value.Neg()
	}
	return value
}

// Validate enforces the ledger invariants: price > 0, shares > 0,
// executedAt not in the future, well-formed ticker and operation.
func (t Transaction) Validate() error {
	if !t.Operation.Valid() {
		return fmt.Errorf("%w: operation must be buy or sell, got %q", ErrValidation, t.Operation)
	}
	if !ValidTicker(t.Ticker) {
		return fmt.Errorf("%w: ticker must be 1-5 letters, got %q", ErrValidation, t.Ticker)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrValidation, t.Price)
	}
	if t.Shares <= 0 {
		return fmt.Errorf("%w: share count must be positive, got %d", ErrValidation, t.Shares)
	}
	if t.ExecutedAt.IsZero() {
		return fmt.Errorf("%w: executedAt is required", ErrValidation)
	}
	// One minute of allowance for client clock skew; anything beyond that
	// is a genuinely future execution time.
	if t.ExecutedAt.After(time.Now().Add(time.Minute)) {
		return fmt.Errorf("%w: executedAt must not be in the future", ErrValidation)
	}
	return nil
}

// User owns a ledger and a cash balance. Cash may go negative: buys are
// allowed to overdraw.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Cash      Money     `json:"cash"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Holding is the denormalized per-(user, ticker) projection derived from
// the ledger. A nil LastSyncedAt marks the row stale: it must be recomputed
// from the full ledger before it is served.
type Holding struct {
	UserID       string     `json:"userId"`
	Ticker       string     `json:"ticker"`
	TotalShares  int64      `json:"totalShares"`
	AveragePrice Money      `json:"averagePrice"`
	TotalSpent   Money      `json:"totalSpent"`
	TotalValue   Money      `json:"totalValue"`
	LastPrice    Money      `json:"lastPrice"`
	StopLoss     Money      `json:"stopLoss"`
	EntryReason  string     `json:"entryReason"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// ComputedHolding is the output of a FIFO recomputation over the ledger.
// It carries only ledger-derived fields; user annotations (stop loss,
// entry reason) live on the stored Holding row and survive a resync.
type ComputedHolding struct {
	Ticker       string `json:"ticker"`
	TotalShares  int64  `json:"totalShares"`
	AveragePrice Money  `json:"averagePrice"`
	TotalSpent   Money  `json:"totalSpent"`
	TotalValue   Money  `json:"totalValue"`
	LastPrice    Money  `json:"lastPrice"`
}
