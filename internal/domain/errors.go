package domain

import "errors"

// Sentinel errors shared across modules. Handlers translate these into
// HTTP status codes; services wrap them with context via fmt.Errorf and %w.
var (
	// ErrNotFound indicates a user, transaction or holding does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates input that fails a business invariant
	// (non-positive price, zero shares, future execution date).
	ErrValidation = errors.New("validation failed")

	// ErrAtomicWriteAborted indicates the ledger/cash transaction was
	// rolled back. Nothing was persisted; the operation is retryable.
	ErrAtomicWriteAborted = errors.New("atomic write aborted")

	// ErrPriceUnavailable indicates both the streaming cache and the REST
	// fallback failed to produce a quote. Callers must treat the price as
	// unknown, never as zero.
	ErrPriceUnavailable = errors.New("price unavailable")
)
