/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Business errors - legitimate situations the caller must present to a
     user (closed register, not enough stock). Returned, never panicked.
  2. Concurrency errors - lost version races and lock timeouts. Retryable.
  3. Store errors - infrastructure failures, wrapped with %w. The store
     commits entry + balance together so these never leave partial state.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var ib *ledger.InsufficientBalanceError
      errors.As(err, &ib)
      // ib.Available, ib.Requested
  }
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountClosed is returned when an entry targets a terminally closed account.
	ErrAccountClosed = errors.New("account closed")

	// ErrAlreadyOpen is returned when a second open account is requested for
	// an owner that allows only one (a physical cash register).
	ErrAlreadyOpen = errors.New("account already open for owner")

	// ErrAccountExists is returned when an account id, or an active account
	// for the same owner, already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientBalance is returned when an entry would drive a
	// non-negative balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOutOfOrderEntry is returned when an entry timestamp precedes the
	// last recorded entry for the account.
	ErrOutOfOrderEntry = errors.New("entry out of order")

	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount is returned for negative or non-integral amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownKind is returned when a kind is not defined for the account type.
	ErrUnknownKind = errors.New("unknown entry kind")

	// ErrUnknownAccountType is returned when no schema is registered for a type.
	ErrUnknownAccountType = errors.New("unknown account type")

	// ErrInvalidCommand is returned when a command fails shape validation.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrDuplicateIdempotencyKey is returned when a command replays an
	// idempotency key already committed on the account.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when a versioned commit loses a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockNotObtained is returned when the per-account lock cannot be taken.
	ErrLockNotObtained = errors.New("account lock not obtained")

	// ErrInvariantViolation is returned when the stored balance disagrees with
	// the fold of the log. Never corrected silently.
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Balance   BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s on %s: available %s, requested %s",
		e.Balance, e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// OutOfOrderError carries the offending and the last recorded timestamps.
type OutOfOrderError struct {
	AccountID AccountID
	Last      time.Time
	Got       time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("entry for %s at %s precedes last entry at %s",
		e.AccountID, e.Got.Format(time.RFC3339Nano), e.Last.Format(time.RFC3339Nano))
}

func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrderEntry }

// DuplicateEntryError carries the entry originally committed under the key,
// so a retrying caller can recover the first outcome.
type DuplicateEntryError struct {
	Entry Entry
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("idempotency key %q already applied as entry %d", e.Entry.IdempotencyKey, e.Entry.ID)
}

func (e *DuplicateEntryError) Unwrap() error { return ErrDuplicateIdempotencyKey }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockNotObtained)
}

// IsClientError returns true for business outcomes the caller must handle.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAccountClosed) ||
		errors.Is(err, ErrAlreadyOpen) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOutOfOrderEntry) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrUnknownAccountType)
}

// Reason returns a short stable label for an error, used by metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAccountClosed):
		return "account_closed"
	case errors.Is(err, ErrAlreadyOpen):
		return "already_open"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrOutOfOrderEntry):
		return "out_of_order"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "duplicate"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrLockNotObtained):
		return "lock_timeout"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "storage"
	}
}
