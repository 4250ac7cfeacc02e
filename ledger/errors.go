/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All failure kinds in one place. Every failure is a typed value with a
  human-readable detail string; nothing is silently swallowed and none
  of these are process-fatal.

ERROR CATEGORIES:
  1. Validation errors - invalid document, invalid amounts, same-account transfer
  2. Lookup errors - unknown account key
  3. Concurrency errors - stale version on write, retries exhausted

USAGE:
  Callers branch on the sentinels with errors.Is:

    if errors.Is(err, ledger.ErrAccountNotFound) { ... }

  Structured errors carry the offending values and unwrap to their
  sentinel, so both errors.Is and errors.As work.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDocument is returned when a document fails checksum validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrDocumentExists is returned when an account with the same document
	// already exists. Document uniqueness holds across the whole store.
	ErrDocumentExists = errors.New("document already exists")

	// ErrAccountNotFound is returned when a lookup by key finds nothing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidDepositAmount is returned for negative or over-limit deposits.
	ErrInvalidDepositAmount = errors.New("invalid deposit amount")

	// ErrInvalidTransferAmount is returned for negative transfer amounts and
	// for transfers that would drive the origin balance negative.
	ErrInvalidTransferAmount = errors.New("invalid transfer amount")

	// ErrInvalidTargetAccount is returned when origin and target are the
	// same account.
	ErrInvalidTargetAccount = errors.New("invalid target account")

	// ErrVersionConflict is returned by stores when an update carries a
	// stale version. The engine retries these; callers normally see
	// ErrUpdateConflict instead.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrUpdateConflict is returned when the bounded retry budget for
	// version conflicts is exhausted.
	ErrUpdateConflict = errors.New("concurrent update conflict")

	// ErrBalanceOverflow is returned when applying an amount would overflow
	// the balance. Surfaced as a server error: saturating silently would
	// break conservation.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending values
// =============================================================================

// InvalidDocumentError reports a document that failed validation.
type InvalidDocumentError struct {
	Document string
}

func (e *InvalidDocumentError) Error() string {
	return fmt.Sprintf("document %s invalid: must be a valid CPF, ex.: 999.999.999-99", e.Document)
}

func (e *InvalidDocumentError) Unwrap() error { return ErrInvalidDocument }

// DocumentExistsError reports a uniqueness violation on creation.
type DocumentExistsError struct {
	Document string
}

func (e *DocumentExistsError) Error() string {
	return fmt.Sprintf("document %s already exists", e.Document)
}

func (e *DocumentExistsError) Unwrap() error { return ErrDocumentExists }

// NotFoundError reports an unknown account key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("account not found for %s", e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrAccountNotFound }

// DepositAmountError reports a deposit amount outside [0, Limit],
// naming the violated bound.
type DepositAmountError struct {
	Amount int64
	Limit  int64
}

func (e *DepositAmountError) Error() string {
	if e.Amount < 0 {
		return fmt.Sprintf("value %d cannot be negative", e.Amount)
	}
	return fmt.Sprintf("value %d cannot exceed the security limit of %d", e.Amount, e.Limit)
}

func (e *DepositAmountError) Unwrap() error { return ErrInvalidDepositAmount }

// TransferAmountError reports a negative transfer amount.
type TransferAmountError struct {
	Amount int64
}

func (e *TransferAmountError) Error() string {
	return fmt.Sprintf("value %d cannot be negative", e.Amount)
}

func (e *TransferAmountError) Unwrap() error { return ErrInvalidTransferAmount }

// InsufficientFundsError reports a transfer that would leave the origin
// account negative, naming the balance the transfer would produce.
type InsufficientFundsError struct {
	OriginAccountKey string
	Amount           int64
	ResultingBalance int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("value for transfer cannot turn origin account balance negative: balance after transfer would be %d", e.ResultingBalance)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInvalidTransferAmount }

// SameAccountError reports a transfer where origin and target match.
type SameAccountError struct {
	Key string
}

func (e *SameAccountError) Error() string {
	return fmt.Sprintf("target account %s cannot be equal to origin account %s", e.Key, e.Key)
}

func (e *SameAccountError) Unwrap() error { return ErrInvalidTargetAccount }

// UpdateConflictError reports exhausted version-conflict retries.
type UpdateConflictError struct {
	Key      string
	Attempts int
}

func (e *UpdateConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict on account %s after %d attempts", e.Key, e.Attempts)
}

func (e *UpdateConflictError) Unwrap() error { return ErrUpdateConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrDocumentExists) ||
		errors.Is(err, ErrInvalidDepositAmount) ||
		errors.Is(err, ErrInvalidTransferAmount) ||
		errors.Is(err, ErrInvalidTargetAccount)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsConflict returns true for duplicate-document and concurrent-update
// failures, which map to conflict responses at the edge.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDocumentExists) || errors.Is(err, ErrUpdateConflict)
}
