/*
Package ledger provides the account ledger engine.

PURPOSE:
  This package contains the core types and the engine that validates,
  applies, and records balance mutations (account creation, deposits,
  transfers). It is the only writer of account balances and the only
  creator of deposit/transfer records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A keyed account with a balance in minor currency units
  - Deposit/Transfer: Immutable records of committed balance mutations
  - Clock: Injectable time source so commits are deterministic in tests

DESIGN PRINCIPLES:
  1. Integer money: balances and amounts are int64 minor units. No
     floating point anywhere in balance arithmetic.
  2. Immutability: deposit and transfer records are written once at
     commit time and never updated or deleted.
  3. Explicit time: timestamps are assigned by the engine's Clock at
     the moment of commit, never by record construction.

SEE ALSO:
  - store.go: Persistence contracts the engine depends on
  - engine.go: The operations themselves
  - errors.go: Failure taxonomy
*/
package ledger

import "time"

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a monetary account. Balance is in minor currency units
// (cents) and is never negative after a committed operation.
//
// Version is storage bookkeeping for optimistic concurrency: it is set
// to 1 on creation and incremented by every successful update. Callers
// pass the version they read back to AccountStore.UpdateAccount, which
// rejects the write if the stored version has moved on.
type Account struct {
	Key      string
	Name     string
	Document string
	Balance  int64
	Version  int64
}

// =============================================================================
// TRANSACTION RECORDS - Append-only audit trail
// =============================================================================

// Deposit records a committed deposit. Written once, never mutated.
type Deposit struct {
	AccountKey string
	Amount     int64
	Time       time.Time
}

// Transfer records a committed transfer between two accounts.
// Written once, never mutated.
type Transfer struct {
	OriginAccountKey string
	TargetAccountKey string
	Amount           int64
	Time             time.Time
}

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies commit timestamps. Injected so the engine stays
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads wall-clock time, normalized to UTC with second
// precision to match the serialized representation.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time {
	return c.Instant.UTC().Truncate(time.Second)
}
