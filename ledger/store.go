/*
store.go - Persistence contracts the engine depends on

PURPOSE:
  Defines the interfaces between the ledger engine and storage. The
  engine never touches a database directly; it is handed a TxStore and
  works entirely through these contracts, so it can be tested against
  the in-memory store and run in production against SQLite.

KEY INTERFACES:
  AccountStore:   Keyed persistence for accounts (create, lookups,
                  versioned update)
  TransactionLog: Append-only persistence for deposit/transfer records
  Store:          Both of the above
  TxStore:        Store plus an atomic unit of work (WithTx)

APPEND-ONLY CONTRACT:
  The TransactionLog has no update or delete operations. Records are
  the audit trail; corrections would be new records, never edits.

OPTIMISTIC CONCURRENCY:
  UpdateAccount takes the version the caller read. If the stored
  version differs, the store returns ErrVersionConflict and writes
  nothing. The engine owns the retry policy.

ATOMIC UNITS:
  WithTx runs fn against a transactional view of the store. If fn
  returns an error, nothing fn wrote is visible to subsequent reads.
  A balance update and its log record always commit together.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: Production SQLite
*/
package ledger

import "context"

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountStore is keyed persistence for accounts. It owns physical
// storage only; business invariants live in the engine. The one
// exception is document uniqueness, which the store enforces at write
// time so concurrent creations cannot race past the engine's check.
type AccountStore interface {
	// CreateAccount persists a new account. Returns DocumentExistsError
	// if the document is already taken.
	CreateAccount(ctx context.Context, account Account) (Account, error)

	// GetAccount returns the account for key, or NotFoundError.
	GetAccount(ctx context.Context, key string) (Account, error)

	// GetAccountByDocument returns the account holding document, or
	// NotFoundError.
	GetAccountByDocument(ctx context.Context, document string) (Account, error)

	// ExistsByDocument reports whether any account holds document.
	ExistsByDocument(ctx context.Context, document string) (bool, error)

	// ListAccounts returns all accounts in creation order.
	ListAccounts(ctx context.Context) ([]Account, error)

	// UpdateAccount writes account if the stored version still equals
	// expectedVersion, bumping the version. Returns ErrVersionConflict
	// on a stale version, NotFoundError if the key is unknown.
	UpdateAccount(ctx context.Context, account Account, expectedVersion int64) (Account, error)
}

// =============================================================================
// TRANSACTION LOG - Append-only
// =============================================================================

// TransactionLog persists deposit and transfer records.
// Append-only: no update, no delete.
type TransactionLog interface {
	// AppendDeposit records a committed deposit.
	AppendDeposit(ctx context.Context, deposit Deposit) error

	// AppendTransfer records a committed transfer.
	AppendTransfer(ctx context.Context, transfer Transfer) error

	// DepositsByAccount returns deposits into accountKey, ordered by
	// time ascending.
	DepositsByAccount(ctx context.Context, accountKey string) ([]Deposit, error)

	// TransfersByOrigin returns transfers out of originKey, ordered by
	// time ascending.
	TransfersByOrigin(ctx context.Context, originKey string) ([]Transfer, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface the engine works against.
type Store interface {
	AccountStore
	TransactionLog
}

// TxStore adds an atomic unit of work. fn runs against a transactional
// view; an error from fn rolls back everything it wrote.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
