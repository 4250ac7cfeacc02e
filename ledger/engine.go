/*
engine.go - The ledger engine operations

PURPOSE:
  Orchestrates validation, balance arithmetic, invariant enforcement,
  and atomic multi-record writes. CreateAccount, Deposit, and Transfer
  are the only paths that ever change a balance.

INVARIANTS:
  1. balance >= 0 for every persisted account, always
  2. A transfer's debit and credit are never observable independently
  3. Every committed mutation leaves exactly one audit record
  4. Document uniqueness across all accounts

CONCURRENCY:
  Every mutation runs its whole read-validate-write cycle inside
  TxStore.WithTx, against accounts carrying the version that was read.
  A store whose transactional view serializes writers (both bundled
  implementations do) never produces a conflict; a store with weaker
  isolation surfaces ErrVersionConflict and the engine retries the
  cycle, bounded, before giving up with ErrUpdateConflict.

  Transfers write the two accounts in key order so stores that lock
  per row cannot deadlock two opposing transfers.

CANCELLATION:
  Context cancellation before commit aborts with nothing persisted.
  After commit it has no effect; the operation is already durable.

SEE ALSO:
  - store.go: The contracts WithTx and UpdateAccount must honor
  - errors.go: The failure taxonomy these operations return
*/
package ledger

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brim/ledger-engine/document"
)

// Deposit amount bounds, in minor currency units. The upper bound is
// configurable per engine; this is the default security limit.
const (
	MinDepositAmount    int64 = 0
	DefaultDepositLimit int64 = 2000
	MinTransferAmount   int64 = 0
)

// maxUpdateAttempts bounds the retry loop for version conflicts.
const maxUpdateAttempts = 3

// =============================================================================
// ENGINE
// =============================================================================

// Engine validates and applies balance mutations against a TxStore.
// It is the sole mutator of balances and sole creator of audit records.
type Engine struct {
	store        TxStore
	clock        Clock
	newKey       func() string
	depositLimit int64
	log          *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the commit-time clock. For tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithKeyFunc replaces the account key generator. For tests.
func WithKeyFunc(fn func() string) Option {
	return func(e *Engine) { e.newKey = fn }
}

// WithDepositLimit sets the deposit security limit in minor units.
func WithDepositLimit(limit int64) Option {
	return func(e *Engine) { e.depositLimit = limit }
}

// WithLogger sets the operation logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine over store. Defaults: system clock,
// uuid account keys, DefaultDepositLimit, no-op logger.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		clock:        SystemClock{},
		newKey:       uuid.NewString,
		depositLimit: DefaultDepositLimit,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// CREATE ACCOUNT
// =============================================================================

// CreateAccount validates the document, enforces document uniqueness,
// and persists a new account with balance 0 and a fresh key. Creation
// is not a balance mutation, so no log record is written.
func (e *Engine) CreateAccount(ctx context.Context, name, doc string) (Account, error) {
	e.log.Info("creating account", zap.String("document", doc))

	if !document.Valid(doc) {
		e.log.Warn("invalid document", zap.String("document", doc))
		return Account{}, &InvalidDocumentError{Document: doc}
	}

	exists, err := e.store.ExistsByDocument(ctx, doc)
	if err != nil {
		return Account{}, err
	}
	if exists {
		e.log.Warn("document already exists", zap.String("document", doc))
		return Account{}, &DocumentExistsError{Document: doc}
	}

	account := Account{
		Key:      e.newKey(),
		Name:     name,
		Document: doc,
		Balance:  0,
		Version:  1,
	}

	// The store re-checks document uniqueness at write time, so two
	// concurrent creations racing past the check above cannot both land.
	created, err := e.store.CreateAccount(ctx, account)
	if err != nil {
		return Account{}, err
	}

	e.log.Info("account created", zap.String("key", created.Key))
	return created, nil
}

// =============================================================================
// DEPOSIT
// =============================================================================

// Deposit adds amount to the account's balance and records a Deposit,
// atomically. Amount must lie in [MinDepositAmount, deposit limit].
func (e *Engine) Deposit(ctx context.Context, accountKey string, amount int64) (Account, error) {
	e.log.Info("depositing", zap.String("key", accountKey), zap.Int64("amount", amount))

	var updated Account
	err := e.withConflictRetry(ctx, accountKey, func(s Store) error {
		account, err := s.GetAccount(ctx, accountKey)
		if err != nil {
			return err
		}

		if amount < MinDepositAmount || amount > e.depositLimit {
			return &DepositAmountError{Amount: amount, Limit: e.depositLimit}
		}
		if account.Balance > math.MaxInt64-amount {
			return ErrBalanceOverflow
		}

		account.Balance += amount
		updated, err = s.UpdateAccount(ctx, account, account.Version)
		if err != nil {
			return err
		}

		return s.AppendDeposit(ctx, Deposit{
			AccountKey: accountKey,
			Amount:     amount,
			Time:       e.clock.Now(),
		})
	})
	if err != nil {
		e.log.Warn("deposit failed", zap.String("key", accountKey), zap.Error(err))
		return Account{}, err
	}

	e.log.Info("deposit committed",
		zap.String("key", updated.Key), zap.Int64("balance", updated.Balance))
	return updated, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer moves amount from origin to target and records a Transfer.
// Debit, credit, and record are one atomic unit: a partial application
// is never visible. Returns the updated origin account.
func (e *Engine) Transfer(ctx context.Context, originKey, targetKey string, amount int64) (Account, error) {
	e.log.Info("transferring",
		zap.String("origin", originKey), zap.String("target", targetKey), zap.Int64("amount", amount))

	if originKey == targetKey {
		return Account{}, &SameAccountError{Key: originKey}
	}

	var updated Account
	err := e.withConflictRetry(ctx, originKey, func(s Store) error {
		origin, err := s.GetAccount(ctx, originKey)
		if err != nil {
			return err
		}
		target, err := s.GetAccount(ctx, targetKey)
		if err != nil {
			return err
		}

		if amount < MinTransferAmount {
			return &TransferAmountError{Amount: amount}
		}
		remaining := origin.Balance - amount
		if remaining < MinTransferAmount {
			return &InsufficientFundsError{
				OriginAccountKey: originKey,
				Amount:           amount,
				ResultingBalance: remaining,
			}
		}
		if target.Balance > math.MaxInt64-amount {
			return ErrBalanceOverflow
		}

		origin.Balance = remaining
		target.Balance += amount

		// Key-ordered writes: two opposing transfers always touch the
		// rows in the same order.
		first, second := origin, target
		if second.Key < first.Key {
			first, second = second, first
		}
		u1, err := s.UpdateAccount(ctx, first, first.Version)
		if err != nil {
			return err
		}
		u2, err := s.UpdateAccount(ctx, second, second.Version)
		if err != nil {
			return err
		}
		if u1.Key == originKey {
			updated = u1
		} else {
			updated = u2
		}

		return s.AppendTransfer(ctx, Transfer{
			OriginAccountKey: originKey,
			TargetAccountKey: targetKey,
			Amount:           amount,
			Time:             e.clock.Now(),
		})
	})
	if err != nil {
		e.log.Warn("transfer failed",
			zap.String("origin", originKey), zap.String("target", targetKey), zap.Error(err))
		return Account{}, err
	}

	e.log.Info("transfer committed",
		zap.String("origin", originKey), zap.String("target", targetKey),
		zap.Int64("origin_balance", updated.Balance))
	return updated, nil
}

// =============================================================================
// READS
// =============================================================================

// FindAccount returns the account for key, or NotFoundError.
func (e *Engine) FindAccount(ctx context.Context, key string) (Account, error) {
	return e.store.GetAccount(ctx, key)
}

// ListAccounts returns all accounts in creation order.
func (e *Engine) ListAccounts(ctx context.Context) ([]Account, error) {
	return e.store.ListAccounts(ctx)
}

// ListDeposits returns the deposits into accountKey, time ascending.
func (e *Engine) ListDeposits(ctx context.Context, accountKey string) ([]Deposit, error) {
	return e.store.DepositsByAccount(ctx, accountKey)
}

// ListTransfers returns the transfers out of originKey, time ascending.
func (e *Engine) ListTransfers(ctx context.Context, originKey string) ([]Transfer, error) {
	return e.store.TransfersByOrigin(ctx, originKey)
}

// =============================================================================
// CONFLICT RETRY
// =============================================================================

// withConflictRetry runs the read-validate-write cycle atomically,
// retrying the whole cycle when the store reports a stale version.
func (e *Engine) withConflictRetry(ctx context.Context, key string, fn func(Store) error) error {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := e.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		e.log.Info("version conflict, retrying",
			zap.String("key", key), zap.Int("attempt", attempt))
	}
	return &UpdateConflictError{Key: key, Attempts: maxUpdateAttempts}
}
