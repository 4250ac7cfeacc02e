/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Production persistence for accounts and the transaction log. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  accounts:   Keyed account records with an optimistic-concurrency
              version column and a unique document index
  deposits:   Append-only deposit records
  transfers:  Append-only transfer records

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements ever touch deposits or transfers.

OPTIMISTIC CONCURRENCY:
  UpdateAccount runs
    UPDATE accounts ... WHERE key = ? AND version = ?
  and treats zero affected rows as either a missing account or a stale
  version, mapped to the matching ledger error.

ORDERING:
  List queries order by time, then by the autoincrement sequence, so
  records committed within the same second keep insertion order and
  repeated reads return identical results.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brim/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		document TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL CHECK (balance >= 0),
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Append-only: no UPDATE or DELETE ever runs against these tables.
	CREATE TABLE IF NOT EXISTS deposits (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		account_key TEXT NOT NULL,
		amount INTEGER NOT NULL,
		time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_account_time
		ON deposits(account_key, time);

	CREATE TABLE IF NOT EXISTS transfers (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		origin_key TEXT NOT NULL,
		target_key TEXT NOT NULL,
		amount INTEGER NOT NULL,
		time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_origin_time
		ON transfers(origin_key, time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every query below
// works inside and outside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, account)
}

func createAccount(ctx context.Context, db dbtx, account ledger.Account) (ledger.Account, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (key, name, document, balance, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account.Key,
		account.Name,
		account.Document,
		account.Balance,
		account.Version,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Account{}, &ledger.DocumentExistsError{Document: account.Document}
		}
		return ledger.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, key string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, key)
}

func getAccount(ctx context.Context, db dbtx, key string) (ledger.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT key, name, document, balance, version
		FROM accounts WHERE key = ?`, key)
	return scanAccount(row, key)
}

func (s *Store) GetAccountByDocument(ctx context.Context, document string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccountByDocument(ctx, s.db, document)
}

func getAccountByDocument(ctx context.Context, db dbtx, document string) (ledger.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT key, name, document, balance, version
		FROM accounts WHERE document = ?`, document)
	return scanAccount(row, document)
}

func scanAccount(row *sql.Row, lookup string) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.Key, &a.Name, &a.Document, &a.Balance, &a.Version)
	if err == sql.ErrNoRows {
		return ledger.Account{}, &ledger.NotFoundError{Key: lookup}
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to scan account: %w", err)
	}
	return a, nil
}

func (s *Store) ExistsByDocument(ctx context.Context, document string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return existsByDocument(ctx, s.db, document)
}

func existsByDocument(ctx context.Context, db dbtx, document string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE document = ?", document,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db)
}

func listAccounts(ctx context.Context, db dbtx) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT key, name, document, balance, version
		FROM accounts ORDER BY created_at ASC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.Key, &a.Name, &a.Document, &a.Balance, &a.Version); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) UpdateAccount(ctx context.Context, account ledger.Account, expectedVersion int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAccount(ctx, s.db, account, expectedVersion)
}

func updateAccount(ctx context.Context, db dbtx, account ledger.Account, expectedVersion int64) (ledger.Account, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE accounts SET name = ?, balance = ?, version = ?
		WHERE key = ? AND version = ?`,
		account.Name,
		account.Balance,
		expectedVersion+1,
		account.Key,
		expectedVersion,
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.Account{}, err
	}
	if affected == 0 {
		// Missing row and stale version both leave zero rows affected.
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE key = ?", account.Key,
		).Scan(&count); err != nil {
			return ledger.Account{}, err
		}
		if count == 0 {
			return ledger.Account{}, &ledger.NotFoundError{Key: account.Key}
		}
		return ledger.Account{}, ledger.ErrVersionConflict
	}

	account.Version = expectedVersion + 1
	return account, nil
}

// =============================================================================
// TRANSACTION LOG (ledger.TransactionLog interface)
// =============================================================================

func (s *Store) AppendDeposit(ctx context.Context, deposit ledger.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendDeposit(ctx, s.db, deposit)
}

func appendDeposit(ctx context.Context, db dbtx, deposit ledger.Deposit) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO deposits (account_key, amount, time) VALUES (?, ?, ?)`,
		deposit.AccountKey,
		deposit.Amount,
		deposit.Time.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append deposit: %w", err)
	}
	return nil
}

func (s *Store) AppendTransfer(ctx context.Context, transfer ledger.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransfer(ctx, s.db, transfer)
}

func appendTransfer(ctx context.Context, db dbtx, transfer ledger.Transfer) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transfers (origin_key, target_key, amount, time) VALUES (?, ?, ?, ?)`,
		transfer.OriginAccountKey,
		transfer.TargetAccountKey,
		transfer.Amount,
		transfer.Time.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append transfer: %w", err)
	}
	return nil
}

func (s *Store) DepositsByAccount(ctx context.Context, accountKey string) ([]ledger.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return depositsByAccount(ctx, s.db, accountKey)
}

func depositsByAccount(ctx context.Context, db dbtx, accountKey string) ([]ledger.Deposit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT account_key, amount, time FROM deposits
		WHERE account_key = ?
		ORDER BY time ASC, seq ASC`, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}
	defer rows.Close()

	var deposits []ledger.Deposit
	for rows.Next() {
		var (
			d  ledger.Deposit
			ts string
		)
		if err := rows.Scan(&d.AccountKey, &d.Amount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		d.Time, _ = time.Parse(time.RFC3339, ts)
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func (s *Store) TransfersByOrigin(ctx context.Context, originKey string) ([]ledger.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transfersByOrigin(ctx, s.db, originKey)
}

func transfersByOrigin(ctx context.Context, db dbtx, originKey string) ([]ledger.Transfer, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT origin_key, target_key, amount, time FROM transfers
		WHERE origin_key = ?
		ORDER BY time ASC, seq ASC`, originKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []ledger.Transfer
	for rows.Next() {
		var (
			t  ledger.Transfer
			ts string
		)
		if err := rows.Scan(&t.OriginAccountKey, &t.TargetAccountKey, &t.Amount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.Time, _ = time.Parse(time.RFC3339, ts)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is
// held for the duration, matching SQLite's single-writer model.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	return createAccount(ctx, ts.tx, account)
}

func (ts *txStore) GetAccount(ctx context.Context, key string) (ledger.Account, error) {
	return getAccount(ctx, ts.tx, key)
}

func (ts *txStore) GetAccountByDocument(ctx context.Context, document string) (ledger.Account, error) {
	return getAccountByDocument(ctx, ts.tx, document)
}

func (ts *txStore) ExistsByDocument(ctx context.Context, document string) (bool, error) {
	return existsByDocument(ctx, ts.tx, document)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx)
}

func (ts *txStore) UpdateAccount(ctx context.Context, account ledger.Account, expectedVersion int64) (ledger.Account, error) {
	return updateAccount(ctx, ts.tx, account, expectedVersion)
}

func (ts *txStore) AppendDeposit(ctx context.Context, deposit ledger.Deposit) error {
	return appendDeposit(ctx, ts.tx, deposit)
}

func (ts *txStore) AppendTransfer(ctx context.Context, transfer ledger.Transfer) error {
	return appendTransfer(ctx, ts.tx, transfer)
}

func (ts *txStore) DepositsByAccount(ctx context.Context, accountKey string) ([]ledger.Deposit, error) {
	return depositsByAccount(ctx, ts.tx, accountKey)
}

func (ts *txStore) TransfersByOrigin(ctx context.Context, originKey string) ([]ledger.Transfer, error) {
	return transfersByOrigin(ctx, ts.tx, originKey)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
