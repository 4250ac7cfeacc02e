// Package store provides an in-memory TxStore for tests and dev.
package store

import (
	"context"
	"sync"

	"github.com/brim/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds accounts and transaction records in maps guarded by a
// single RWMutex. WithTx takes the write lock for its whole extent, so
// transactional cycles are serialized and rolled back via snapshot.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[string]ledger.Account
	byDocument map[string]string // document -> account key
	order      []string          // account keys in creation order
	deposits   map[string][]ledger.Deposit
	transfers  map[string][]ledger.Transfer
}

func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[string]ledger.Account),
		byDocument: make(map[string]string),
		deposits:   make(map[string][]ledger.Deposit),
		transfers:  make(map[string][]ledger.Transfer),
	}
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, account ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(account)
}

func (m *Memory) createAccountLocked(account ledger.Account) (ledger.Account, error) {
	if _, taken := m.byDocument[account.Document]; taken {
		return ledger.Account{}, &ledger.DocumentExistsError{Document: account.Document}
	}
	m.accounts[account.Key] = account
	m.byDocument[account.Document] = account.Key
	m.order = append(m.order, account.Key)
	return account, nil
}

func (m *Memory) GetAccount(_ context.Context, key string) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(key)
}

func (m *Memory) getAccountLocked(key string) (ledger.Account, error) {
	account, ok := m.accounts[key]
	if !ok {
		return ledger.Account{}, &ledger.NotFoundError{Key: key}
	}
	return account, nil
}

func (m *Memory) GetAccountByDocument(_ context.Context, document string) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byDocument[document]
	if !ok {
		return ledger.Account{}, &ledger.NotFoundError{Key: document}
	}
	return m.accounts[key], nil
}

func (m *Memory) ExistsByDocument(_ context.Context, document string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byDocument[document]
	return ok, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked()
}

func (m *Memory) listAccountsLocked() ([]ledger.Account, error) {
	accounts := make([]ledger.Account, 0, len(m.order))
	for _, key := range m.order {
		accounts = append(accounts, m.accounts[key])
	}
	return accounts, nil
}

func (m *Memory) UpdateAccount(_ context.Context, account ledger.Account, expectedVersion int64) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccountLocked(account, expectedVersion)
}

func (m *Memory) updateAccountLocked(account ledger.Account, expectedVersion int64) (ledger.Account, error) {
	current, ok := m.accounts[account.Key]
	if !ok {
		return ledger.Account{}, &ledger.NotFoundError{Key: account.Key}
	}
	if current.Version != expectedVersion {
		return ledger.Account{}, ledger.ErrVersionConflict
	}
	account.Version = expectedVersion + 1
	m.accounts[account.Key] = account
	return account, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (m *Memory) AppendDeposit(_ context.Context, deposit ledger.Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendDepositLocked(deposit)
}

func (m *Memory) appendDepositLocked(deposit ledger.Deposit) error {
	m.deposits[deposit.AccountKey] = append(m.deposits[deposit.AccountKey], deposit)
	return nil
}

func (m *Memory) AppendTransfer(_ context.Context, transfer ledger.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransferLocked(transfer)
}

func (m *Memory) appendTransferLocked(transfer ledger.Transfer) error {
	m.transfers[transfer.OriginAccountKey] = append(m.transfers[transfer.OriginAccountKey], transfer)
	return nil
}

// DepositsByAccount returns deposits in append order, which is
// chronological: commits assign timestamps monotonically.
func (m *Memory) DepositsByAccount(_ context.Context, accountKey string) ([]ledger.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Deposit, len(m.deposits[accountKey]))
	copy(result, m.deposits[accountKey])
	return result, nil
}

func (m *Memory) TransfersByOrigin(_ context.Context, originKey string) ([]ledger.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Transfer, len(m.transfers[originKey]))
	copy(result, m.transfers[originKey])
	return result, nil
}

// =============================================================================
// TRANSACTIONAL UNIT OF WORK
// =============================================================================

// WithTx executes fn against a transactional view. The write lock is
// held throughout, and a snapshot is restored if fn fails, so partial
// writes are never visible.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts   map[string]ledger.Account
	byDocument map[string]string
	order      []string
	deposits   map[string][]ledger.Deposit
	transfers  map[string][]ledger.Transfer
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:   make(map[string]ledger.Account, len(m.accounts)),
		byDocument: make(map[string]string, len(m.byDocument)),
		order:      append([]string(nil), m.order...),
		deposits:   make(map[string][]ledger.Deposit, len(m.deposits)),
		transfers:  make(map[string][]ledger.Transfer, len(m.transfers)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.byDocument {
		s.byDocument[k] = v
	}
	for k, v := range m.deposits {
		s.deposits[k] = append([]ledger.Deposit(nil), v...)
	}
	for k, v := range m.transfers {
		s.transfers[k] = append([]ledger.Transfer(nil), v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.byDocument = s.byDocument
	m.order = s.order
	m.deposits = s.deposits
	m.transfers = s.transfers
}

// txView is the view handed to WithTx callbacks. The parent's lock is
// already held, so it calls the unlocked internals.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateAccount(_ context.Context, account ledger.Account) (ledger.Account, error) {
	return tv.parent.createAccountLocked(account)
}

func (tv *txView) GetAccount(_ context.Context, key string) (ledger.Account, error) {
	return tv.parent.getAccountLocked(key)
}

func (tv *txView) GetAccountByDocument(_ context.Context, document string) (ledger.Account, error) {
	key, ok := tv.parent.byDocument[document]
	if !ok {
		return ledger.Account{}, &ledger.NotFoundError{Key: document}
	}
	return tv.parent.accounts[key], nil
}

func (tv *txView) ExistsByDocument(_ context.Context, document string) (bool, error) {
	_, ok := tv.parent.byDocument[document]
	return ok, nil
}

func (tv *txView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return tv.parent.listAccountsLocked()
}

func (tv *txView) UpdateAccount(_ context.Context, account ledger.Account, expectedVersion int64) (ledger.Account, error) {
	return tv.parent.updateAccountLocked(account, expectedVersion)
}

func (tv *txView) AppendDeposit(_ context.Context, deposit ledger.Deposit) error {
	return tv.parent.appendDepositLocked(deposit)
}

func (tv *txView) AppendTransfer(_ context.Context, transfer ledger.Transfer) error {
	return tv.parent.appendTransferLocked(transfer)
}

func (tv *txView) DepositsByAccount(_ context.Context, accountKey string) ([]ledger.Deposit, error) {
	return tv.parent.deposits[accountKey], nil
}

func (tv *txView) TransfersByOrigin(_ context.Context, originKey string) ([]ledger.Transfer, error) {
	return tv.parent.transfers[originKey], nil
}
