package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brim/ledger-engine/ledger"
	"github.com/brim/ledger-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// Arithmetically valid documents for test accounts.
const (
	docJohn  = "187.958.930-32"
	docJane  = "111.444.777-35"
	docOther = "529.982.247-25"
)

func newTestEngine(opts ...ledger.Option) *ledger.Engine {
	return ledger.NewEngine(store.NewMemory(), defaultTestOpts(opts)...)
}

func defaultTestOpts(extra []ledger.Option) []ledger.Option {
	n := 0
	base := []ledger.Option{
		ledger.WithClock(ledger.FixedClock{Instant: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}),
		ledger.WithKeyFunc(func() string {
			n++
			return fmt.Sprintf("acc-%d", n)
		}),
	}
	return append(base, extra...)
}

// =============================================================================
// CREATE ACCOUNT
// =============================================================================

func TestCreateAccount_Valid(t *testing.T) {
	// GIVEN: A fresh engine
	// WHEN: Creating an account with a valid document
	// THEN: The account exists with balance 0 and a server-assigned key

	engine := newTestEngine()
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	assert.NotEmpty(t, account.Key)
	assert.Equal(t, "John Doe", account.Name)
	assert.Equal(t, docJohn, account.Document)
	assert.Equal(t, int64(0), account.Balance)

	found, err := engine.FindAccount(ctx, account.Key)
	require.NoError(t, err)
	assert.Equal(t, account, found)
}

func TestCreateAccount_InvalidDocument(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.CreateAccount(context.Background(), "John Doe", "187.958.930-31")

	assert.ErrorIs(t, err, ledger.ErrInvalidDocument)
	assert.True(t, ledger.IsClientError(err))
}

func TestCreateAccount_DuplicateDocument(t *testing.T) {
	// GIVEN: An account holding a document
	// WHEN: Creating a second account with the same document
	// THEN: The second creation fails and the store keeps exactly one account

	engine := newTestEngine()
	ctx := context.Background()

	_, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	_, err = engine.CreateAccount(ctx, "Impostor", docJohn)
	assert.ErrorIs(t, err, ledger.ErrDocumentExists)

	accounts, err := engine.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.Equal(t, "John Doe", accounts[0].Name)
}

func TestCreateAccount_NoLogEntry(t *testing.T) {
	// Creation is not a balance mutation; it must leave no audit record.

	engine := newTestEngine()
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	deposits, err := engine.ListDeposits(ctx, account.Key)
	require.NoError(t, err)
	assert.Empty(t, deposits)
}

// =============================================================================
// DEPOSIT
// =============================================================================

func TestDeposit_Scenario(t *testing.T) {
	// GIVEN: An account with balance 0
	// WHEN: Depositing 100, then -1, then 2001 (limit 2000)
	// THEN: Only the first succeeds and the balance stays 100

	engine := newTestEngine()
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	updated, err := engine.Deposit(ctx, account.Key, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.Balance)

	_, err = engine.Deposit(ctx, account.Key, -1)
	assert.ErrorIs(t, err, ledger.ErrInvalidDepositAmount)
	assert.Contains(t, err.Error(), "cannot be negative")

	_, err = engine.Deposit(ctx, account.Key, 2001)
	assert.ErrorIs(t, err, ledger.ErrInvalidDepositAmount)
	assert.Contains(t, err.Error(), "security limit of 2000")

	found, err := engine.FindAccount(ctx, account.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), found.Balance)
}

func TestDeposit_AtLimit(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	// The limit itself is allowed, as is zero.
	_, err = engine.Deposit(ctx, account.Key, 2000)
	assert.NoError(t, err)
	updated, err := engine.Deposit(ctx, account.Key, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(2000), updated.Balance)
}

func TestDeposit_ConfigurableLimit(t *testing.T) {
	engine := newTestEngine(ledger.WithDepositLimit(50))
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	_, err = engine.Deposit(ctx, account.Key, 51)
	assert.ErrorIs(t, err, ledger.ErrInvalidDepositAmount)
	assert.Contains(t, err.Error(), "security limit of 50")

	// The check is against the amount, not the resulting balance: a
	// non-zero starting balance does not shrink the allowed deposit.
	_, err = engine.Deposit(ctx, account.Key, 50)
	require.NoError(t, err)
	updated, err := engine.Deposit(ctx, account.Key, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.Balance)
}

func TestDeposit_AccountNotFound(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Deposit(context.Background(), "missing", 100)

	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestDeposit_RecordsAuditEntry(t *testing.T) {
	// GIVEN: A fixed clock
	// WHEN: Depositing twice
	// THEN: Both records exist in order with the commit timestamp

	at := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(ledger.WithClock(ledger.FixedClock{Instant: at}))
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	_, err = engine.Deposit(ctx, account.Key, 100)
	require.NoError(t, err)
	_, err = engine.Deposit(ctx, account.Key, 250)
	require.NoError(t, err)

	deposits, err := engine.ListDeposits(ctx, account.Key)
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	assert.Equal(t, int64(100), deposits[0].Amount)
	assert.Equal(t, int64(250), deposits[1].Amount)
	assert.Equal(t, at, deposits[0].Time)

	// Failed deposits leave no record.
	_, err = engine.Deposit(ctx, account.Key, -5)
	require.Error(t, err)
	again, err := engine.ListDeposits(ctx, account.Key)
	require.NoError(t, err)
	assert.Equal(t, deposits, again, "reads are idempotent and failures leave no trace")
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_Scenario(t *testing.T) {
	// GIVEN: A with 500, B with 0
	// WHEN: Transferring 250 from A to B
	// THEN: Both end at 250 and money is conserved; the over-balance
	//       transfer, self transfer, and negative transfer all fail

	engine := newTestEngine()
	ctx := context.Background()

	a, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)
	b, err := engine.CreateAccount(ctx, "Jane Roe", docJane)
	require.NoError(t, err)

	_, err = engine.Deposit(ctx, a.Key, 500)
	require.NoError(t, err)

	updatedOrigin, err := engine.Transfer(ctx, a.Key, b.Key, 250)
	require.NoError(t, err)
	assert.Equal(t, a.Key, updatedOrigin.Key)
	assert.Equal(t, int64(250), updatedOrigin.Balance)

	bAfter, err := engine.FindAccount(ctx, b.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(250), bAfter.Balance)

	// Insufficient funds: the error names the balance the transfer
	// would have produced.
	_, err = engine.Transfer(ctx, a.Key, b.Key, 600)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransferAmount)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(-350), insufficient.ResultingBalance)
	assert.Contains(t, err.Error(), "-350")

	_, err = engine.Transfer(ctx, a.Key, a.Key, 10)
	assert.ErrorIs(t, err, ledger.ErrInvalidTargetAccount)

	_, err = engine.Transfer(ctx, a.Key, b.Key, -10)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransferAmount)

	// Nothing above changed the balances.
	aFinal, _ := engine.FindAccount(ctx, a.Key)
	bFinal, _ := engine.FindAccount(ctx, b.Key)
	assert.Equal(t, int64(250), aFinal.Balance)
	assert.Equal(t, int64(250), bFinal.Balance)
}

func TestTransfer_Conservation(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	a, _ := engine.CreateAccount(ctx, "A", docJohn)
	b, _ := engine.CreateAccount(ctx, "B", docJane)
	_, err := engine.Deposit(ctx, a.Key, 1700)
	require.NoError(t, err)
	_, err = engine.Deposit(ctx, b.Key, 300)
	require.NoError(t, err)

	for _, amount := range []int64{1, 99, 400, 1200} {
		before := totalBalance(t, engine)
		_, err := engine.Transfer(ctx, a.Key, b.Key, amount)
		require.NoError(t, err)
		assert.Equal(t, before, totalBalance(t, engine), "transfer of %d must conserve money", amount)
	}
}

func TestTransfer_UnknownAccounts(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	a, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	_, err = engine.Transfer(ctx, "missing", a.Key, 10)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = engine.Transfer(ctx, a.Key, "missing", 10)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestTransfer_RecordsAuditEntry(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	a, _ := engine.CreateAccount(ctx, "A", docJohn)
	b, _ := engine.CreateAccount(ctx, "B", docJane)
	_, err := engine.Deposit(ctx, a.Key, 500)
	require.NoError(t, err)

	_, err = engine.Transfer(ctx, a.Key, b.Key, 200)
	require.NoError(t, err)

	transfers, err := engine.ListTransfers(ctx, a.Key)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, a.Key, transfers[0].OriginAccountKey)
	assert.Equal(t, b.Key, transfers[0].TargetAccountKey)
	assert.Equal(t, int64(200), transfers[0].Amount)

	// The record is indexed by origin, not target.
	fromTarget, err := engine.ListTransfers(ctx, b.Key)
	require.NoError(t, err)
	assert.Empty(t, fromTarget)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentDeposits_NoLostUpdates(t *testing.T) {
	// GIVEN: A fresh account with balance 0
	// WHEN: N goroutines each deposit k concurrently
	// THEN: The final balance is exactly N*k

	engine := newTestEngine()
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	const (
		n = 50
		k = int64(7)
	)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Deposit(ctx, account.Key, k)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := engine.FindAccount(ctx, account.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(n)*k, final.Balance)

	deposits, err := engine.ListDeposits(ctx, account.Key)
	require.NoError(t, err)
	assert.Len(t, deposits, n)
}

func TestConcurrentOpposingTransfers_Conserved(t *testing.T) {
	// Two accounts transferring to each other concurrently must neither
	// deadlock nor lose money.

	engine := newTestEngine()
	ctx := context.Background()

	a, _ := engine.CreateAccount(ctx, "A", docJohn)
	b, _ := engine.CreateAccount(ctx, "B", docJane)
	_, err := engine.Deposit(ctx, a.Key, 1000)
	require.NoError(t, err)
	_, err = engine.Deposit(ctx, b.Key, 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(ctx, a.Key, b.Key, 10)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(ctx, b.Key, a.Key, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	aFinal, _ := engine.FindAccount(ctx, a.Key)
	bFinal, _ := engine.FindAccount(ctx, b.Key)
	assert.Equal(t, int64(2000), aFinal.Balance+bFinal.Balance)
	assert.GreaterOrEqual(t, aFinal.Balance, int64(0))
	assert.GreaterOrEqual(t, bFinal.Balance, int64(0))
}

func TestDeposit_RetriesExhausted(t *testing.T) {
	// GIVEN: A store whose updates always report a stale version
	// WHEN: Depositing
	// THEN: The engine gives up with ErrUpdateConflict after bounded retries

	mem := store.NewMemory()
	engine := ledger.NewEngine(&conflictStore{Memory: mem}, defaultTestOpts(nil)...)
	ctx := context.Background()

	account, err := engine.CreateAccount(ctx, "John Doe", docJohn)
	require.NoError(t, err)

	_, err = engine.Deposit(ctx, account.Key, 100)
	assert.ErrorIs(t, err, ledger.ErrUpdateConflict)

	var conflict *ledger.UpdateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.Attempts)

	// The failed operation left nothing behind.
	final, err := engine.FindAccount(ctx, account.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), final.Balance)
	deposits, _ := engine.ListDeposits(ctx, account.Key)
	assert.Empty(t, deposits)
}

// conflictStore wraps the memory store so that every UpdateAccount
// inside WithTx reports a stale version.
type conflictStore struct {
	*store.Memory
}

func (c *conflictStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return c.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&conflictView{Store: s})
	})
}

type conflictView struct {
	ledger.Store
}

func (v *conflictView) UpdateAccount(context.Context, ledger.Account, int64) (ledger.Account, error) {
	return ledger.Account{}, ledger.ErrVersionConflict
}

// =============================================================================
// RANDOMIZED INVARIANT CHECK
// =============================================================================

func TestRandomOperationSequence_InvariantsHold(t *testing.T) {
	// Apply a random mix of deposits and transfers. After every step:
	// no balance is negative, and the total equals the sum of all
	// successfully deposited amounts.

	engine := newTestEngine()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	keys := make([]string, 0, 3)
	for i, doc := range []string{docJohn, docJane, docOther} {
		account, err := engine.CreateAccount(ctx, fmt.Sprintf("Holder %d", i), doc)
		require.NoError(t, err)
		keys = append(keys, account.Key)
	}

	var deposited int64
	for step := 0; step < 300; step++ {
		switch rng.Intn(2) {
		case 0:
			amount := rng.Int63n(2600) - 200 // some negative, some over limit
			if _, err := engine.Deposit(ctx, keys[rng.Intn(len(keys))], amount); err == nil {
				deposited += amount
			} else {
				require.True(t, ledger.IsClientError(err), "unexpected failure: %v", err)
			}
		case 1:
			origin := keys[rng.Intn(len(keys))]
			target := keys[rng.Intn(len(keys))]
			amount := rng.Int63n(900) - 100
			if _, err := engine.Transfer(ctx, origin, target, amount); err != nil {
				require.True(t, ledger.IsClientError(err), "unexpected failure: %v", err)
			}
		}

		var total int64
		accounts, err := engine.ListAccounts(ctx)
		require.NoError(t, err)
		for _, a := range accounts {
			require.GreaterOrEqual(t, a.Balance, int64(0), "step %d: negative balance on %s", step, a.Key)
			total += a.Balance
		}
		require.Equal(t, deposited, total, "step %d: money not conserved", step)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func totalBalance(t *testing.T, engine *ledger.Engine) int64 {
	t.Helper()
	accounts, err := engine.ListAccounts(context.Background())
	require.NoError(t, err)
	var total int64
	for _, a := range accounts {
		total += a.Balance
	}
	return total
}

// Compile-time interface checks for both bundled stores live here so a
// drift in the contracts fails loudly.
var _ ledger.TxStore = (*store.Memory)(nil)

func TestErrorTaxonomyHelpers(t *testing.T) {
	assert.True(t, ledger.IsRetryable(ledger.ErrVersionConflict))
	assert.False(t, ledger.IsRetryable(ledger.ErrUpdateConflict))
	assert.True(t, ledger.IsConflict(ledger.ErrDocumentExists))
	assert.True(t, ledger.IsConflict(ledger.ErrUpdateConflict))
	assert.False(t, ledger.IsClientError(errors.New("boom")))
	assert.True(t, ledger.IsNotFound(&ledger.NotFoundError{Key: "x"}))
}
