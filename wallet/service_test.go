package wallet_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/store/memory"
	"github.com/brpix/wallet-engine/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*wallet.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return wallet.NewService(st.Wallets, st.Ledger), st
}

func activeWallet(t *testing.T, svc *wallet.Service) ledger.WalletID {
	t.Helper()
	wl, err := svc.Create(context.Background())
	require.NoError(t, err)
	return wl.ID
}

func amount(s string) ledger.Amount { return ledger.MustParseAmount(s) }

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestCreate_NewWalletIsActiveAndEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	wl, err := svc.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusActive, wl.Status)
	assert.NotEmpty(t, wl.ID)

	bal, err := svc.Balance(ctx, wl.ID, nil)
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
	assert.True(t, bal.Available.IsZero())
}

func TestBalance_UnknownWallet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Balance(context.Background(), "w-ghost", nil)
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
}

// =============================================================================
// DEPOSIT
// =============================================================================

func TestDeposit_CreditsWallet(t *testing.T) {
	// GIVEN: A fresh wallet
	// WHEN: 150.50 is deposited twice under distinct keys
	// THEN: The balance is 301.00

	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("150.50"), "dep-1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, walletID, amount("150.50"), "dep-2")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "301.00", bal.Balance.String())
}

func TestDeposit_Replay_CreditsOnce(t *testing.T) {
	// GIVEN: A deposit applied under key dep-1
	// WHEN: The identical request is replayed
	// THEN: It succeeds and the wallet is credited exactly once

	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	first, err := svc.Deposit(ctx, walletID, amount("100.00"), "dep-1")
	require.NoError(t, err)
	second, err := svc.Deposit(ctx, walletID, amount("100.00"), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	bal, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.Balance.String())
}

func TestDeposit_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("0.00"), "dep-1")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.Deposit(ctx, walletID, amount("10.00"), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.Deposit(ctx, "w-ghost", amount("10.00"), "dep-2")
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
}

func TestDeposit_BlockedWallet_Rejected(t *testing.T) {
	svc, st := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	wl, err := st.Wallets.ByID(ctx, walletID)
	require.NoError(t, err)
	wl.Status = wallet.StatusBlocked
	_, err = st.Wallets.Create(ctx, wl)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, walletID, amount("10.00"), "dep-1")
	assert.ErrorIs(t, err, wallet.ErrWalletBlocked)
}

// =============================================================================
// WITHDRAW
// =============================================================================

func TestWithdraw_DebitsWallet(t *testing.T) {
	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("100.00"), "dep-1")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, walletID, amount("30.00"), "wd-1")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "70.00", bal.Balance.String())
}

func TestWithdraw_InsufficientFunds_Rejected(t *testing.T) {
	// GIVEN: A wallet holding 50
	// WHEN: 60 is withdrawn
	// THEN: The debit is refused and the balance is unchanged

	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("50.00"), "dep-1")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, walletID, amount("60.00"), "wd-1")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	bal, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.Balance.String())
}

func TestWithdraw_HeldFunds_NotSpendable(t *testing.T) {
	// GIVEN: 100 in the wallet with an 80 hold open
	// WHEN: 30 is withdrawn
	// THEN: The debit is refused; held funds are not spendable

	svc, st := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("100.00"), "dep-1")
	require.NoError(t, err)

	rm := ledger.NewReservationManager(st.Ledger)
	_, err = rm.Reserve(ctx, walletID, amount("80.00"), "hold-1", "E2E-1")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, walletID, amount("30.00"), "wd-1")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestWithdraw_Replay_DebitsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("100.00"), "dep-1")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, walletID, amount("40.00"), "wd-1")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, walletID, amount("40.00"), "wd-1")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "60.00", bal.Balance.String())
}

func TestWithdraw_ConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: A wallet holding exactly 100
	// WHEN: 10 goroutines race to withdraw 30 each
	// THEN: Exactly 3 succeed and the balance lands on 10

	svc, _ := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, walletID, amount("100.00"), "dep-1")
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, walletID, amount("30.00"), fmt.Sprintf("wd-%d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 3, succeeded)

	bal, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.00", bal.Balance.String())
}

// =============================================================================
// AS-OF BALANCE
// =============================================================================

func TestBalance_AsOf_ReflectsPointInTime(t *testing.T) {
	// GIVEN: A deposit, then a later withdrawal
	// WHEN: The balance is asked for as of a time between the two
	// THEN: Only the deposit is visible

	svc, st := newTestService(t)
	walletID := activeWallet(t, svc)
	ctx := context.Background()

	jan := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	journal := ledger.NewJournal(st.Ledger)
	_, err := journal.Append(ctx, ledger.Entry{
		WalletID: walletID, Operation: ledger.OpDeposit,
		Amount: amount("200.00"), EffectiveAt: jan, IdempotencyKey: "dep-1",
	})
	require.NoError(t, err)
	_, err = journal.Append(ctx, ledger.Entry{
		WalletID: walletID, Operation: ledger.OpWithdraw,
		Amount: amount("50.00"), EffectiveAt: mar, IdempotencyKey: "wd-1",
	})
	require.NoError(t, err)

	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	bal, err := svc.Balance(ctx, walletID, &feb)
	require.NoError(t, err)
	assert.Equal(t, "200.00", bal.Balance.String())

	now, err := svc.Balance(ctx, walletID, nil)
	require.NoError(t, err)
	assert.Equal(t, "150.00", now.Balance.String())
}
