package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
	"github.com/kolobox/settle/pkg/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	storage := store.NewMemoryStore()
	return New(storage, store.NewKeyedMutex(), zap.NewNop()), storage
}

func contribution(accountID string, amount money.Money, ref string) *models.Transaction {
	return &models.Transaction{
		AccountID:         accountID,
		Kind:              models.TxContribution,
		Amount:            amount,
		Source:            models.PoolExternal,
		Destination:       models.PoolContribution,
		ExternalReference: ref,
	}
}

func TestPostCreditsDestination(t *testing.T) {
	l, _ := newTestLedger(t)

	balances, err := l.Post(contribution("alice", money.NGNNaira(10_000), "c1"))
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(10_000), balances.Contribution)
}

func TestPostMovesBetweenPools(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Post(contribution("alice", money.NGNNaira(10_000), "c1"))
	require.NoError(t, err)

	balances, err := l.Post(&models.Transaction{
		AccountID:   "alice",
		Kind:        models.TxUpfrontPayment,
		Amount:      money.NGNNaira(4_000),
		Source:      models.PoolContribution,
		Destination: models.PoolLoanDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(6_000), balances.Contribution)
	assert.Equal(t, money.NGNNaira(4_000), balances.LoanDeposit)
}

func TestPostInsufficientFunds(t *testing.T) {
	l, storage := newTestLedger(t)

	_, err := l.Post(&models.Transaction{
		AccountID:   "alice",
		Kind:        models.TxUpfrontPayment,
		Amount:      money.NGNNaira(1),
		Source:      models.PoolContribution,
		Destination: models.PoolLoanDeposit,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	journal, err := storage.GetTransactionsForAccount("alice")
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestPostRejectsBadEntries(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Post(contribution("alice", money.Zero(money.NGN), ""))
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.Post(contribution("alice", money.NGNKobo(-5), ""))
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.Post(&models.Transaction{
		AccountID:   "alice",
		Amount:      money.NGNNaira(1),
		Source:      "petty_cash",
		Destination: models.PoolContribution,
	})
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestPostReplayedReferenceIsNoOp(t *testing.T) {
	l, storage := newTestLedger(t)

	first, err := l.Post(contribution("alice", money.NGNNaira(10_000), "gw-ref-1"))
	require.NoError(t, err)

	replay, err := l.Post(contribution("alice", money.NGNNaira(10_000), "gw-ref-1"))
	require.NoError(t, err)
	assert.Equal(t, first.Contribution, replay.Contribution)

	journal, err := storage.GetTransactionsForAccount("alice")
	require.NoError(t, err)
	assert.Len(t, journal, 1)
}

func TestPostConcurrentSameReferenceAppliesOnce(t *testing.T) {
	l, storage := newTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Post(contribution("alice", money.NGNNaira(5_000), "gw-ref-2"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balances, err := l.Balances("alice")
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(5_000), balances.Contribution)

	journal, err := storage.GetTransactionsForAccount("alice")
	require.NoError(t, err)
	assert.Len(t, journal, 1)
}

func TestPostAllAtomicBatch(t *testing.T) {
	l, storage := newTestLedger(t)

	_, err := l.PostAll(
		contribution("alice", money.NGNNaira(1_000), "b1"),
		&models.Transaction{
			AccountID:   "alice",
			Kind:        models.TxUpfrontPayment,
			// More than the batch itself provides; the whole batch must fail.
			Amount:      money.NGNNaira(2_000),
			Source:      models.PoolContribution,
			Destination: models.PoolLoanDeposit,
		},
	)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balances, err := l.Balances("alice")
	require.NoError(t, err)
	assert.True(t, balances.Contribution.IsZero())

	journal, err := storage.GetTransactionsForAccount("alice")
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestPostAllRejectsMixedAccounts(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.PostAll(
		contribution("alice", money.NGNNaira(1_000), ""),
		contribution("bob", money.NGNNaira(1_000), ""),
	)
	assert.Error(t, err)
}

func TestHasReference(t *testing.T) {
	l, _ := newTestLedger(t)

	ok, err := l.HasReference("nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Post(contribution("alice", money.NGNNaira(100), "yes"))
	require.NoError(t, err)

	ok, err = l.HasReference("yes")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcile(t *testing.T) {
	l, storage := newTestLedger(t)

	_, err := l.Post(contribution("alice", money.NGNNaira(10_000), "c1"))
	require.NoError(t, err)
	_, err = l.Post(&models.Transaction{
		AccountID:   "alice",
		Kind:        models.TxUpfrontPayment,
		Amount:      money.NGNNaira(3_000),
		Source:      models.PoolContribution,
		Destination: models.PoolInsuranceReserve,
	})
	require.NoError(t, err)

	require.NoError(t, l.Reconcile("alice"))

	// Corrupt a balance behind the ledger's back.
	balances, err := storage.GetBalances("alice")
	require.NoError(t, err)
	balances.Contribution = balances.Contribution.Add(money.NGNKobo(1))
	require.NoError(t, storage.ApplyTransactions(nil, balances))

	assert.ErrorIs(t, l.Reconcile("alice"), ErrReconciliation)
}
