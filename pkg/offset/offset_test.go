package offset

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ledgerpkg "github.com/kolobox/settle/pkg/ledger"
	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
	"github.com/kolobox/settle/pkg/store"
)

type fixture struct {
	workflow *Workflow
	ledger   *ledgerpkg.Ledger
	storage  *store.MemoryStore
	loan     *models.Loan
}

// newFixture seeds an active loan owing 15,000 naira out of 120,000, with
// 50,000 naira sitting in the deposit pool and 8,000 in savings.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	storage := store.NewMemoryStore()
	locks := store.NewKeyedMutex()
	led := ledgerpkg.New(storage, locks, zap.NewNop())

	now := time.Now().UTC()
	loan := &models.Loan{
		ID:             uuid.New(),
		ApplicationID:  uuid.New(),
		AccountID:      "acct-1",
		Principal:      money.NGNNaira(100_000),
		InterestRateBP: 2000,
		TotalRepayable: money.NGNNaira(120_000),
		WeeklyPayment:  money.NGNNaira(10_000),
		PeriodWeeks:    12,
		AmountRepaid:   money.NGNNaira(105_000),
		DepositAmount:  money.NGNNaira(10_000),
		Status:         models.LoanActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, storage.CreateLoan(loan))

	_, err := led.PostAll(
		&models.Transaction{
			AccountID:   "acct-1",
			Kind:        models.TxUpfrontPayment,
			Amount:      money.NGNNaira(50_000),
			Source:      models.PoolExternal,
			Destination: models.PoolLoanDeposit,
		},
		&models.Transaction{
			AccountID:   "acct-1",
			Kind:        models.TxContribution,
			Amount:      money.NGNNaira(8_000),
			Source:      models.PoolExternal,
			Destination: models.PoolContribution,
		},
	)
	require.NoError(t, err)

	return &fixture{
		workflow: NewWorkflow(storage, led, locks, zap.NewNop()),
		ledger:   led,
		storage:  storage,
		loan:     loan,
	}
}

func TestQuoteDepositClampsToRemaining(t *testing.T) {
	f := newFixture(t)

	// Pool holds 50,000 but only 15,000 remains on the loan.
	limit, err := f.workflow.Quote(f.loan.ID, models.OffsetDeposit)
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(15_000), limit)
}

func TestQuoteContributionClampsToPool(t *testing.T) {
	f := newFixture(t)

	// Savings hold 8,000, below the 15,000 remaining.
	limit, err := f.workflow.Quote(f.loan.ID, models.OffsetContribution)
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(8_000), limit)
}

func TestQuoteBankBoundedByLoanOnly(t *testing.T) {
	f := newFixture(t)

	limit, err := f.workflow.Quote(f.loan.ID, models.OffsetBank)
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(15_000), limit)
}

func TestCreateOverLimitCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Create(f.loan.ID, models.OffsetContribution, money.NGNNaira(9_000))
	assert.ErrorIs(t, err, ErrOverLimit)

	_, err = f.storage.GetPendingOffset(f.loan.ID, models.OffsetContribution)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateRejectsNonPositive(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.Zero(money.NGN))
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestCreateDuplicatePendingReturnsExisting(t *testing.T) {
	f := newFixture(t)

	first, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(5_000))
	require.NoError(t, err)

	second, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(3_000))
	assert.ErrorIs(t, err, ErrDuplicatePending)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	// A different type on the same loan is allowed.
	_, err = f.workflow.Create(f.loan.ID, models.OffsetContribution, money.NGNNaira(2_000))
	assert.NoError(t, err)
}

func TestApprovePostsAndUpdatesLoan(t *testing.T) {
	f := newFixture(t)

	req, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(5_000))
	require.NoError(t, err)

	approved, err := f.workflow.Approve(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OffsetApproved, approved.Status)
	require.NotNil(t, approved.LedgerTxID)
	require.NotNil(t, approved.DecidedAt)

	loan, err := f.storage.GetLoan(f.loan.ID)
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(110_000), loan.AmountRepaid)
	assert.Equal(t, models.LoanActive, loan.Status)

	balances, err := f.ledger.Balances("acct-1")
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(45_000), balances.LoanDeposit)
	assert.Equal(t, money.NGNNaira(5_000), balances.CompanyRevenue)

	// 20,000/120,000 of the payment is interest.
	tx, err := f.storage.GetTransactionByReference("offset-" + req.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.TxDepositOffset, tx.Kind)
	assert.Equal(t, money.NGNKobo(83_333), tx.InterestComponent)
}

func TestApproveCompletesLoan(t *testing.T) {
	f := newFixture(t)

	req, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(15_000))
	require.NoError(t, err)

	_, err = f.workflow.Approve(req.ID)
	require.NoError(t, err)

	loan, err := f.storage.GetLoan(f.loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanCompleted, loan.Status)
	assert.True(t, loan.RemainingBalance().IsZero())
}

func TestApproveClampsWhenLoanShrank(t *testing.T) {
	f := newFixture(t)

	req, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(15_000))
	require.NoError(t, err)

	// A repayment lands between request and approval.
	loan, err := f.storage.GetLoan(f.loan.ID)
	require.NoError(t, err)
	loan.AmountRepaid = money.NGNNaira(112_000)
	require.NoError(t, f.storage.UpdateLoan(loan))

	approved, err := f.workflow.Approve(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OffsetApproved, approved.Status)

	loan, err = f.storage.GetLoan(f.loan.ID)
	require.NoError(t, err)
	// Only the remaining 8,000 was applied.
	assert.Equal(t, models.LoanCompleted, loan.Status)
	assert.Equal(t, money.NGNNaira(120_000), loan.AmountRepaid)

	balances, err := f.ledger.Balances("acct-1")
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(42_000), balances.LoanDeposit)
}

func TestApproveIdempotent(t *testing.T) {
	f := newFixture(t)

	req, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(5_000))
	require.NoError(t, err)

	first, err := f.workflow.Approve(req.ID)
	require.NoError(t, err)
	second, err := f.workflow.Approve(req.ID)
	require.NoError(t, err)
	assert.Equal(t, first.LedgerTxID, second.LedgerTxID)

	// The ledger saw exactly one posting.
	loan, err := f.storage.GetLoan(f.loan.ID)
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(110_000), loan.AmountRepaid)
}

func TestRejectHasNoLedgerEffect(t *testing.T) {
	f := newFixture(t)

	req, err := f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(5_000))
	require.NoError(t, err)

	rejected, err := f.workflow.Reject(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OffsetRejected, rejected.Status)
	assert.Nil(t, rejected.LedgerTxID)

	balances, err := f.ledger.Balances("acct-1")
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(50_000), balances.LoanDeposit)

	// The decision is final.
	_, err = f.workflow.Approve(req.ID)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	_, err = f.workflow.Reject(req.ID)
	assert.NoError(t, err)
}

func TestQuoteInactiveLoan(t *testing.T) {
	f := newFixture(t)

	loan, err := f.storage.GetLoan(f.loan.ID)
	require.NoError(t, err)
	loan.Status = models.LoanCompleted
	require.NoError(t, f.storage.UpdateLoan(loan))

	_, err = f.workflow.Quote(f.loan.ID, models.OffsetDeposit)
	assert.ErrorIs(t, err, ErrLoanNotActive)

	_, err = f.workflow.Create(f.loan.ID, models.OffsetDeposit, money.NGNNaira(1_000))
	assert.ErrorIs(t, err, ErrLoanNotActive)
}
