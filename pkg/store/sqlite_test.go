package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "settle_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testApplication(accountID string) *models.LoanApplication {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.LoanApplication{
		ID:          uuid.New(),
		AccountID:   accountID,
		Category:    models.CategorySME,
		Principal:   money.NGNNaira(100_000),
		PeriodWeeks: 12,
		Purpose:     "restock shop",
		Guarantor:   models.Guarantor{Name: "Bola Ade", Phone: "08030000000"},
		Upfront: models.UpfrontCost{
			Deposit:       money.NGNNaira(10_000),
			Insurance:     money.NGNNaira(1_500),
			ServiceCharge: money.NGNNaira(3_500),
			Total:         money.NGNNaira(15_000),
		},
		Status:    models.AppPendingUpfront,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestApplicationRoundTrip(t *testing.T) {
	s := newTestStore(t)

	app := testApplication("acct-1")
	require.NoError(t, s.CreateApplication(app))

	got, err := s.GetApplication(app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.AccountID, got.AccountID)
	assert.Equal(t, app.Principal, got.Principal)
	assert.Equal(t, app.Guarantor, got.Guarantor)
	assert.Equal(t, app.Upfront, got.Upfront)
	assert.Equal(t, models.AppPendingUpfront, got.Status)
	assert.False(t, got.UpfrontPaid)

	got.UpfrontPaid = true
	got.UpfrontSource = models.UpfrontFromContribution
	got.Status = models.AppPendingApproval
	require.NoError(t, s.UpdateApplication(got))

	got, err = s.GetApplication(app.ID)
	require.NoError(t, err)
	assert.True(t, got.UpfrontPaid)
	assert.Equal(t, models.UpfrontFromContribution, got.UpfrontSource)
	assert.Equal(t, models.AppPendingApproval, got.Status)

	apps, err := s.GetApplicationsByAccount("acct-1")
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestGetApplicationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetApplication(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoanRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	loan := &models.Loan{
		ID:             uuid.New(),
		ApplicationID:  uuid.New(),
		AccountID:      "acct-2",
		Principal:      money.NGNNaira(100_000),
		InterestRateBP: 2000,
		TotalRepayable: money.NGNNaira(120_000),
		WeeklyPayment:  money.NGNNaira(10_000),
		PeriodWeeks:    12,
		AmountRepaid:   money.Zero(money.NGN),
		DepositAmount:  money.NGNNaira(10_000),
		Status:         models.LoanActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateLoan(loan))

	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.TotalRepayable, got.TotalRepayable)
	assert.Equal(t, models.LoanActive, got.Status)
	assert.False(t, got.DepositRefunded)

	got.AmountRepaid = money.NGNNaira(120_000)
	got.Status = models.LoanCompleted
	require.NoError(t, s.UpdateLoan(got))

	got, err = s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanCompleted, got.Status)
	assert.True(t, got.RemainingBalance().IsZero())

	loans, err := s.GetLoansByAccount("acct-2")
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestGetBalancesZeroForNewAccount(t *testing.T) {
	s := newTestStore(t)

	b, err := s.GetBalances("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", b.AccountID)
	assert.True(t, b.Contribution.IsZero())
	assert.True(t, b.LoanDeposit.IsZero())
	assert.True(t, b.InsuranceReserve.IsZero())
	assert.True(t, b.CompanyRevenue.IsZero())
}

func TestApplyTransactionsPersistsJournalAndBalances(t *testing.T) {
	s := newTestStore(t)

	entry := &models.Transaction{
		ID:                uuid.New(),
		AccountID:         "acct-3",
		Kind:              models.TxContribution,
		Amount:            money.NGNNaira(5_000),
		Source:            models.PoolExternal,
		Destination:       models.PoolContribution,
		ExternalReference: "ref-1",
		InterestComponent: money.Zero(money.NGN),
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
	balances, err := s.GetBalances("acct-3")
	require.NoError(t, err)
	balances.Contribution = balances.Contribution.Add(entry.Amount)

	require.NoError(t, s.ApplyTransactions([]*models.Transaction{entry}, balances))

	got, err := s.GetBalances("acct-3")
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(5_000), got.Contribution)

	tx, err := s.GetTransactionByReference("ref-1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, tx.ID)
	assert.Equal(t, models.TxContribution, tx.Kind)

	journal, err := s.GetTransactionsForAccount("acct-3")
	require.NoError(t, err)
	assert.Len(t, journal, 1)
}

func TestApplyTransactionsDuplicateReferenceWritesNothing(t *testing.T) {
	s := newTestStore(t)

	first := &models.Transaction{
		ID:                uuid.New(),
		AccountID:         "acct-4",
		Kind:              models.TxContribution,
		Amount:            money.NGNNaira(1_000),
		Source:            models.PoolExternal,
		Destination:       models.PoolContribution,
		ExternalReference: "ref-dup",
		CreatedAt:         time.Now().UTC(),
	}
	balances, err := s.GetBalances("acct-4")
	require.NoError(t, err)
	balances.Contribution = money.NGNNaira(1_000)
	require.NoError(t, s.ApplyTransactions([]*models.Transaction{first}, balances))

	// A batch that reuses the reference must fail whole, including its
	// never-seen sibling entry.
	replay := *first
	replay.ID = uuid.New()
	sibling := &models.Transaction{
		ID:                uuid.New(),
		AccountID:         "acct-4",
		Kind:              models.TxContribution,
		Amount:            money.NGNNaira(2_000),
		Source:            models.PoolExternal,
		Destination:       models.PoolContribution,
		ExternalReference: "ref-fresh",
		CreatedAt:         time.Now().UTC(),
	}
	balances.Contribution = money.NGNNaira(4_000)
	err = s.ApplyTransactions([]*models.Transaction{&replay, sibling}, balances)
	assert.ErrorIs(t, err, ErrDuplicateReference)

	got, err := s.GetBalances("acct-4")
	require.NoError(t, err)
	assert.Equal(t, money.NGNNaira(1_000), got.Contribution)

	_, err = s.GetTransactionByReference("ref-fresh")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionsForLoan(t *testing.T) {
	s := newTestStore(t)

	loanID := uuid.New()
	otherLoan := uuid.New()
	mk := func(loan *uuid.UUID, ref string) *models.Transaction {
		return &models.Transaction{
			ID:                uuid.New(),
			AccountID:         "acct-5",
			LoanID:            loan,
			Kind:              models.TxRepayment,
			Amount:            money.NGNNaira(500),
			Source:            models.PoolExternal,
			Destination:       models.PoolCompanyRevenue,
			ExternalReference: ref,
			CreatedAt:         time.Now().UTC(),
		}
	}
	balances, err := s.GetBalances("acct-5")
	require.NoError(t, err)
	balances.CompanyRevenue = money.NGNNaira(1_500)
	require.NoError(t, s.ApplyTransactions([]*models.Transaction{
		mk(&loanID, "r1"), mk(&loanID, "r2"), mk(&otherLoan, "r3"),
	}, balances))

	txs, err := s.GetTransactionsForLoan(loanID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestOffsetRequestRoundTrip(t *testing.T) {
	s := newTestStore(t)

	loanID := uuid.New()
	req := &models.OffsetRequest{
		ID:        uuid.New(),
		LoanID:    loanID,
		AccountID: "acct-6",
		Type:      models.OffsetDeposit,
		Amount:    money.NGNNaira(5_000),
		Status:    models.OffsetPending,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateOffsetRequest(req))

	pending, err := s.GetPendingOffset(loanID, models.OffsetDeposit)
	require.NoError(t, err)
	assert.Equal(t, req.ID, pending.ID)

	// A different type has no pending request.
	_, err = s.GetPendingOffset(loanID, models.OffsetContribution)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	txID := uuid.New()
	req.Status = models.OffsetApproved
	req.LedgerTxID = &txID
	req.DecidedAt = &now
	require.NoError(t, s.UpdateOffsetRequest(req))

	got, err := s.GetOffsetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OffsetApproved, got.Status)
	require.NotNil(t, got.LedgerTxID)
	assert.Equal(t, txID, *got.LedgerTxID)

	_, err = s.GetPendingOffset(loanID, models.OffsetDeposit)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefundRequestRoundTrip(t *testing.T) {
	s := newTestStore(t)

	loanID := uuid.New()
	req := &models.RefundRequest{
		ID:        uuid.New(),
		LoanID:    loanID,
		AccountID: "acct-7",
		Amount:    money.NGNNaira(10_000),
		Payout:    &models.Payout{Method: models.BankAccount{BankName: "GTBank", AccountNumber: "0123456789", Verified: true}},
		Status:    models.RefundPending,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRefundRequest(req))

	pending, err := s.GetPendingRefund(loanID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, pending.ID)
	require.NotNil(t, pending.Payout)
	assert.Equal(t, req.Payout.Method, pending.Payout.Method)

	now := time.Now().UTC().Truncate(time.Second)
	req.Status = models.RefundRejected
	req.DecidedAt = &now
	require.NoError(t, s.UpdateRefundRequest(req))

	_, err = s.GetPendingRefund(loanID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetRefundRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundRejected, got.Status)
}
