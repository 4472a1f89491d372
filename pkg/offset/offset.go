// Package offset implements the admin-approved workflow that converts an
// existing balance (refundable deposit, savings, or a fresh bank debit) into
// a repayment against an active loan.
package offset

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
	"github.com/kolobox/settle/pkg/store"

	ledgerpkg "github.com/kolobox/settle/pkg/ledger"
)

var (
	ErrDuplicatePending  = errors.New("offset: a pending request of this type already exists for the loan")
	ErrOverLimit         = errors.New("offset: requested amount exceeds the allowed limit")
	ErrAlreadyDecided    = errors.New("offset: request already decided")
	ErrLoanNotActive     = errors.New("offset: loan is not active")
	ErrNonPositiveAmount = errors.New("offset: amount must be positive")
)

// Workflow runs the Pending -> {Approved, Rejected} state machine per
// request.
type Workflow struct {
	storage store.Storage
	ledger  *ledgerpkg.Ledger
	locks   *store.KeyedMutex
	logger  *zap.Logger
}

func NewWorkflow(storage store.Storage, ledger *ledgerpkg.Ledger, locks *store.KeyedMutex, logger *zap.Logger) *Workflow {
	return &Workflow{storage: storage, ledger: ledger, locks: locks, logger: logger}
}

// Quote returns the maximum amount an offset of the given type may carry
// right now: min(available pool balance, remaining loan balance). Callers
// must surface this to the user before Create; the engine never silently
// substitutes a different amount.
func (w *Workflow) Quote(loanID uuid.UUID, offsetType models.OffsetType) (money.Money, error) {
	loan, err := w.storage.GetLoan(loanID)
	if err != nil {
		return money.Money{}, err
	}
	if loan.Status != models.LoanActive {
		return money.Money{}, ErrLoanNotActive
	}
	remaining := loan.RemainingBalance()

	pool, tracked := sourcePool(offsetType)
	if !tracked {
		// Bank offsets draw fresh money; only the loan bounds them.
		return remaining, nil
	}

	balances, err := w.ledger.Balances(loan.AccountID)
	if err != nil {
		return money.Money{}, err
	}
	return remaining.Min(*balances.Pool(pool)), nil
}

// Create opens a Pending request. If an open request of the same type exists
// for the loan, the existing request is returned alongside
// ErrDuplicatePending. An amount above the Quote limit fails with
// ErrOverLimit and creates nothing.
func (w *Workflow) Create(loanID uuid.UUID, offsetType models.OffsetType, requested money.Money) (*models.OffsetRequest, error) {
	if !requested.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	unlock := w.locks.Lock("loan:" + loanID.String())
	defer unlock()

	if existing, err := w.storage.GetPendingOffset(loanID, offsetType); err == nil {
		return existing, ErrDuplicatePending
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check pending offsets: %w", err)
	}

	limit, err := w.Quote(loanID, offsetType)
	if err != nil {
		return nil, err
	}
	if limit.LessThan(requested) {
		return nil, fmt.Errorf("%w: requested %s, limit %s", ErrOverLimit, requested, limit)
	}

	loan, err := w.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}

	req := &models.OffsetRequest{
		ID:        uuid.New(),
		LoanID:    loanID,
		AccountID: loan.AccountID,
		Type:      offsetType,
		Amount:    requested,
		Status:    models.OffsetPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.storage.CreateOffsetRequest(req); err != nil {
		return nil, fmt.Errorf("failed to create offset request: %w", err)
	}

	w.logger.Info("offset request created",
		zap.String("request_id", req.ID.String()),
		zap.String("loan_id", loanID.String()),
		zap.String("type", string(offsetType)),
		zap.Int64("amount", requested.Amount))
	return req, nil
}

// Approve moves a Pending request to Approved, posting the ledger
// transaction that repays the loan from the request's source. Approving an
// already-approved request returns the original result without reapplying.
func (w *Workflow) Approve(requestID uuid.UUID) (*models.OffsetRequest, error) {
	req, err := w.storage.GetOffsetRequest(requestID)
	if err != nil {
		return nil, err
	}

	unlock := w.locks.Lock("loan:" + req.LoanID.String())
	defer unlock()

	// Re-read under the lock.
	req, err = w.storage.GetOffsetRequest(requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case models.OffsetApproved:
		return req, nil
	case models.OffsetRejected:
		return req, ErrAlreadyDecided
	}

	loan, err := w.storage.GetLoan(req.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanActive {
		return nil, ErrLoanNotActive
	}

	// The loan may have shrunk since the request was created; never apply
	// more than what remains.
	amount := req.Amount.Min(loan.RemainingBalance())
	if !amount.IsPositive() {
		return nil, ErrOverLimit
	}

	kind, source := entryFor(req.Type)
	loanID := loan.ID
	entry := &models.Transaction{
		AccountID:         loan.AccountID,
		LoanID:            &loanID,
		Kind:              kind,
		Amount:            amount,
		Source:            source,
		Destination:       models.PoolCompanyRevenue,
		ExternalReference: "offset-" + req.ID.String(),
		InterestComponent: amount.Ratio(loan.TotalInterest().Amount, loan.TotalRepayable.Amount),
	}
	if _, err := w.ledger.Post(entry); err != nil {
		return nil, fmt.Errorf("failed to post offset: %w", err)
	}

	loan.AmountRepaid = loan.AmountRepaid.Add(amount)
	if loan.AmountRepaid.GreaterThanOrEqual(loan.TotalRepayable) {
		loan.Status = models.LoanCompleted
	}
	loan.UpdatedAt = time.Now().UTC()
	if err := w.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	now := time.Now().UTC()
	req.Status = models.OffsetApproved
	req.LedgerTxID = &entry.ID
	req.DecidedAt = &now
	if err := w.storage.UpdateOffsetRequest(req); err != nil {
		return nil, fmt.Errorf("failed to update offset request: %w", err)
	}

	w.logger.Info("offset approved",
		zap.String("request_id", req.ID.String()),
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("applied", amount.Amount),
		zap.String("loan_status", string(loan.Status)))
	return req, nil
}

// Reject moves a Pending request to Rejected with no ledger effect.
// Rejecting an already-rejected request is a no-op.
func (w *Workflow) Reject(requestID uuid.UUID) (*models.OffsetRequest, error) {
	req, err := w.storage.GetOffsetRequest(requestID)
	if err != nil {
		return nil, err
	}

	unlock := w.locks.Lock("loan:" + req.LoanID.String())
	defer unlock()

	req, err = w.storage.GetOffsetRequest(requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case models.OffsetRejected:
		return req, nil
	case models.OffsetApproved:
		return req, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	req.Status = models.OffsetRejected
	req.DecidedAt = &now
	if err := w.storage.UpdateOffsetRequest(req); err != nil {
		return nil, fmt.Errorf("failed to update offset request: %w", err)
	}
	return req, nil
}

// entryFor maps an offset type to its journal kind and source pool.
func entryFor(t models.OffsetType) (models.TxKind, models.Pool) {
	switch t {
	case models.OffsetDeposit:
		return models.TxDepositOffset, models.PoolLoanDeposit
	case models.OffsetContribution:
		return models.TxContributionOffset, models.PoolContribution
	default:
		return models.TxBankOffset, models.PoolExternal
	}
}

func sourcePool(t models.OffsetType) (models.Pool, bool) {
	_, pool := entryFor(t)
	return pool, pool.Tracked()
}
