// Package lifecycle orchestrates a loan from application through upfront
// payment, approval, repayment, completion and deposit refund.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kolobox/settle/pkg/gateway"
	ledgerpkg "github.com/kolobox/settle/pkg/ledger"
	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
	"github.com/kolobox/settle/pkg/pricing"
	"github.com/kolobox/settle/pkg/store"
)

var (
	ErrActiveLoanExists  = errors.New("lifecycle: applicant already has an active loan with a balance")
	ErrValidation        = errors.New("lifecycle: invalid application")
	ErrWrongStatus       = errors.New("lifecycle: operation not allowed in current status")
	ErrUpfrontUnpaid     = errors.New("lifecycle: upfront cost has not been paid")
	ErrOverLimit         = errors.New("lifecycle: payment exceeds remaining balance")
	ErrNonPositiveAmount = errors.New("lifecycle: amount must be positive")
	ErrLoanNotCompleted  = errors.New("lifecycle: loan is not completed")
	ErrDepositRefunded   = errors.New("lifecycle: deposit already refunded")
	ErrDuplicatePending  = errors.New("lifecycle: a pending refund request already exists")
	ErrAlreadyDecided    = errors.New("lifecycle: request already decided")
	ErrNothingToRefund   = errors.New("lifecycle: no deposit left to refund")
)

// Service drives the application and loan state machines. It implements
// gateway.Hook so settled upfronts and repayments land back here.
type Service struct {
	storage  store.Storage
	ledger   *ledgerpkg.Ledger
	settle   *gateway.Settlement
	locks    *store.KeyedMutex
	validate *validator.Validate
	logger   *zap.Logger
}

var _ gateway.Hook = (*Service)(nil)

func NewService(storage store.Storage, ledger *ledgerpkg.Ledger, settle *gateway.Settlement, locks *store.KeyedMutex, logger *zap.Logger) *Service {
	s := &Service{
		storage:  storage,
		ledger:   ledger,
		settle:   settle,
		locks:    locks,
		validate: validator.New(),
		logger:   logger,
	}
	if settle != nil {
		settle.SetHook(s)
	}
	return s
}

// SubmitRequest carries a new loan application.
type SubmitRequest struct {
	AccountID   string                 `validate:"required"`
	Category    models.ProductCategory `validate:"required"`
	Principal   money.Money            `validate:"required"`
	PeriodWeeks int                    `validate:"required,oneof=6 12"`
	Purpose     string                 `validate:"required"`
	Guarantor   models.Guarantor       `validate:"required"`
}

// Submit validates the request, enforces the single-active-loan gate,
// computes the upfront cost and records the application awaiting its upfront
// payment. Nothing is created when any check fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.LoanApplication, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	product, err := pricing.Product(req.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Priced up-front so a bad period or out-of-range principal rejects
	// before any record exists.
	if _, err := pricing.Price(req.Principal, req.PeriodWeeks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	upfront, err := pricing.UpfrontCost(req.Principal, product)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock := s.locks.Lock("applicant:" + req.AccountID)
	defer unlock()

	loans, err := s.storage.GetLoansByAccount(req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing loans: %w", err)
	}
	for _, loan := range loans {
		if loan.Status == models.LoanActive && loan.RemainingBalance().IsPositive() {
			return nil, ErrActiveLoanExists
		}
	}

	now := time.Now().UTC()
	app := &models.LoanApplication{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		Category:    req.Category,
		Principal:   req.Principal,
		PeriodWeeks: req.PeriodWeeks,
		Purpose:     req.Purpose,
		Guarantor:   req.Guarantor,
		Upfront:     upfront,
		Status:      models.AppPendingUpfront,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.CreateApplication(app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	s.logger.Info("application submitted",
		zap.String("application_id", app.ID.String()),
		zap.String("account_id", app.AccountID),
		zap.String("category", string(app.Category)),
		zap.Int64("principal", app.Principal.Amount),
		zap.Int64("upfront_total", upfront.Total.Amount))
	return app, nil
}

// PayUpfront settles the application's upfront cost. From the contribution
// balance the debit is synchronous; via a gateway a pending payment is
// returned and the application advances when the callback settles.
func (s *Service) PayUpfront(ctx context.Context, appID uuid.UUID, source models.UpfrontSource, payerEmail string, timeout time.Duration) (*models.LoanApplication, *models.PendingPayment, error) {
	unlock := s.locks.Lock("app:" + appID.String())
	defer unlock()

	app, err := s.storage.GetApplication(appID)
	if err != nil {
		return nil, nil, err
	}
	if app.Status != models.AppPendingUpfront || app.UpfrontPaid {
		return nil, nil, ErrWrongStatus
	}

	switch source {
	case models.UpfrontFromContribution:
		if err := s.postUpfront(app, models.PoolContribution, "upfront-"+app.ID.String()); err != nil {
			return nil, nil, err
		}
		if err := s.markUpfrontPaid(app, models.UpfrontFromContribution); err != nil {
			return nil, nil, err
		}
		return app, nil, nil

	case models.UpfrontFromGateway:
		payment, err := s.settle.Initiate(ctx, gateway.InitiateParams{
			AccountID:  app.AccountID,
			Purpose:    models.PurposeUpfront,
			TargetID:   app.ID,
			Amount:     app.Upfront.Total,
			PayerEmail: payerEmail,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		app.UpfrontSource = models.UpfrontFromGateway
		app.UpdatedAt = time.Now().UTC()
		if err := s.storage.UpdateApplication(app); err != nil {
			return nil, nil, err
		}
		return app, payment, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown upfront source %q", ErrValidation, source)
}

// postUpfront lands the three upfront entries as one atomic batch: the
// refundable deposit, the insurance premium and the flat service charge,
// each into its own pool.
func (s *Service) postUpfront(app *models.LoanApplication, source models.Pool, refBase string) error {
	entries := []*models.Transaction{
		{
			AccountID:         app.AccountID,
			Kind:              models.TxUpfrontPayment,
			Amount:            app.Upfront.Deposit,
			Source:            source,
			Destination:       models.PoolLoanDeposit,
			ExternalReference: refBase + "-deposit",
		},
		{
			AccountID:         app.AccountID,
			Kind:              models.TxUpfrontPayment,
			Amount:            app.Upfront.Insurance,
			Source:            source,
			Destination:       models.PoolInsuranceReserve,
			ExternalReference: refBase + "-insurance",
		},
		{
			AccountID:         app.AccountID,
			Kind:              models.TxServiceCharge,
			Amount:            app.Upfront.ServiceCharge,
			Source:            source,
			Destination:       models.PoolCompanyRevenue,
			ExternalReference: refBase + "-fee",
		},
	}
	if _, err := s.ledger.PostAll(entries...); err != nil {
		return fmt.Errorf("failed to post upfront cost: %w", err)
	}
	return nil
}

func (s *Service) markUpfrontPaid(app *models.LoanApplication, source models.UpfrontSource) error {
	app.UpfrontPaid = true
	app.UpfrontSource = source
	app.Status = models.AppPendingApproval
	app.UpdatedAt = time.Now().UTC()
	if err := s.storage.UpdateApplication(app); err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	s.logger.Info("upfront paid",
		zap.String("application_id", app.ID.String()),
		zap.String("source", string(source)))
	return nil
}

// OnSettled is the gateway.Hook entry point for settled upfronts and
// repayments. Ledger references derive from the payment reference, so a
// replayed settlement cannot post twice.
func (s *Service) OnSettled(ctx context.Context, payment *models.PendingPayment) error {
	switch payment.Purpose {
	case models.PurposeUpfront:
		unlock := s.locks.Lock("app:" + payment.TargetID.String())
		defer unlock()

		app, err := s.storage.GetApplication(payment.TargetID)
		if err != nil {
			return err
		}
		// Rejected is terminal and a paid application cannot pay twice. The
		// provider already took the money, so a late settlement lands in the
		// customer's savings instead of advancing the application.
		if app.Status != models.AppPendingUpfront || app.UpfrontPaid {
			return s.creditSavings(app.AccountID, payment)
		}
		if err := s.postUpfront(app, models.PoolExternal, payment.Reference); err != nil {
			return err
		}
		return s.markUpfrontPaid(app, models.UpfrontFromGateway)

	case models.PurposeRepayment:
		return s.settleRepayment(payment)
	}
	return fmt.Errorf("unhandled settlement purpose %q", payment.Purpose)
}

// creditSavings books a confirmed payment that can no longer serve its
// original purpose into the customer's contribution balance, under the
// payment's reference so replays stay no-ops.
func (s *Service) creditSavings(accountID string, payment *models.PendingPayment) error {
	_, err := s.ledger.Post(&models.Transaction{
		AccountID:         accountID,
		Kind:              models.TxContribution,
		Amount:            payment.Amount,
		Source:            models.PoolExternal,
		Destination:       models.PoolContribution,
		ExternalReference: payment.Reference,
	})
	if err != nil {
		return fmt.Errorf("failed to credit savings: %w", err)
	}
	s.logger.Warn("settled payment redirected to savings",
		zap.String("reference", payment.Reference),
		zap.String("purpose", string(payment.Purpose)),
		zap.Int64("amount", payment.Amount.Amount))
	return nil
}

// settleRepayment applies an externally confirmed repayment. The provider
// already debited the customer, so the payment is never refused: the loan
// absorbs what it can and any surplus is credited to savings, all in one
// atomic batch.
func (s *Service) settleRepayment(payment *models.PendingPayment) error {
	unlock := s.locks.Lock("loan:" + payment.TargetID.String())
	defer unlock()

	posted, err := s.ledger.HasReference(payment.Reference)
	if err != nil {
		return err
	}
	if posted {
		return nil
	}

	loan, err := s.storage.GetLoan(payment.TargetID)
	if err != nil {
		return err
	}

	applied := money.Zero(payment.Amount.Currency)
	if loan.Status == models.LoanActive {
		applied = payment.Amount.Min(loan.RemainingBalance())
	}
	surplus := payment.Amount.Sub(applied)

	var entries []*models.Transaction
	id := loan.ID
	if applied.IsPositive() {
		entries = append(entries, &models.Transaction{
			AccountID:         loan.AccountID,
			LoanID:            &id,
			Kind:              models.TxRepayment,
			Amount:            applied,
			Source:            models.PoolExternal,
			Destination:       models.PoolCompanyRevenue,
			ExternalReference: payment.Reference,
			InterestComponent: applied.Ratio(loan.TotalInterest().Amount, loan.TotalRepayable.Amount),
		})
	}
	if surplus.IsPositive() {
		ref := payment.Reference
		if applied.IsPositive() {
			ref += "-surplus"
		}
		entries = append(entries, &models.Transaction{
			AccountID:         loan.AccountID,
			LoanID:            &id,
			Kind:              models.TxContribution,
			Amount:            surplus,
			Source:            models.PoolExternal,
			Destination:       models.PoolContribution,
			ExternalReference: ref,
		})
	}
	if _, err := s.ledger.PostAll(entries...); err != nil {
		return fmt.Errorf("failed to post settled repayment: %w", err)
	}

	if applied.IsPositive() {
		loan.AmountRepaid = loan.AmountRepaid.Add(applied)
		if loan.AmountRepaid.GreaterThanOrEqual(loan.TotalRepayable) {
			loan.Status = models.LoanCompleted
		}
		loan.UpdatedAt = time.Now().UTC()
		if err := s.storage.UpdateLoan(loan); err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}
	}
	if surplus.IsPositive() {
		s.logger.Warn("repayment surplus credited to savings",
			zap.String("loan_id", loan.ID.String()),
			zap.String("reference", payment.Reference),
			zap.Int64("surplus", surplus.Amount))
	}
	return nil
}

// DecideUpfront is the admin confirmation step for a paid upfront:
// confirming a paid application advances it to approval review (a no-op if
// the settlement already advanced it); declining rejects the application.
func (s *Service) DecideUpfront(ctx context.Context, appID uuid.UUID, confirmed bool) (*models.LoanApplication, error) {
	unlock := s.locks.Lock("app:" + appID.String())
	defer unlock()

	app, err := s.storage.GetApplication(appID)
	if err != nil {
		return nil, err
	}

	if !confirmed {
		if app.Status == models.AppApproved || app.Status == models.AppRejected {
			return app, ErrWrongStatus
		}
		app.Status = models.AppRejected
		app.UpdatedAt = time.Now().UTC()
		if err := s.storage.UpdateApplication(app); err != nil {
			return nil, err
		}
		return app, nil
	}

	if app.Status == models.AppPendingApproval {
		return app, nil
	}
	if app.Status != models.AppPendingUpfront || !app.UpfrontPaid {
		return nil, ErrUpfrontUnpaid
	}
	app.Status = models.AppPendingApproval
	app.UpdatedAt = time.Now().UTC()
	if err := s.storage.UpdateApplication(app); err != nil {
		return nil, err
	}
	return app, nil
}

// Decide is the admin approval step. Approval prices and creates the Active
// loan; rejection is terminal and refunds nothing (a paid upfront stays with
// the company pending a manual refund request).
func (s *Service) Decide(ctx context.Context, appID uuid.UUID, approve bool) (*models.LoanApplication, *models.Loan, error) {
	unlock := s.locks.Lock("app:" + appID.String())
	defer unlock()

	app, err := s.storage.GetApplication(appID)
	if err != nil {
		return nil, nil, err
	}
	if app.Status == models.AppApproved || app.Status == models.AppRejected {
		return app, nil, ErrWrongStatus
	}

	now := time.Now().UTC()
	if !approve {
		app.Status = models.AppRejected
		app.UpdatedAt = now
		if err := s.storage.UpdateApplication(app); err != nil {
			return nil, nil, err
		}
		s.logger.Info("application rejected", zap.String("application_id", app.ID.String()))
		return app, nil, nil
	}

	if app.Status != models.AppPendingApproval {
		return app, nil, ErrWrongStatus
	}
	if !app.UpfrontPaid {
		return app, nil, ErrUpfrontUnpaid
	}

	quote, err := pricing.Price(app.Principal, app.PeriodWeeks)
	if err != nil {
		return nil, nil, err
	}

	loan := &models.Loan{
		ID:             uuid.New(),
		ApplicationID:  app.ID,
		AccountID:      app.AccountID,
		Principal:      app.Principal,
		InterestRateBP: quote.InterestRateBP,
		TotalRepayable: quote.TotalRepayable,
		WeeklyPayment:  quote.WeeklyPayment,
		PeriodWeeks:    app.PeriodWeeks,
		AmountRepaid:   money.Zero(app.Principal.Currency),
		DepositAmount:  app.Upfront.Deposit,
		Status:         models.LoanActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.storage.CreateLoan(loan); err != nil {
		return nil, nil, fmt.Errorf("failed to create loan: %w", err)
	}

	app.Status = models.AppApproved
	app.UpdatedAt = now
	if err := s.storage.UpdateApplication(app); err != nil {
		return nil, nil, err
	}

	s.logger.Info("application approved",
		zap.String("application_id", app.ID.String()),
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("total_repayable", loan.TotalRepayable.Amount),
		zap.Int64("weekly_payment", loan.WeeklyPayment.Amount))
	return app, loan, nil
}

// ApplyRepayment applies a cash amount plus an optional deposit draw against
// the loan. A payment that would exceed the remaining balance is rejected
// whole; callers re-read the balance and retry with the clamped amount.
func (s *Service) ApplyRepayment(ctx context.Context, loanID uuid.UUID, amount, depositUsed money.Money, externalRef string) (*models.Loan, error) {
	if amount.IsNegative() || depositUsed.IsNegative() {
		return nil, ErrNonPositiveAmount
	}
	total := amount.Add(depositUsed)
	if !total.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	unlock := s.locks.Lock("loan:" + loanID.String())
	defer unlock()

	loan, err := s.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}

	// A replayed reference already moved the money and advanced the loan;
	// return the current state without posting or updating anything.
	if externalRef != "" {
		posted, err := s.ledger.HasReference(externalRef)
		if err != nil {
			return nil, err
		}
		if posted {
			return loan, nil
		}
	}

	if loan.Status != models.LoanActive {
		return nil, ErrWrongStatus
	}
	if loan.RemainingBalance().LessThan(total) {
		return nil, fmt.Errorf("%w: remaining %s, payment %s", ErrOverLimit, loan.RemainingBalance(), total)
	}
	if depositUsed.IsPositive() {
		refundable, err := s.refundableDeposit(loan)
		if err != nil {
			return nil, err
		}
		if refundable.LessThan(depositUsed) {
			return nil, fmt.Errorf("%w: deposit available %s, requested %s", ErrOverLimit, refundable, depositUsed)
		}
	}

	interest := func(part money.Money) money.Money {
		return part.Ratio(loan.TotalInterest().Amount, loan.TotalRepayable.Amount)
	}

	var entries []*models.Transaction
	id := loan.ID
	if amount.IsPositive() {
		entries = append(entries, &models.Transaction{
			AccountID:         loan.AccountID,
			LoanID:            &id,
			Kind:              models.TxRepayment,
			Amount:            amount,
			Source:            models.PoolExternal,
			Destination:       models.PoolCompanyRevenue,
			ExternalReference: externalRef,
			InterestComponent: interest(amount),
		})
	}
	if depositUsed.IsPositive() {
		depositRef := ""
		if externalRef != "" {
			depositRef = externalRef + "-deposit"
		}
		entries = append(entries, &models.Transaction{
			AccountID:         loan.AccountID,
			LoanID:            &id,
			Kind:              models.TxDepositOffset,
			Amount:            depositUsed,
			Source:            models.PoolLoanDeposit,
			Destination:       models.PoolCompanyRevenue,
			ExternalReference: depositRef,
			InterestComponent: interest(depositUsed),
		})
	}

	if _, err := s.ledger.PostAll(entries...); err != nil {
		return nil, fmt.Errorf("failed to post repayment: %w", err)
	}

	loan.AmountRepaid = loan.AmountRepaid.Add(total)
	if loan.AmountRepaid.GreaterThanOrEqual(loan.TotalRepayable) {
		loan.Status = models.LoanCompleted
	}
	loan.UpdatedAt = time.Now().UTC()
	if err := s.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	s.logger.Info("repayment applied",
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("amount", amount.Amount),
		zap.Int64("deposit_used", depositUsed.Amount),
		zap.Int64("amount_repaid", loan.AmountRepaid.Amount),
		zap.String("status", string(loan.Status)))
	return loan, nil
}

// InitiateRepayment starts a gateway-settled repayment; the loan is updated
// when the provider's callback settles.
func (s *Service) InitiateRepayment(ctx context.Context, loanID uuid.UUID, amount money.Money, payerEmail string, timeout time.Duration) (*models.PendingPayment, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	loan, err := s.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanActive {
		return nil, ErrWrongStatus
	}
	if loan.RemainingBalance().LessThan(amount) {
		return nil, fmt.Errorf("%w: remaining %s, payment %s", ErrOverLimit, loan.RemainingBalance(), amount)
	}
	return s.settle.Initiate(ctx, gateway.InitiateParams{
		AccountID:  loan.AccountID,
		Purpose:    models.PurposeRepayment,
		TargetID:   loan.ID,
		Amount:     amount,
		PayerEmail: payerEmail,
		Timeout:    timeout,
	})
}

// Contribute starts a gateway-settled savings deposit for the account.
func (s *Service) Contribute(ctx context.Context, accountID string, amount money.Money, payerEmail string, timeout time.Duration) (*models.PendingPayment, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	return s.settle.Initiate(ctx, gateway.InitiateParams{
		AccountID:  accountID,
		Purpose:    models.PurposeContribution,
		Amount:     amount,
		PayerEmail: payerEmail,
		Timeout:    timeout,
	})
}

// RequestDepositRefund opens a refund request for a completed loan's unused
// deposit. The refundable amount is the original deposit minus whatever
// deposit offsets already drew from it. payout, when given, records where
// the money should be paid out on approval.
func (s *Service) RequestDepositRefund(ctx context.Context, loanID uuid.UUID, payout *models.Payout) (*models.RefundRequest, error) {
	unlock := s.locks.Lock("loan:" + loanID.String())
	defer unlock()

	loan, err := s.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanCompleted {
		return nil, ErrLoanNotCompleted
	}
	if loan.DepositRefunded {
		return nil, ErrDepositRefunded
	}
	if existing, err := s.storage.GetPendingRefund(loanID); err == nil {
		return existing, ErrDuplicatePending
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	refundable, err := s.refundableDeposit(loan)
	if err != nil {
		return nil, err
	}
	if !refundable.IsPositive() {
		return nil, ErrNothingToRefund
	}

	req := &models.RefundRequest{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		AccountID: loan.AccountID,
		Amount:    refundable,
		Payout:    payout,
		Status:    models.RefundPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.CreateRefundRequest(req); err != nil {
		return nil, fmt.Errorf("failed to create refund request: %w", err)
	}
	s.logger.Info("deposit refund requested",
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("amount", refundable.Amount))
	return req, nil
}

func (s *Service) refundableDeposit(loan *models.Loan) (money.Money, error) {
	entries, err := s.storage.GetTransactionsForLoan(loan.ID)
	if err != nil {
		return money.Money{}, err
	}
	used := money.Zero(loan.DepositAmount.Currency)
	for _, e := range entries {
		if e.Kind == models.TxDepositOffset {
			used = used.Add(e.Amount)
		}
	}
	refundable := loan.DepositAmount.Sub(used)
	if refundable.IsNegative() {
		return money.Zero(loan.DepositAmount.Currency), nil
	}
	return refundable, nil
}

// DecideDepositRefund approves or rejects a refund request. Approval posts
// the payout and marks the loan's deposit refunded; approving an approved
// request returns the original result.
func (s *Service) DecideDepositRefund(ctx context.Context, requestID uuid.UUID, approve bool) (*models.RefundRequest, error) {
	req, err := s.storage.GetRefundRequest(requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("loan:" + req.LoanID.String())
	defer unlock()

	req, err = s.storage.GetRefundRequest(requestID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if !approve {
		switch req.Status {
		case models.RefundRejected:
			return req, nil
		case models.RefundApproved:
			return req, ErrAlreadyDecided
		}
		req.Status = models.RefundRejected
		req.DecidedAt = &now
		if err := s.storage.UpdateRefundRequest(req); err != nil {
			return nil, err
		}
		return req, nil
	}

	switch req.Status {
	case models.RefundApproved:
		return req, nil
	case models.RefundRejected:
		return req, ErrAlreadyDecided
	}

	loan, err := s.storage.GetLoan(req.LoanID)
	if err != nil {
		return nil, err
	}

	loanID := loan.ID
	entry := &models.Transaction{
		AccountID:         loan.AccountID,
		LoanID:            &loanID,
		Kind:              models.TxDepositRefund,
		Amount:            req.Amount,
		Source:            models.PoolLoanDeposit,
		Destination:       models.PoolExternal,
		ExternalReference: "refund-" + req.ID.String(),
	}
	if _, err := s.ledger.Post(entry); err != nil {
		return nil, fmt.Errorf("failed to post deposit refund: %w", err)
	}

	loan.DepositRefunded = true
	loan.UpdatedAt = now
	if err := s.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}

	req.Status = models.RefundApproved
	req.LedgerTxID = &entry.ID
	req.DecidedAt = &now
	if err := s.storage.UpdateRefundRequest(req); err != nil {
		return nil, err
	}

	s.logger.Info("deposit refund approved",
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("amount", req.Amount.Amount))
	return req, nil
}

// Application returns one application by id.
func (s *Service) Application(id uuid.UUID) (*models.LoanApplication, error) {
	return s.storage.GetApplication(id)
}

// Loan returns one loan by id.
func (s *Service) Loan(id uuid.UUID) (*models.Loan, error) {
	return s.storage.GetLoan(id)
}

// Balances returns the account's pools.
func (s *Service) Balances(accountID string) (*models.Balances, error) {
	return s.ledger.Balances(accountID)
}
