// Package models holds the domain types shared across the settlement engine.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kolobox/settle/pkg/money"
)

// Pool names a ledger balance bucket. Every pool is mutated only through a
// journaled transaction, never by direct assignment.
type Pool string

const (
	// PoolExternal stands for money outside the platform (a customer's bank
	// account or card). It carries no tracked balance: credits from it are
	// unbounded and debits to it are payouts.
	PoolExternal Pool = "external"

	PoolContribution     Pool = "contribution"      // customer savings
	PoolLoanDeposit      Pool = "loan_deposit"      // refundable deposits awaiting use or refund
	PoolInsuranceReserve Pool = "insurance_reserve" // company-held, non-refundable
	PoolCompanyRevenue   Pool = "company_revenue"
)

// Tracked reports whether the pool carries a balance row.
func (p Pool) Tracked() bool {
	switch p {
	case PoolContribution, PoolLoanDeposit, PoolInsuranceReserve, PoolCompanyRevenue:
		return true
	}
	return false
}

// Known reports whether p is a pool the ledger understands at all.
func (p Pool) Known() bool {
	return p == PoolExternal || p.Tracked()
}

// Balances is the set of tracked pools for one account holder.
type Balances struct {
	AccountID        string      `json:"account_id"`
	Contribution     money.Money `json:"contribution"`
	LoanDeposit      money.Money `json:"loan_deposit"`
	InsuranceReserve money.Money `json:"insurance_reserve"`
	CompanyRevenue   money.Money `json:"company_revenue"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Pool returns a pointer to the named pool's amount, or nil for untracked
// pools.
func (b *Balances) Pool(p Pool) *money.Money {
	switch p {
	case PoolContribution:
		return &b.Contribution
	case PoolLoanDeposit:
		return &b.LoanDeposit
	case PoolInsuranceReserve:
		return &b.InsuranceReserve
	case PoolCompanyRevenue:
		return &b.CompanyRevenue
	}
	return nil
}

// TxKind classifies a journal entry.
type TxKind string

const (
	TxContribution       TxKind = "contribution"
	TxUpfrontPayment     TxKind = "upfront_payment"
	TxRepayment          TxKind = "repayment"
	TxDepositOffset      TxKind = "deposit_offset"
	TxContributionOffset TxKind = "contribution_offset"
	TxBankOffset         TxKind = "bank_offset"
	TxServiceCharge      TxKind = "service_charge"
	TxDepositRefund      TxKind = "deposit_refund"
)

// Transaction is an append-only journal entry. ExternalReference, when set,
// is the idempotency key: posting the same reference twice is a no-op.
type Transaction struct {
	ID                uuid.UUID   `json:"id"`
	AccountID         string      `json:"account_id"`
	LoanID            *uuid.UUID  `json:"loan_id,omitempty"`
	Kind              TxKind      `json:"kind"`
	Amount            money.Money `json:"amount"`
	Source            Pool        `json:"source"`
	Destination       Pool        `json:"destination"`
	ExternalReference string      `json:"external_reference,omitempty"`
	InterestComponent money.Money `json:"interest_component"` // revenue-reporting split of repayments
	CreatedAt         time.Time   `json:"created_at"`
}

// ProductCategory identifies a loan product.
type ProductCategory string

const (
	CategorySME      ProductCategory = "sme"
	CategoryBusiness ProductCategory = "business"
	CategoryJumbo    ProductCategory = "jumbo"
)

// LoanProduct is immutable reference data for a category.
type LoanProduct struct {
	Category           ProductCategory
	MinAmount          money.Money
	MaxAmount          money.Money
	InsuranceRateBP    int64 // basis points of principal
	DefaultPeriodWeeks int
}

// Products is the catalog, keyed by category.
var Products = map[ProductCategory]LoanProduct{
	CategorySME: {
		Category:           CategorySME,
		MinAmount:          money.NGNNaira(50_000),
		MaxAmount:          money.NGNNaira(1_000_000),
		InsuranceRateBP:    150,
		DefaultPeriodWeeks: 12,
	},
	CategoryBusiness: {
		Category:           CategoryBusiness,
		MinAmount:          money.NGNNaira(1_000_000),
		MaxAmount:          money.NGNNaira(5_000_000),
		InsuranceRateBP:    200,
		DefaultPeriodWeeks: 12,
	},
	CategoryJumbo: {
		Category:           CategoryJumbo,
		MinAmount:          money.NGNNaira(5_000_000),
		MaxAmount:          money.NGNNaira(20_000_000),
		InsuranceRateBP:    250,
		DefaultPeriodWeeks: 12,
	},
}

// UpfrontCost is computed once per application and immutable afterwards.
type UpfrontCost struct {
	Deposit       money.Money `json:"deposit"` // refundable
	Insurance     money.Money `json:"insurance"`
	ServiceCharge money.Money `json:"service_charge"`
	Total         money.Money `json:"total"`
}

// ApplicationStatus tracks the forward-only application state machine.
type ApplicationStatus string

const (
	AppDraft           ApplicationStatus = "draft"
	AppPendingUpfront  ApplicationStatus = "pending_upfront"
	AppPendingApproval ApplicationStatus = "pending_approval"
	AppApproved        ApplicationStatus = "approved"
	AppRejected        ApplicationStatus = "rejected" // terminal
)

// Guarantor is the person standing for the applicant.
type Guarantor struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required,min=7"`
}

// UpfrontSource records how the upfront cost was paid.
type UpfrontSource string

const (
	UpfrontFromContribution UpfrontSource = "contribution_balance"
	UpfrontFromGateway      UpfrontSource = "gateway"
)

type LoanApplication struct {
	ID            uuid.UUID         `json:"id"`
	AccountID     string            `json:"account_id"`
	Category      ProductCategory   `json:"category"`
	Principal     money.Money       `json:"principal"`
	PeriodWeeks   int               `json:"period_weeks"`
	Purpose       string            `json:"purpose"`
	Guarantor     Guarantor         `json:"guarantor"`
	Upfront       UpfrontCost       `json:"upfront"`
	UpfrontPaid   bool              `json:"upfront_paid"`
	UpfrontSource UpfrontSource     `json:"upfront_source,omitempty"`
	Status        ApplicationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type LoanStatus string

const (
	LoanActive    LoanStatus = "active"
	LoanCompleted LoanStatus = "completed"
)

type Loan struct {
	ID              uuid.UUID   `json:"id"`
	ApplicationID   uuid.UUID   `json:"application_id"`
	AccountID       string      `json:"account_id"`
	Principal       money.Money `json:"principal"`
	InterestRateBP  int64       `json:"interest_rate_bp"`
	TotalRepayable  money.Money `json:"total_repayable"`
	WeeklyPayment   money.Money `json:"weekly_payment"`
	PeriodWeeks     int         `json:"period_weeks"`
	AmountRepaid    money.Money `json:"amount_repaid"`
	DepositAmount   money.Money `json:"deposit_amount"`
	DepositRefunded bool        `json:"deposit_refunded"`
	Status          LoanStatus  `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// RemainingBalance is totalRepayable - amountRepaid, floored at zero.
func (l *Loan) RemainingBalance() money.Money {
	rem := l.TotalRepayable.Sub(l.AmountRepaid)
	if rem.IsNegative() {
		return money.Zero(rem.Currency)
	}
	return rem
}

// TotalInterest is the interest share of the total repayable.
func (l *Loan) TotalInterest() money.Money {
	return l.TotalRepayable.Sub(l.Principal)
}

type OffsetType string

const (
	OffsetDeposit      OffsetType = "deposit"
	OffsetContribution OffsetType = "contribution"
	OffsetBank         OffsetType = "bank"
)

type OffsetStatus string

const (
	OffsetPending  OffsetStatus = "pending"
	OffsetApproved OffsetStatus = "approved"
	OffsetRejected OffsetStatus = "rejected"
)

// OffsetRequest is an admin-approved transfer of pool funds (or a fresh bank
// debit) against a loan's remaining balance. At most one Pending request per
// (loan, type).
type OffsetRequest struct {
	ID         uuid.UUID    `json:"id"`
	LoanID     uuid.UUID    `json:"loan_id"`
	AccountID  string       `json:"account_id"`
	Type       OffsetType   `json:"type"`
	Amount     money.Money  `json:"amount"`
	Status     OffsetStatus `json:"status"`
	LedgerTxID *uuid.UUID   `json:"ledger_tx_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	DecidedAt  *time.Time   `json:"decided_at,omitempty"`
}

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

// RefundRequest releases a completed loan's deposit back to the customer.
// Same admin-approval shape as OffsetRequest. Payout, when set, names where
// the money should land once approved.
type RefundRequest struct {
	ID         uuid.UUID    `json:"id"`
	LoanID     uuid.UUID    `json:"loan_id"`
	AccountID  string       `json:"account_id"`
	Amount     money.Money  `json:"amount"`
	Payout     *Payout      `json:"payout,omitempty"`
	Status     RefundStatus `json:"status"`
	LedgerTxID *uuid.UUID   `json:"ledger_tx_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	DecidedAt  *time.Time   `json:"decided_at,omitempty"`
}

// PaymentPurpose says what a gateway payment is for.
type PaymentPurpose string

const (
	PurposeContribution PaymentPurpose = "contribution"
	PurposeUpfront      PaymentPurpose = "upfront"
	PurposeRepayment    PaymentPurpose = "repayment"
)

// PendingStatus is the lifecycle of an externally-initiated payment.
// Settled, Cancelled and TimedOut are terminal; a terminal reference can
// never settle again.
type PendingStatus string

const (
	PendingInitiated PendingStatus = "initiated"
	PendingSettled   PendingStatus = "settled"
	PendingFailed    PendingStatus = "failed"
	PendingCancelled PendingStatus = "cancelled"
	PendingTimedOut  PendingStatus = "timed_out"
)

// PendingPayment tracks one gateway-initiated payment by its reference.
type PendingPayment struct {
	Reference  string         `json:"reference"`
	Gateway    string         `json:"gateway"`
	AccountID  string         `json:"account_id"`
	Purpose    PaymentPurpose `json:"purpose"`
	TargetID   uuid.UUID      `json:"target_id"` // application or loan, depending on purpose
	Amount     money.Money    `json:"amount"`
	PayerEmail string         `json:"payer_email"`
	Status     PendingStatus  `json:"status"`
	Deadline   time.Time      `json:"deadline"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Terminal reports whether the payment can no longer settle.
func (p *PendingPayment) Terminal() bool {
	return p.Status != PendingInitiated
}
