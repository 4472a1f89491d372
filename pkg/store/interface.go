package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/kolobox/settle/pkg/models"
)

var (
	// ErrNotFound is returned for any lookup that matches no record.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateReference is returned when a journal entry reuses an
	// external reference that was already posted.
	ErrDuplicateReference = errors.New("store: duplicate external reference")
)

// Storage defines the persistence operations the engine needs. The journal
// write and the balance write in ApplyTransaction are one atomic unit; a
// crash can never leave one without the other.
type Storage interface {
	CreateApplication(app *models.LoanApplication) error
	GetApplication(id uuid.UUID) (*models.LoanApplication, error)
	UpdateApplication(app *models.LoanApplication) error
	GetApplicationsByAccount(accountID string) ([]*models.LoanApplication, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	GetLoansByAccount(accountID string) ([]*models.Loan, error)

	// GetBalances returns the account's pools, all zero when the account has
	// no history yet.
	GetBalances(accountID string) (*models.Balances, error)
	// ApplyTransactions appends the journal entries and persists the updated
	// balances as one atomic unit. A reused non-empty external reference
	// fails the whole batch with ErrDuplicateReference and writes nothing.
	ApplyTransactions(entries []*models.Transaction, balances *models.Balances) error
	GetTransactionByReference(reference string) (*models.Transaction, error)
	GetTransactionsForAccount(accountID string) ([]*models.Transaction, error)
	GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error)

	CreateOffsetRequest(req *models.OffsetRequest) error
	GetOffsetRequest(id uuid.UUID) (*models.OffsetRequest, error)
	UpdateOffsetRequest(req *models.OffsetRequest) error
	GetPendingOffset(loanID uuid.UUID, offsetType models.OffsetType) (*models.OffsetRequest, error)

	CreateRefundRequest(req *models.RefundRequest) error
	GetRefundRequest(id uuid.UUID) (*models.RefundRequest, error)
	UpdateRefundRequest(req *models.RefundRequest) error
	GetPendingRefund(loanID uuid.UUID) (*models.RefundRequest, error)

	Close() error
}
