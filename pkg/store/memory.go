package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
)

// MemoryStore is an in-memory Storage used in tests and for embedded runs.
// All methods copy on the way in and out so callers never share mutable
// state with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	applications map[uuid.UUID]models.LoanApplication
	loans        map[uuid.UUID]models.Loan
	balances     map[string]models.Balances
	journal      []models.Transaction
	references   map[string]int // external reference -> journal index
	offsets      map[uuid.UUID]models.OffsetRequest
	refunds      map[uuid.UUID]models.RefundRequest
}

var _ Storage = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[uuid.UUID]models.LoanApplication),
		loans:        make(map[uuid.UUID]models.Loan),
		balances:     make(map[string]models.Balances),
		references:   make(map[string]int),
		offsets:      make(map[uuid.UUID]models.OffsetRequest),
		refunds:      make(map[uuid.UUID]models.RefundRequest),
	}
}

func (m *MemoryStore) CreateApplication(app *models.LoanApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications[app.ID] = *app
	return nil
}

func (m *MemoryStore) GetApplication(id uuid.UUID) (*models.LoanApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (m *MemoryStore) UpdateApplication(app *models.LoanApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applications[app.ID]; !ok {
		return ErrNotFound
	}
	m.applications[app.ID] = *app
	return nil
}

func (m *MemoryStore) GetApplicationsByAccount(accountID string) ([]*models.LoanApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.LoanApplication
	for _, app := range m.applications {
		if app.AccountID == accountID {
			app := app
			out = append(out, &app)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MemoryStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &loan, nil
}

func (m *MemoryStore) UpdateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MemoryStore) GetLoansByAccount(accountID string) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Loan
	for _, loan := range m.loans {
		if loan.AccountID == accountID {
			loan := loan
			out = append(out, &loan)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetBalances(accountID string) (*models.Balances, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balancesLocked(accountID), nil
}

func (m *MemoryStore) balancesLocked(accountID string) *models.Balances {
	b, ok := m.balances[accountID]
	if !ok {
		b = models.Balances{
			AccountID:        accountID,
			Contribution:     money.Zero(money.NGN),
			LoanDeposit:      money.Zero(money.NGN),
			InsuranceReserve: money.Zero(money.NGN),
			CompanyRevenue:   money.Zero(money.NGN),
		}
	}
	return &b
}

func (m *MemoryStore) ApplyTransactions(entries []*models.Transaction, balances *models.Balances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		if entry.ExternalReference == "" {
			continue
		}
		if _, dup := m.references[entry.ExternalReference]; dup {
			return ErrDuplicateReference
		}
	}
	for _, entry := range entries {
		if entry.ExternalReference != "" {
			m.references[entry.ExternalReference] = len(m.journal)
		}
		m.journal = append(m.journal, *entry)
	}
	m.balances[balances.AccountID] = *balances
	return nil
}

func (m *MemoryStore) GetTransactionByReference(reference string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.references[reference]
	if !ok {
		return nil, ErrNotFound
	}
	tx := m.journal[idx]
	return &tx, nil
}

func (m *MemoryStore) GetTransactionsForAccount(accountID string) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Transaction
	for i := range m.journal {
		if m.journal[i].AccountID == accountID {
			tx := m.journal[i]
			out = append(out, &tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Transaction
	for i := range m.journal {
		if m.journal[i].LoanID != nil && *m.journal[i].LoanID == loanID {
			tx := m.journal[i]
			out = append(out, &tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateOffsetRequest(req *models.OffsetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[req.ID] = *req
	return nil
}

func (m *MemoryStore) GetOffsetRequest(id uuid.UUID) (*models.OffsetRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.offsets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *MemoryStore) UpdateOffsetRequest(req *models.OffsetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offsets[req.ID]; !ok {
		return ErrNotFound
	}
	m.offsets[req.ID] = *req
	return nil
}

func (m *MemoryStore) GetPendingOffset(loanID uuid.UUID, offsetType models.OffsetType) (*models.OffsetRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, req := range m.offsets {
		if req.LoanID == loanID && req.Type == offsetType && req.Status == models.OffsetPending {
			req := req
			return &req, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateRefundRequest(req *models.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[req.ID] = *req
	return nil
}

func (m *MemoryStore) GetRefundRequest(id uuid.UUID) (*models.RefundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.refunds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *MemoryStore) UpdateRefundRequest(req *models.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[req.ID]; !ok {
		return ErrNotFound
	}
	m.refunds[req.ID] = *req
	return nil
}

func (m *MemoryStore) GetPendingRefund(loanID uuid.UUID) (*models.RefundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, req := range m.refunds {
		if req.LoanID == loanID && req.Status == models.RefundPending {
			req := req
			return &req, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Close() error { return nil }
