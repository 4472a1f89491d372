package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the persistent Storage implementation. Monetary amounts are
// stored as INTEGER minor units next to a currency column, so no precision
// is ever lost.
type SQLiteStore struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		category TEXT NOT NULL,
		principal INTEGER NOT NULL,
		currency TEXT NOT NULL,
		period_weeks INTEGER NOT NULL,
		purpose TEXT NOT NULL,
		guarantor_name TEXT NOT NULL,
		guarantor_phone TEXT NOT NULL,
		upfront_deposit INTEGER NOT NULL,
		upfront_insurance INTEGER NOT NULL,
		upfront_service_charge INTEGER NOT NULL,
		upfront_total INTEGER NOT NULL,
		upfront_paid INTEGER NOT NULL DEFAULT 0,
		upfront_source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_applications_account ON applications(account_id);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		principal INTEGER NOT NULL,
		currency TEXT NOT NULL,
		interest_rate_bp INTEGER NOT NULL,
		total_repayable INTEGER NOT NULL,
		weekly_payment INTEGER NOT NULL,
		period_weeks INTEGER NOT NULL,
		amount_repaid INTEGER NOT NULL,
		deposit_amount INTEGER NOT NULL,
		deposit_refunded INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(application_id) REFERENCES applications(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_account ON loans(account_id);

	CREATE TABLE IF NOT EXISTS balances (
		account_id TEXT PRIMARY KEY,
		contribution INTEGER NOT NULL,
		loan_deposit INTEGER NOT NULL,
		insurance_reserve INTEGER NOT NULL,
		company_revenue INTEGER NOT NULL,
		currency TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		loan_id TEXT,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		external_reference TEXT,
		interest_component INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_reference
		ON journal(external_reference) WHERE external_reference IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal(account_id);
	CREATE INDEX IF NOT EXISTS idx_journal_loan ON journal(loan_id);

	CREATE TABLE IF NOT EXISTS offset_requests (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		ledger_tx_id TEXT,
		created_at DATETIME NOT NULL,
		decided_at DATETIME,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_offsets_loan ON offset_requests(loan_id);

	CREATE TABLE IF NOT EXISTS refund_requests (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		payout TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		ledger_tx_id TEXT,
		created_at DATETIME NOT NULL,
		decided_at DATETIME,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_refunds_loan ON refund_requests(loan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueReferenceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "journal")
}

func (s *SQLiteStore) CreateApplication(app *models.LoanApplication) error {
	_, err := s.db.Exec(
		`INSERT INTO applications (id, account_id, category, principal, currency, period_weeks, purpose,
			guarantor_name, guarantor_phone, upfront_deposit, upfront_insurance, upfront_service_charge,
			upfront_total, upfront_paid, upfront_source, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID.String(), app.AccountID, string(app.Category), app.Principal.Amount, string(app.Principal.Currency),
		app.PeriodWeeks, app.Purpose, app.Guarantor.Name, app.Guarantor.Phone,
		app.Upfront.Deposit.Amount, app.Upfront.Insurance.Amount, app.Upfront.ServiceCharge.Amount,
		app.Upfront.Total.Amount, app.UpfrontPaid, string(app.UpfrontSource), string(app.Status),
		app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

const applicationColumns = `id, account_id, category, principal, currency, period_weeks, purpose,
	guarantor_name, guarantor_phone, upfront_deposit, upfront_insurance, upfront_service_charge,
	upfront_total, upfront_paid, upfront_source, status, created_at, updated_at`

func scanApplication(row interface{ Scan(...any) error }) (*models.LoanApplication, error) {
	var app models.LoanApplication
	var idStr, category, currency, source, status string
	var principal, deposit, insurance, serviceCharge, total int64
	err := row.Scan(&idStr, &app.AccountID, &category, &principal, &currency, &app.PeriodWeeks,
		&app.Purpose, &app.Guarantor.Name, &app.Guarantor.Phone, &deposit, &insurance,
		&serviceCharge, &total, &app.UpfrontPaid, &source, &status, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan application: %w", err)
	}
	cur := money.Currency(currency)
	app.ID = uuid.MustParse(idStr)
	app.Category = models.ProductCategory(category)
	app.Principal = money.Money{Amount: principal, Currency: cur}
	app.Upfront = models.UpfrontCost{
		Deposit:       money.Money{Amount: deposit, Currency: cur},
		Insurance:     money.Money{Amount: insurance, Currency: cur},
		ServiceCharge: money.Money{Amount: serviceCharge, Currency: cur},
		Total:         money.Money{Amount: total, Currency: cur},
	}
	app.UpfrontSource = models.UpfrontSource(source)
	app.Status = models.ApplicationStatus(status)
	return &app, nil
}

func (s *SQLiteStore) GetApplication(id uuid.UUID) (*models.LoanApplication, error) {
	row := s.db.QueryRow(`SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id.String())
	return scanApplication(row)
}

func (s *SQLiteStore) UpdateApplication(app *models.LoanApplication) error {
	result, err := s.db.Exec(
		`UPDATE applications SET upfront_paid = ?, upfront_source = ?, status = ?, updated_at = ? WHERE id = ?`,
		app.UpfrontPaid, string(app.UpfrontSource), string(app.Status), app.UpdatedAt, app.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) GetApplicationsByAccount(accountID string) ([]*models.LoanApplication, error) {
	rows, err := s.db.Query(`SELECT `+applicationColumns+` FROM applications WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.LoanApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (id, application_id, account_id, principal, currency, interest_rate_bp,
			total_repayable, weekly_payment, period_weeks, amount_repaid, deposit_amount,
			deposit_refunded, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.ApplicationID.String(), loan.AccountID, loan.Principal.Amount,
		string(loan.Principal.Currency), loan.InterestRateBP, loan.TotalRepayable.Amount,
		loan.WeeklyPayment.Amount, loan.PeriodWeeks, loan.AmountRepaid.Amount,
		loan.DepositAmount.Amount, loan.DepositRefunded, string(loan.Status),
		loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

const loanColumns = `id, application_id, account_id, principal, currency, interest_rate_bp,
	total_repayable, weekly_payment, period_weeks, amount_repaid, deposit_amount,
	deposit_refunded, status, created_at, updated_at`

func scanLoan(row interface{ Scan(...any) error }) (*models.Loan, error) {
	var loan models.Loan
	var idStr, appIDStr, currency, status string
	var principal, total, weekly, repaid, deposit int64
	err := row.Scan(&idStr, &appIDStr, &loan.AccountID, &principal, &currency, &loan.InterestRateBP,
		&total, &weekly, &loan.PeriodWeeks, &repaid, &deposit, &loan.DepositRefunded, &status,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan loan: %w", err)
	}
	cur := money.Currency(currency)
	loan.ID = uuid.MustParse(idStr)
	loan.ApplicationID = uuid.MustParse(appIDStr)
	loan.Principal = money.Money{Amount: principal, Currency: cur}
	loan.TotalRepayable = money.Money{Amount: total, Currency: cur}
	loan.WeeklyPayment = money.Money{Amount: weekly, Currency: cur}
	loan.AmountRepaid = money.Money{Amount: repaid, Currency: cur}
	loan.DepositAmount = money.Money{Amount: deposit, Currency: cur}
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	return scanLoan(row)
}

func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET amount_repaid = ?, deposit_refunded = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.AmountRepaid.Amount, loan.DepositRefunded, string(loan.Status), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) GetLoansByAccount(accountID string) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func (s *SQLiteStore) GetBalances(accountID string) (*models.Balances, error) {
	var b models.Balances
	var contribution, loanDeposit, insurance, revenue int64
	var currency string
	row := s.db.QueryRow(
		`SELECT account_id, contribution, loan_deposit, insurance_reserve, company_revenue, currency, updated_at
		FROM balances WHERE account_id = ?`, accountID)
	err := row.Scan(&b.AccountID, &contribution, &loanDeposit, &insurance, &revenue, &currency, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.Balances{
			AccountID:        accountID,
			Contribution:     money.Zero(money.NGN),
			LoanDeposit:      money.Zero(money.NGN),
			InsuranceReserve: money.Zero(money.NGN),
			CompanyRevenue:   money.Zero(money.NGN),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	cur := money.Currency(currency)
	b.Contribution = money.Money{Amount: contribution, Currency: cur}
	b.LoanDeposit = money.Money{Amount: loanDeposit, Currency: cur}
	b.InsuranceReserve = money.Money{Amount: insurance, Currency: cur}
	b.CompanyRevenue = money.Money{Amount: revenue, Currency: cur}
	return &b, nil
}

// ApplyTransactions writes the journal entries and the balance row in one
// database transaction.
func (s *SQLiteStore) ApplyTransactions(entries []*models.Transaction, balances *models.Balances) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		var loanID any
		if entry.LoanID != nil {
			loanID = entry.LoanID.String()
		}
		var reference any
		if entry.ExternalReference != "" {
			reference = entry.ExternalReference
		}

		_, err = tx.Exec(
			`INSERT INTO journal (id, account_id, loan_id, kind, amount, currency, source, destination,
				external_reference, interest_component, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID.String(), entry.AccountID, loanID, string(entry.Kind), entry.Amount.Amount,
			string(entry.Amount.Currency), string(entry.Source), string(entry.Destination),
			reference, entry.InterestComponent.Amount, entry.CreatedAt,
		)
		if err != nil {
			if isUniqueReferenceError(err) {
				return ErrDuplicateReference
			}
			return fmt.Errorf("failed to append journal entry: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO balances (account_id, contribution, loan_deposit, insurance_reserve, company_revenue, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			contribution = excluded.contribution,
			loan_deposit = excluded.loan_deposit,
			insurance_reserve = excluded.insurance_reserve,
			company_revenue = excluded.company_revenue,
			updated_at = excluded.updated_at`,
		balances.AccountID, balances.Contribution.Amount, balances.LoanDeposit.Amount,
		balances.InsuranceReserve.Amount, balances.CompanyRevenue.Amount,
		string(balances.Contribution.Currency), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}

	return tx.Commit()
}

const journalColumns = `id, account_id, loan_id, kind, amount, currency, source, destination,
	external_reference, interest_component, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var entry models.Transaction
	var idStr, kind, currency, source, destination string
	var loanIDStr, reference sql.NullString
	var amount, interest int64
	err := row.Scan(&idStr, &entry.AccountID, &loanIDStr, &kind, &amount, &currency,
		&source, &destination, &reference, &interest, &entry.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan journal entry: %w", err)
	}
	cur := money.Currency(currency)
	entry.ID = uuid.MustParse(idStr)
	if loanIDStr.Valid {
		id := uuid.MustParse(loanIDStr.String)
		entry.LoanID = &id
	}
	entry.Kind = models.TxKind(kind)
	entry.Amount = money.Money{Amount: amount, Currency: cur}
	entry.Source = models.Pool(source)
	entry.Destination = models.Pool(destination)
	if reference.Valid {
		entry.ExternalReference = reference.String
	}
	entry.InterestComponent = money.Money{Amount: interest, Currency: cur}
	return &entry, nil
}

func (s *SQLiteStore) GetTransactionByReference(reference string) (*models.Transaction, error) {
	row := s.db.QueryRow(`SELECT `+journalColumns+` FROM journal WHERE external_reference = ?`, reference)
	return scanTransaction(row)
}

func (s *SQLiteStore) GetTransactionsForAccount(accountID string) ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT `+journalColumns+` FROM journal WHERE account_id = ? ORDER BY created_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entries: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *SQLiteStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT `+journalColumns+` FROM journal WHERE loan_id = ? ORDER BY created_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entries for loan: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var entries []*models.Transaction
	for rows.Next() {
		entry, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) CreateOffsetRequest(req *models.OffsetRequest) error {
	var txID any
	if req.LedgerTxID != nil {
		txID = req.LedgerTxID.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO offset_requests (id, loan_id, account_id, type, amount, currency, status, ledger_tx_id, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID.String(), req.LoanID.String(), req.AccountID, string(req.Type), req.Amount.Amount,
		string(req.Amount.Currency), string(req.Status), txID, req.CreatedAt, req.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create offset request: %w", err)
	}
	return nil
}

const offsetColumns = `id, loan_id, account_id, type, amount, currency, status, ledger_tx_id, created_at, decided_at`

func scanOffset(row interface{ Scan(...any) error }) (*models.OffsetRequest, error) {
	var req models.OffsetRequest
	var idStr, loanIDStr, offsetType, currency, status string
	var txIDStr sql.NullString
	var decidedAt sql.NullTime
	var amount int64
	err := row.Scan(&idStr, &loanIDStr, &req.AccountID, &offsetType, &amount, &currency, &status,
		&txIDStr, &req.CreatedAt, &decidedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan offset request: %w", err)
	}
	req.ID = uuid.MustParse(idStr)
	req.LoanID = uuid.MustParse(loanIDStr)
	req.Type = models.OffsetType(offsetType)
	req.Amount = money.Money{Amount: amount, Currency: money.Currency(currency)}
	req.Status = models.OffsetStatus(status)
	if txIDStr.Valid {
		id := uuid.MustParse(txIDStr.String)
		req.LedgerTxID = &id
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

func (s *SQLiteStore) GetOffsetRequest(id uuid.UUID) (*models.OffsetRequest, error) {
	row := s.db.QueryRow(`SELECT `+offsetColumns+` FROM offset_requests WHERE id = ?`, id.String())
	return scanOffset(row)
}

func (s *SQLiteStore) UpdateOffsetRequest(req *models.OffsetRequest) error {
	var txID any
	if req.LedgerTxID != nil {
		txID = req.LedgerTxID.String()
	}
	result, err := s.db.Exec(
		`UPDATE offset_requests SET status = ?, ledger_tx_id = ?, decided_at = ? WHERE id = ?`,
		string(req.Status), txID, req.DecidedAt, req.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update offset request: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) GetPendingOffset(loanID uuid.UUID, offsetType models.OffsetType) (*models.OffsetRequest, error) {
	row := s.db.QueryRow(
		`SELECT `+offsetColumns+` FROM offset_requests WHERE loan_id = ? AND type = ? AND status = ?`,
		loanID.String(), string(offsetType), string(models.OffsetPending),
	)
	return scanOffset(row)
}

func (s *SQLiteStore) CreateRefundRequest(req *models.RefundRequest) error {
	var txID any
	if req.LedgerTxID != nil {
		txID = req.LedgerTxID.String()
	}
	payout, err := marshalPayout(req.Payout)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO refund_requests (id, loan_id, account_id, amount, currency, payout, status, ledger_tx_id, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID.String(), req.LoanID.String(), req.AccountID, req.Amount.Amount,
		string(req.Amount.Currency), payout, string(req.Status), txID, req.CreatedAt, req.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund request: %w", err)
	}
	return nil
}

func marshalPayout(p *models.Payout) (string, error) {
	if p == nil {
		return "", nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payout: %w", err)
	}
	return string(raw), nil
}

const refundColumns = `id, loan_id, account_id, amount, currency, payout, status, ledger_tx_id, created_at, decided_at`

func scanRefund(row interface{ Scan(...any) error }) (*models.RefundRequest, error) {
	var req models.RefundRequest
	var idStr, loanIDStr, currency, payout, status string
	var txIDStr sql.NullString
	var decidedAt sql.NullTime
	var amount int64
	err := row.Scan(&idStr, &loanIDStr, &req.AccountID, &amount, &currency, &payout, &status,
		&txIDStr, &req.CreatedAt, &decidedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan refund request: %w", err)
	}
	req.ID = uuid.MustParse(idStr)
	req.LoanID = uuid.MustParse(loanIDStr)
	req.Amount = money.Money{Amount: amount, Currency: money.Currency(currency)}
	if payout != "" {
		var p models.Payout
		if err := json.Unmarshal([]byte(payout), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payout: %w", err)
		}
		req.Payout = &p
	}
	req.Status = models.RefundStatus(status)
	if txIDStr.Valid {
		id := uuid.MustParse(txIDStr.String)
		req.LedgerTxID = &id
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

func (s *SQLiteStore) GetRefundRequest(id uuid.UUID) (*models.RefundRequest, error) {
	row := s.db.QueryRow(`SELECT `+refundColumns+` FROM refund_requests WHERE id = ?`, id.String())
	return scanRefund(row)
}

func (s *SQLiteStore) UpdateRefundRequest(req *models.RefundRequest) error {
	var txID any
	if req.LedgerTxID != nil {
		txID = req.LedgerTxID.String()
	}
	result, err := s.db.Exec(
		`UPDATE refund_requests SET status = ?, ledger_tx_id = ?, decided_at = ? WHERE id = ?`,
		string(req.Status), txID, req.DecidedAt, req.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update refund request: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) GetPendingRefund(loanID uuid.UUID) (*models.RefundRequest, error) {
	row := s.db.QueryRow(
		`SELECT `+refundColumns+` FROM refund_requests WHERE loan_id = ? AND status = ?`,
		loanID.String(), string(models.RefundPending),
	)
	return scanRefund(row)
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
