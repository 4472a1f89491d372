// Package ledger is the authoritative store of balance pools and the
// append-only transaction journal. Pools change only through Post; the
// journal entry and the balance update are committed as one atomic unit.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/store"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds in source pool")
	ErrUnknownPool       = errors.New("ledger: unknown pool")
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	ErrReconciliation    = errors.New("ledger: journal does not reconcile with balances")
)

// Ledger validates and applies journal entries against an account's pools.
type Ledger struct {
	storage store.Storage
	locks   *store.KeyedMutex
	logger  *zap.Logger
}

// New creates a Ledger. The KeyedMutex must be the instance shared with
// every other service mutating the same store.
func New(storage store.Storage, locks *store.KeyedMutex, logger *zap.Logger) *Ledger {
	return &Ledger{storage: storage, locks: locks, logger: logger}
}

// Post atomically validates, applies and journals one transaction, returning
// the account's updated balances.
//
// When the entry carries an external reference that was already posted, Post
// is a no-op and returns the balances as they stand; the caller sees the
// same outcome as the first delivery. This is the duplicate-suppression
// mechanism for gateway callbacks and webhook retries.
func (l *Ledger) Post(entry *models.Transaction) (*models.Balances, error) {
	return l.PostAll(entry)
}

// PostAll applies a batch of entries for one account as a single atomic
// unit: either every entry lands in the journal with the combined balance
// update, or nothing does. All entries must share one account.
func (l *Ledger) PostAll(entries ...*models.Transaction) (*models.Balances, error) {
	if len(entries) == 0 {
		return nil, ErrNonPositiveAmount
	}
	accountID := entries[0].AccountID
	for _, entry := range entries {
		if !entry.Amount.IsPositive() {
			return nil, ErrNonPositiveAmount
		}
		if !entry.Source.Known() || !entry.Destination.Known() {
			return nil, ErrUnknownPool
		}
		if entry.AccountID != accountID {
			return nil, fmt.Errorf("ledger: batch spans accounts %q and %q", accountID, entry.AccountID)
		}
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
	}

	unlock := l.locks.Lock("acct:" + accountID)
	defer unlock()

	// Entries in one batch are posted together, so a replayed reference on
	// any of them means the whole batch already landed.
	for _, entry := range entries {
		if entry.ExternalReference == "" {
			continue
		}
		if prior, err := l.storage.GetTransactionByReference(entry.ExternalReference); err == nil {
			l.logger.Info("reference already posted, returning prior result",
				zap.String("reference", entry.ExternalReference),
				zap.String("tx_id", prior.ID.String()))
			return l.storage.GetBalances(accountID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to check reference: %w", err)
		}
	}

	balances, err := l.storage.GetBalances(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	for _, entry := range entries {
		if src := balances.Pool(entry.Source); src != nil {
			if src.LessThan(entry.Amount) {
				return nil, ErrInsufficientFunds
			}
			*src = src.Sub(entry.Amount)
		}
		if dst := balances.Pool(entry.Destination); dst != nil {
			*dst = dst.Add(entry.Amount)
		}
	}

	if err := l.storage.ApplyTransactions(entries, balances); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			// Lost a race with a concurrent delivery of the same reference.
			return l.storage.GetBalances(accountID)
		}
		return nil, fmt.Errorf("failed to apply transactions: %w", err)
	}

	for _, entry := range entries {
		l.logger.Info("posted transaction",
			zap.String("tx_id", entry.ID.String()),
			zap.String("account_id", entry.AccountID),
			zap.String("kind", string(entry.Kind)),
			zap.String("source", string(entry.Source)),
			zap.String("destination", string(entry.Destination)),
			zap.Int64("amount", entry.Amount.Amount))
	}

	return balances, nil
}

// Balances returns the account's pools without locking; committed state only.
func (l *Ledger) Balances(accountID string) (*models.Balances, error) {
	return l.storage.GetBalances(accountID)
}

// HasReference reports whether an external reference was already journaled.
func (l *Ledger) HasReference(reference string) (bool, error) {
	_, err := l.storage.GetTransactionByReference(reference)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Reconcile replays the account's journal and verifies that per-pool
// credits minus debits equal the current balances.
func (l *Ledger) Reconcile(accountID string) error {
	unlock := l.locks.Lock("acct:" + accountID)
	defer unlock()

	entries, err := l.storage.GetTransactionsForAccount(accountID)
	if err != nil {
		return fmt.Errorf("failed to load journal: %w", err)
	}
	balances, err := l.storage.GetBalances(accountID)
	if err != nil {
		return fmt.Errorf("failed to load balances: %w", err)
	}

	sums := map[models.Pool]int64{}
	for _, e := range entries {
		if e.Source.Tracked() {
			sums[e.Source] -= e.Amount.Amount
		}
		if e.Destination.Tracked() {
			sums[e.Destination] += e.Amount.Amount
		}
	}

	for _, pool := range []models.Pool{
		models.PoolContribution, models.PoolLoanDeposit,
		models.PoolInsuranceReserve, models.PoolCompanyRevenue,
	} {
		if got := balances.Pool(pool).Amount; got != sums[pool] {
			l.logger.Error("reconciliation mismatch",
				zap.String("account_id", accountID),
				zap.String("pool", string(pool)),
				zap.Int64("journal_sum", sums[pool]),
				zap.Int64("balance", got))
			return fmt.Errorf("%w: pool %s journal=%d balance=%d", ErrReconciliation, pool, sums[pool], got)
		}
	}
	return nil
}
