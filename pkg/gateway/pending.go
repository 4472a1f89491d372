package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kolobox/settle/pkg/models"
)

// ErrUnknownReference is returned for a reference the engine never issued.
var ErrUnknownReference = errors.New("gateway: unknown payment reference")

// PendingStore persists in-flight gateway payments keyed by reference.
// Records are retained past their deadline so late callbacks can be
// distinguished from references that never existed.
type PendingStore interface {
	Put(ctx context.Context, payment *models.PendingPayment, retention time.Duration) error
	Get(ctx context.Context, reference string) (*models.PendingPayment, error)
	Update(ctx context.Context, payment *models.PendingPayment) error
}

// MemoryPendingStore is the in-process PendingStore used in tests and
// single-node runs.
type MemoryPendingStore struct {
	mu       sync.RWMutex
	payments map[string]models.PendingPayment
}

var _ PendingStore = (*MemoryPendingStore)(nil)

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{payments: make(map[string]models.PendingPayment)}
}

func (m *MemoryPendingStore) Put(_ context.Context, payment *models.PendingPayment, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.Reference] = *payment
	return nil
}

func (m *MemoryPendingStore) Get(_ context.Context, reference string) (*models.PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[reference]
	if !ok {
		return nil, ErrUnknownReference
	}
	return &p, nil
}

func (m *MemoryPendingStore) Update(_ context.Context, payment *models.PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.Reference]; !ok {
		return ErrUnknownReference
	}
	m.payments[payment.Reference] = *payment
	return nil
}
