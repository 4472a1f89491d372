// Package gateway reconciles externally-initiated payments into the ledger.
// Two interchangeable provider adapters sit behind one Gateway interface;
// the Settlement service owns reference generation, verification, and
// exactly-once posting.
package gateway

import (
	"context"

	"github.com/kolobox/settle/pkg/money"
)

// StatusSuccess is the external status providers report for a completed
// charge; anything else fails verification.
const StatusSuccess = "success"

// InitiateRequest registers a charge with a provider under our reference.
type InitiateRequest struct {
	Reference  string
	Amount     money.Money
	PayerEmail string
}

// Verification is a provider's authoritative view of a charge.
type Verification struct {
	Status                string
	Amount                money.Money
	ExternalTransactionID string
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) error
	Verify(ctx context.Context, reference string) (Verification, error)
}
