package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ledgerpkg "github.com/kolobox/settle/pkg/ledger"
	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
	"github.com/kolobox/settle/pkg/store"
)

var (
	ErrVerificationFailed = errors.New("gateway: provider did not confirm the payment")
	ErrPaymentTerminal    = errors.New("gateway: reference is in a terminal state and can never settle")
	ErrTimedOut           = errors.New("gateway: payment deadline passed; retry with a new reference")
	ErrUnknownGateway     = errors.New("gateway: unknown provider")
	ErrAlreadySettled     = errors.New("gateway: reference already settled")
)

// DefaultTimeout bounds a pending payment when the caller supplies none.
const DefaultTimeout = 30 * time.Minute

// retentionPadding keeps terminal records around long enough for late
// webhook retries to get a definitive answer.
const retentionPadding = 24 * time.Hour

// Hook receives confirmed payments whose domain effect lives outside this
// package (upfront confirmation, loan repayment). The hook must post its
// ledger entries with references derived from payment.Reference so replays
// stay idempotent.
type Hook interface {
	OnSettled(ctx context.Context, payment *models.PendingPayment) error
}

// InitiateParams describes a payment to start.
type InitiateParams struct {
	Gateway    string // empty selects the default provider
	AccountID  string
	Purpose    models.PaymentPurpose
	TargetID   uuid.UUID
	Amount     money.Money
	PayerEmail string
	Timeout    time.Duration
}

// Result is the outcome of a callback delivery.
type Result struct {
	Reference      string               `json:"reference"`
	Status         models.PendingStatus `json:"status"`
	AlreadySettled bool                 `json:"already_settled"`
}

// Settlement converts provider callbacks into ledger postings exactly once.
type Settlement struct {
	gateways       map[string]Gateway
	defaultGateway string
	pending        PendingStore
	ledger         *ledgerpkg.Ledger
	locks          *store.KeyedMutex
	hook           Hook
	logger         *zap.Logger
}

func NewSettlement(gateways []Gateway, pending PendingStore, ledger *ledgerpkg.Ledger, locks *store.KeyedMutex, logger *zap.Logger) *Settlement {
	byName := make(map[string]Gateway, len(gateways))
	var def string
	for i, g := range gateways {
		if i == 0 {
			def = g.Name()
		}
		byName[g.Name()] = g
	}
	return &Settlement{
		gateways:       byName,
		defaultGateway: def,
		pending:        pending,
		ledger:         ledger,
		locks:          locks,
		logger:         logger,
	}
}

// SetHook wires the lifecycle side in after construction; the lifecycle
// service holds a reference to Settlement, so the hook cannot be a
// constructor argument.
func (s *Settlement) SetHook(h Hook) { s.hook = h }

// Initiate registers a charge with a provider and records the pending
// payment under a fresh reference.
func (s *Settlement) Initiate(ctx context.Context, params InitiateParams) (*models.PendingPayment, error) {
	name := params.Gateway
	if name == "" {
		name = s.defaultGateway
	}
	gw, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	payment := &models.PendingPayment{
		Reference:  "stl_" + uuid.NewString(),
		Gateway:    name,
		AccountID:  params.AccountID,
		Purpose:    params.Purpose,
		TargetID:   params.TargetID,
		Amount:     params.Amount,
		PayerEmail: params.PayerEmail,
		Status:     models.PendingInitiated,
		Deadline:   time.Now().UTC().Add(timeout),
		CreatedAt:  time.Now().UTC(),
	}

	// Record the reference before the provider can create a charge under it;
	// an orphaned record simply times out, an orphaned charge loses money.
	if err := s.pending.Put(ctx, payment, timeout+retentionPadding); err != nil {
		return nil, err
	}

	if err := gw.Initiate(ctx, InitiateRequest{
		Reference:  payment.Reference,
		Amount:     payment.Amount,
		PayerEmail: payment.PayerEmail,
	}); err != nil {
		payment.Status = models.PendingCancelled
		if uerr := s.pending.Update(ctx, payment); uerr != nil {
			s.logger.Warn("failed to cancel pending payment after initiate error",
				zap.String("reference", payment.Reference), zap.Error(uerr))
		}
		return nil, fmt.Errorf("failed to initiate with %s: %w", name, err)
	}

	s.logger.Info("payment initiated",
		zap.String("reference", payment.Reference),
		zap.String("gateway", name),
		zap.String("purpose", string(payment.Purpose)),
		zap.Int64("amount", payment.Amount.Amount))
	return payment, nil
}

// OnCallback handles a provider's confirmation for reference. Safe to invoke
// any number of times: a settled reference returns the cached result, a
// terminal one refuses, and an unverified one mutates nothing.
func (s *Settlement) OnCallback(ctx context.Context, reference, externalStatus string, amount money.Money) (*Result, error) {
	unlock := s.locks.Lock("ref:" + reference)
	defer unlock()

	payment, err := s.pending.Get(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PendingSettled:
		return &Result{Reference: reference, Status: payment.Status, AlreadySettled: true}, nil
	case models.PendingCancelled, models.PendingTimedOut, models.PendingFailed:
		return &Result{Reference: reference, Status: payment.Status}, ErrPaymentTerminal
	}

	if time.Now().UTC().After(payment.Deadline) {
		payment.Status = models.PendingTimedOut
		if err := s.pending.Update(ctx, payment); err != nil {
			return nil, err
		}
		s.logger.Warn("payment timed out before settlement", zap.String("reference", reference))
		return &Result{Reference: reference, Status: payment.Status}, ErrTimedOut
	}

	gw, ok := s.gateways[payment.Gateway]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, payment.Gateway)
	}
	verification, err := gw.Verify(ctx, reference)
	if err != nil {
		// Leave the payment initiated; verification may succeed on retry.
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if verification.Status != StatusSuccess {
		// The provider's own verdict, not the callback body, decides
		// failure. Mark Failed only when both agree; a lone unverified
		// claim leaves the payment open for a later retry.
		if externalStatus != StatusSuccess {
			payment.Status = models.PendingFailed
			if err := s.pending.Update(ctx, payment); err != nil {
				return nil, err
			}
			s.logger.Info("payment failed at provider",
				zap.String("reference", reference), zap.String("status", verification.Status))
			return &Result{Reference: reference, Status: payment.Status}, ErrVerificationFailed
		}
		return nil, fmt.Errorf("%w: provider status %q", ErrVerificationFailed, verification.Status)
	}
	if !verification.Amount.Equal(payment.Amount) {
		return nil, fmt.Errorf("%w: amount mismatch, expected %s got %s",
			ErrVerificationFailed, payment.Amount, verification.Amount)
	}
	if amount.IsPositive() && !amount.Equal(payment.Amount) {
		return nil, fmt.Errorf("%w: callback amount %s does not match %s",
			ErrVerificationFailed, amount, payment.Amount)
	}

	if err := s.apply(ctx, payment); err != nil {
		return nil, err
	}

	payment.Status = models.PendingSettled
	if err := s.pending.Update(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Info("payment settled",
		zap.String("reference", reference),
		zap.String("purpose", string(payment.Purpose)),
		zap.Int64("amount", payment.Amount.Amount))
	return &Result{Reference: reference, Status: payment.Status}, nil
}

// apply posts the confirmed payment's domain effect. Contributions credit
// the savings pool directly; upfronts and repayments belong to the loan
// lifecycle and go through the hook.
func (s *Settlement) apply(ctx context.Context, payment *models.PendingPayment) error {
	if payment.Purpose == models.PurposeContribution {
		_, err := s.ledger.Post(&models.Transaction{
			AccountID:         payment.AccountID,
			Kind:              models.TxContribution,
			Amount:            payment.Amount,
			Source:            models.PoolExternal,
			Destination:       models.PoolContribution,
			ExternalReference: payment.Reference,
		})
		if err != nil {
			return fmt.Errorf("failed to post contribution: %w", err)
		}
		return nil
	}

	if s.hook == nil {
		return fmt.Errorf("no settlement hook registered for purpose %s", payment.Purpose)
	}
	return s.hook.OnSettled(ctx, payment)
}

// OnCancel marks an unsettled reference Cancelled. Cancellation is terminal
// and idempotent; a settled reference cannot be cancelled.
func (s *Settlement) OnCancel(ctx context.Context, reference string) (*Result, error) {
	unlock := s.locks.Lock("ref:" + reference)
	defer unlock()

	payment, err := s.pending.Get(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PendingCancelled:
		return &Result{Reference: reference, Status: payment.Status}, nil
	case models.PendingSettled:
		return &Result{Reference: reference, Status: payment.Status}, ErrAlreadySettled
	}

	payment.Status = models.PendingCancelled
	if err := s.pending.Update(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.Info("payment cancelled", zap.String("reference", reference))
	return &Result{Reference: reference, Status: payment.Status}, nil
}

// Status returns the current state of a reference, rolling an expired
// initiated payment over to TimedOut.
func (s *Settlement) Status(ctx context.Context, reference string) (*models.PendingPayment, error) {
	unlock := s.locks.Lock("ref:" + reference)
	defer unlock()

	payment, err := s.pending.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PendingInitiated && time.Now().UTC().After(payment.Deadline) {
		payment.Status = models.PendingTimedOut
		if err := s.pending.Update(ctx, payment); err != nil {
			return nil, err
		}
	}
	return payment, nil
}
