package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kolobox/settle/pkg/models"
)

const pendingKeyPrefix = "settle:pending:"

// RedisPendingStore keeps pending payments in Redis so multiple engine
// instances see the same in-flight references. Retention is enforced with a
// key TTL.
type RedisPendingStore struct {
	client *redis.Client
}

var _ PendingStore = (*RedisPendingStore)(nil)

func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

func pendingKey(reference string) string {
	return pendingKeyPrefix + reference
}

func (r *RedisPendingStore) Put(ctx context.Context, payment *models.PendingPayment, retention time.Duration) error {
	raw, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("failed to marshal pending payment: %w", err)
	}
	if err := r.client.Set(ctx, pendingKey(payment.Reference), raw, retention).Err(); err != nil {
		return fmt.Errorf("failed to store pending payment: %w", err)
	}
	return nil
}

func (r *RedisPendingStore) Get(ctx context.Context, reference string) (*models.PendingPayment, error) {
	raw, err := r.client.Get(ctx, pendingKey(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownReference
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending payment: %w", err)
	}
	var payment models.PendingPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending payment: %w", err)
	}
	return &payment, nil
}

func (r *RedisPendingStore) Update(ctx context.Context, payment *models.PendingPayment) error {
	key := pendingKey(payment.Reference)
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read pending payment ttl: %w", err)
	}
	// go-redis reports a missing key as a raw -2.
	if ttl == -2 {
		return ErrUnknownReference
	}
	raw, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("failed to marshal pending payment: %w", err)
	}
	if ttl < 0 {
		ttl = 0 // no expiry
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to update pending payment: %w", err)
	}
	return nil
}
