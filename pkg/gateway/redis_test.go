package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
)

func newRedisStore(t *testing.T) (*RedisPendingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPendingStore(client), mr
}

func pendingFixture() *models.PendingPayment {
	return &models.PendingPayment{
		Reference: "stl_redis-1",
		Gateway:   "paystack",
		AccountID: "alice",
		Purpose:   models.PurposeContribution,
		Amount:    money.NGNNaira(5_000),
		Status:    models.PendingInitiated,
		Deadline:  time.Now().UTC().Add(30 * time.Minute),
		CreatedAt: time.Now().UTC(),
	}
}

func TestRedisPendingRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	payment := pendingFixture()
	require.NoError(t, s.Put(ctx, payment, time.Hour))

	got, err := s.Get(ctx, payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.Reference, got.Reference)
	assert.Equal(t, payment.Amount, got.Amount)
	assert.Equal(t, models.PendingInitiated, got.Status)
}

func TestRedisPendingGetUnknown(t *testing.T) {
	s, _ := newRedisStore(t)

	_, err := s.Get(context.Background(), "stl_missing")
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestRedisPendingUpdatePreservesTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	payment := pendingFixture()
	require.NoError(t, s.Put(ctx, payment, time.Hour))

	payment.Status = models.PendingSettled
	require.NoError(t, s.Update(ctx, payment))

	got, err := s.Get(ctx, payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PendingSettled, got.Status)

	ttl := mr.TTL(pendingKey(payment.Reference))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestRedisPendingUpdateUnknown(t *testing.T) {
	s, _ := newRedisStore(t)

	err := s.Update(context.Background(), pendingFixture())
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestRedisPendingExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	payment := pendingFixture()
	require.NoError(t, s.Put(ctx, payment, time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, payment.Reference)
	assert.ErrorIs(t, err, ErrUnknownReference)
}
