package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	existing, err := store.Begin(ctx, "acct-1", "key-1", "fp")
	require.NoError(t, err)
	assert.Nil(t, existing)

	_, err = store.Begin(ctx, "acct-1", "key-1", "fp")
	assert.ErrorIs(t, err, ErrIdempotencyInFlight)

	require.NoError(t, store.Complete(ctx, "acct-1", "key-1", StoredResponse{
		Fingerprint: "fp",
		Status:      201,
		Body:        []byte(`{"transaction_id":"1"}`),
	}))

	replay, err := store.Begin(ctx, "acct-1", "key-1", "fp")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, 201, replay.Status)
	assert.JSONEq(t, `{"transaction_id":"1"}`, string(replay.Body))
}

func TestMemoryIdempotencyRejectsDifferentPayload(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	_, err := store.Begin(ctx, "acct-1", "key-1", "fp-a")
	require.NoError(t, err)
	_, err = store.Begin(ctx, "acct-1", "key-1", "fp-b")
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)

	// scopes are isolated
	existing, err := store.Begin(ctx, "acct-2", "key-1", "fp-b")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestMemoryIdempotencyAbandonAllowsRetry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	_, err := store.Begin(ctx, "acct-1", "key-1", "fp")
	require.NoError(t, err)
	require.NoError(t, store.Abandon(ctx, "acct-1", "key-1"))

	existing, err := store.Begin(ctx, "acct-1", "key-1", "fp")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestNewIdempotencyStoreFallsBackWithoutRedis(t *testing.T) {
	_, ok := NewIdempotencyStore(nil).(*MemoryIdempotencyStore)
	assert.True(t, ok)
}
