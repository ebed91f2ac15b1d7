package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, time.Minute), mr
}

func TestIdempotencyRejectsDuplicateKey(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "t1:receive:abc", "inventory"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "t1:receive:abc", "inventory"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "t1:receive:abc", "audit"))
}

func TestIdempotencyDeleteAllowsRetry(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k", "inventory"))
	require.NoError(t, store.Delete(ctx, "k", "inventory"))
	require.NoError(t, store.CheckAndInsert(ctx, "k", "inventory"))
}

func TestIdempotencyKeysExpire(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k", "inventory"))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.CheckAndInsert(ctx, "k", "inventory"))
}

func TestIdempotencyValidation(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	require.Error(t, store.CheckAndInsert(context.Background(), "", "inventory"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", ""))

	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(context.Background(), "k", "inventory"))
	require.NoError(t, nilStore.Delete(context.Background(), "k", "inventory"))
}
