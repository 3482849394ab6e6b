package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreClaimsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "period_close.event"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "evt-1", "period_close.event"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "other"))

	require.NoError(t, store.Delete(ctx, "evt-1", "period_close.event"))
	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "period_close.event"))

	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "period_close.event"))
}

func TestIdempotencyStoreRejectsEmptyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewIdempotencyStore(client, 0)
	require.Error(t, store.CheckAndInsert(context.Background(), "", "m"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
}
