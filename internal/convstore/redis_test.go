package convstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreWithClient(client, 10*time.Minute), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{
		UserID:     "u1",
		FlowKind:   "invoice_a",
		Step:       2,
		Selections: map[string]string{"order_number": "PED-1"},
	}))

	st, ok, err := store.Get(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "PED-1", st.Value("order_number"))

	require.NoError(t, store.Delete(ctx, "u1", "invoice_a"))
	_, ok, err = store.Get(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreTakeConsumes(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{UserID: "u1", FlowKind: "invoice_a", Step: 3}))

	st, ok, err := store.Take(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, st.Step)

	_, ok, err = store.Take(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreEntriesExpire(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{UserID: "u1", FlowKind: "invoice_a"}))

	mr.FastForward(11 * time.Minute)

	_, ok, err := store.Get(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	assert.False(t, ok, "redis key TTL expires the entry")

	removed, err := store.SweepExpired(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed, "sweeping is server-side for redis")
}
