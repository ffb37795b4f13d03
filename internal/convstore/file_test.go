package convstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	return store, path
}

func TestFileStorePutGetDelete(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	st := State{
		UserID:     "u1",
		FlowKind:   "invoice_a",
		Step:       2,
		Selections: map[string]string{"subtype": "Otros", "order_number": "PED-1"},
	}
	require.NoError(t, store.Put(ctx, st))

	got, ok, err := store.Get(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Step)
	assert.Equal(t, "PED-1", got.Value("order_number"))
	assert.False(t, got.UpdatedAt.IsZero(), "Put stamps UpdatedAt")

	// Same user, different flow kind is a different entry.
	_, ok, err = store.Get(ctx, "u1", "refund")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "u1", "invoice_a"))
	_, ok, err = store.Get(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreTakeConsumes(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{UserID: "u1", FlowKind: "invoice_a", Step: 3}))

	st, ok, err := store.Take(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, st.Step)

	_, ok, err = store.Take(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	assert.False(t, ok, "second take must lose")
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	store, path := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, State{
		UserID: "u1", FlowKind: "invoice_a", Step: 3, RequestID: "u1_abc_1",
	}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	st, ok, err := reopened.Get(ctx, "u1", "invoice_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1_abc_1", st.RequestID)
}

func TestFileStoreSweepExpired(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	now := base
	store.WithClock(func() time.Time { return now })

	require.NoError(t, store.Put(ctx, State{UserID: "u1", FlowKind: "invoice_a"}))
	now = base.Add(8 * time.Minute)
	require.NoError(t, store.Put(ctx, State{UserID: "u2", FlowKind: "refund"}))

	// Eleven minutes after the first entry, only it has expired.
	now = base.Add(11 * time.Minute)
	removed, err := store.SweepExpired(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, _ := store.Get(ctx, "u1", "invoice_a")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "u2", "refund")
	assert.True(t, ok)
}

func TestNewRequestIDShape(t *testing.T) {
	id := NewRequestID("u1")
	parts := strings.Split(id, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "u1", parts[0])
	assert.Len(t, parts[1], 8)
	assert.NotEqual(t, NewRequestID("u1"), id)
}
