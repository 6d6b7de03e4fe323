package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pscheid92/fanout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStore_AddListRemove(t *testing.T) {
	store := NewConnectionStore(setupTestDB(t), "instance-1")
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "A"))
	require.NoError(t, store.Add(ctx, "B"))
	require.NoError(t, store.Add(ctx, "C"))

	ids, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ConnectionID{"A", "B", "C"}, ids)

	require.NoError(t, store.Remove(ctx, "A"))

	ids, err = store.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ConnectionID{"B", "C"}, ids)
}

func TestConnectionStore_ListAllEmpty(t *testing.T) {
	store := NewConnectionStore(setupTestDB(t), "instance-1")

	ids, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConnectionStore_AddKeepsFirstRecord(t *testing.T) {
	pool := setupTestDB(t)
	first := NewConnectionStore(pool, "instance-1")
	second := NewConnectionStore(pool, "instance-2")
	ctx := context.Background()

	require.NoError(t, first.Add(ctx, "A"))
	require.NoError(t, second.Add(ctx, "A"))

	record, err := second.Record(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "instance-1", record.InstanceID)
	assert.WithinDuration(t, time.Now(), record.ConnectedAt, time.Minute)
}

func TestConnectionStore_RemoveUnknownIsNoop(t *testing.T) {
	store := NewConnectionStore(setupTestDB(t), "instance-1")

	assert.NoError(t, store.Remove(context.Background(), "ghost"))
}

func TestConnectionStore_RecordNotFound(t *testing.T) {
	store := NewConnectionStore(setupTestDB(t), "instance-1")

	_, err := store.Record(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestConnectionStore_RemoveInstance(t *testing.T) {
	pool := setupTestDB(t)
	a := NewConnectionStore(pool, "instance-a")
	b := NewConnectionStore(pool, "instance-b")
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, "A1"))
	require.NoError(t, a.Add(ctx, "A2"))
	require.NoError(t, b.Add(ctx, "B1"))

	removed, err := b.RemoveInstance(ctx, "instance-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	ids, err := a.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"B1"}, ids)
}

func TestConnectionStore_CancelledContextIsUnavailable(t *testing.T) {
	store := NewConnectionStore(setupTestDB(t), "instance-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListAll(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
