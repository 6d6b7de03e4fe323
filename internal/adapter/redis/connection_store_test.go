package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStore_AddListRemove(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewConnectionStore(rdb, testPrefix, "instance-1", clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "A"))
	require.NoError(t, store.Add(ctx, "B"))
	require.NoError(t, store.Add(ctx, "C"))

	ids, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ConnectionID{"A", "B", "C"}, ids)

	require.NoError(t, store.Remove(ctx, "B"))

	ids, err = store.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ConnectionID{"A", "C"}, ids)
}

func TestConnectionStore_ListAllEmpty(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewConnectionStore(rdb, testPrefix, "instance-1", clockwork.NewFakeClock())

	ids, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConnectionStore_RemoveUnknownIsNoop(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewConnectionStore(rdb, testPrefix, "instance-1", clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, store.Remove(ctx, "ghost"))
	require.NoError(t, store.Add(ctx, "A"))
	require.NoError(t, store.Remove(ctx, "A"))
	require.NoError(t, store.Remove(ctx, "A"))
}

func TestConnectionStore_StoredLayout(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewConnectionStore(rdb, testPrefix, "instance-1", clock)

	require.NoError(t, store.Add(context.Background(), "A"))

	raw := mr.HGet("test:connections", "A")
	require.NotEmpty(t, raw)

	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "instance-1", stored["instance_id"])
	assert.Equal(t, float64(clock.Now().UnixMilli()), stored["connected_at"])
}

func TestConnectionStore_AddKeepsFirstRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := clockwork.NewFakeClock()
	first := NewConnectionStore(rdb, testPrefix, "instance-1", clock)
	second := NewConnectionStore(rdb, testPrefix, "instance-2", clock)
	ctx := context.Background()

	connectedAt := clock.Now()
	require.NoError(t, first.Add(ctx, "A"))
	clock.Advance(time.Minute)
	require.NoError(t, second.Add(ctx, "A"))

	record, err := first.Record(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("A"), record.ID)
	assert.Equal(t, "instance-1", record.InstanceID)
	assert.Equal(t, connectedAt.UnixMilli(), record.ConnectedAt.UnixMilli())
}

func TestConnectionStore_RecordNotFound(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewConnectionStore(rdb, testPrefix, "instance-1", clockwork.NewFakeClock())

	_, err := store.Record(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestConnectionStore_PrefixIsolation(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := clockwork.NewFakeClock()
	a := NewConnectionStore(rdb, "app-a", "instance-1", clock)
	b := NewConnectionStore(rdb, "app-b", "instance-1", clock)
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, "A"))

	ids, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConnectionStore_Unavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewConnectionStore(rdb, testPrefix, "instance-1", clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	mr.Close()

	_, err := store.ListAll(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.ErrorIs(t, store.Add(ctx, "A"), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Remove(ctx, "A"), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), domain.ErrStoreUnavailable)
}

func TestConnectionStore_RemoveInstance(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := clockwork.NewFakeClock()
	a := NewConnectionStore(rdb, testPrefix, "instance-a", clock)
	b := NewConnectionStore(rdb, testPrefix, "instance-b", clock)
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

	removed, err = a.RemoveInstance(ctx, "instance-gone")
	require.NoError(t, err)
	assert.Zero(t, removed)
}
