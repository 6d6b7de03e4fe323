package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayNode struct {
	store *ConnectionStore
	local *recordingClient
	relay *Relay
}

func newRelayNode(t *testing.T, instanceID string, rdb *goredis.Client) *relayNode {
	t.Helper()
	store := NewConnectionStore(rdb, testPrefix, instanceID, clockwork.NewFakeClock())
	local := newRecordingClient()
	relay := NewRelay(rdb, store, local, store, instanceID, testPrefix)
	t.Cleanup(func() {
		_ = relay.Close()
	})
	return &relayNode{store: store, local: local, relay: relay}
}

func TestRelay_LocalConnection(t *testing.T) {
	_, rdb := newTestRedis(t)
	node := newRelayNode(t, "instance-a", rdb)
	ctx := context.Background()

	require.NoError(t, node.store.Add(ctx, "A"))
	require.NoError(t, node.relay.Send(ctx, "A", []byte(`{"x":1}`)))

	assert.Equal(t, [][]byte{[]byte(`{"x":1}`)}, node.local.received("A"))
}

func TestRelay_LocalFailureIsReturned(t *testing.T) {
	_, rdb := newTestRedis(t)
	node := newRelayNode(t, "instance-a", rdb)
	node.local.sendFn = func(domain.ConnectionID) error { return domain.ErrDeliveryFailed }
	ctx := context.Background()

	require.NoError(t, node.store.Add(ctx, "A"))
	assert.ErrorIs(t, node.relay.Send(ctx, "A", []byte(`{}`)), domain.ErrDeliveryFailed)
}

func TestRelay_RemoteConnection(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newRelayNode(t, "instance-a", rdb)
	b := newRelayNode(t, "instance-b", rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.relay.Start(ctx))
	require.NoError(t, b.store.Add(ctx, "B"))

	require.NoError(t, a.relay.Send(ctx, "B", []byte(`{"_me":false}`)))

	require.Eventually(t, func() bool {
		return len(b.local.received("B")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte(`{"_me":false}`), b.local.received("B")[0])
	assert.Empty(t, a.local.received("B"))
}

func TestRelay_OwnerNotListening(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newRelayNode(t, "instance-a", rdb)
	b := newRelayNode(t, "instance-b", rdb)
	ctx := context.Background()

	// instance-b registered a connection but never started its relay.
	require.NoError(t, b.store.Add(ctx, "B"))

	err := a.relay.Send(ctx, "B", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestRelay_UnregisteredConnection(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newRelayNode(t, "instance-a", rdb)

	err := a.relay.Send(context.Background(), "ghost", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestRelay_RelayedFailurePrunesOnOwner(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newRelayNode(t, "instance-a", rdb)
	b := newRelayNode(t, "instance-b", rdb)
	b.local.sendFn = func(domain.ConnectionID) error { return domain.ErrDeliveryFailed }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.relay.Start(ctx))
	require.NoError(t, b.store.Add(ctx, "B"))

	require.NoError(t, a.relay.Send(ctx, "B", []byte(`{}`)))

	require.Eventually(t, func() bool {
		ids, err := a.store.ListAll(ctx)
		return err == nil && len(ids) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_CloseStopsConsuming(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newRelayNode(t, "instance-a", rdb)
	b := newRelayNode(t, "instance-b", rdb)
	ctx := context.Background()

	require.NoError(t, b.relay.Start(ctx))
	require.NoError(t, b.store.Add(ctx, "B"))
	require.NoError(t, b.relay.Close())

	require.Eventually(t, func() bool {
		return a.relay.Send(ctx, "B", []byte(`{}`)) != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, b.relay.Close())
}

func TestRelay_Ping(t *testing.T) {
	_, rdb := newTestRedis(t)
	node := newRelayNode(t, "instance-a", rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, node.relay.Ping(ctx), "not subscribed yet")

	require.NoError(t, node.relay.Start(ctx))
	assert.NoError(t, node.relay.Ping(ctx))

	require.NoError(t, node.relay.Close())
	assert.Error(t, node.relay.Ping(ctx))
}
