package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/fanout/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const defaultRelayDeliveryTimeout = 10 * time.Second

// envelope is published on an instance's delivery channel. Payload is base64 on the wire.
type envelope struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	Payload      []byte              `json:"payload"`
}

// Relay is a DeliveryClient that reaches connections owned by any instance.
// Connections registered by this instance are written locally; all others are
// published on the owner's channel. Each instance consumes its own channel via Start.
type Relay struct {
	rdb        *goredis.Client
	records    domain.ConnectionRecordReader
	local      domain.DeliveryClient
	store      domain.ConnectionStore
	instanceID string
	prefix     string

	deliveryTimeout time.Duration

	mu  sync.Mutex
	sub *goredis.PubSub
	wg  sync.WaitGroup
}

var _ domain.DeliveryClient = (*Relay)(nil)

// NewRelay creates a relay for instanceID. records resolves connection owners and
// store is used to drop connections that fail local delivery of a relayed message.
func NewRelay(rdb *goredis.Client, records domain.ConnectionRecordReader, local domain.DeliveryClient, store domain.ConnectionStore, instanceID, prefix string) *Relay {
	return &Relay{
		rdb:             rdb,
		records:         records,
		local:           local,
		store:           store,
		instanceID:      instanceID,
		prefix:          prefix,
		deliveryTimeout: defaultRelayDeliveryTimeout,
	}
}

func deliveryChannel(prefix, instanceID string) string {
	return prefix + ":deliver:" + instanceID
}

// Send delivers payload to id wherever it is connected.
// A remote send succeeds once the owning instance has received the message.
func (r *Relay) Send(ctx context.Context, id domain.ConnectionID, payload []byte) error {
	record, err := r.records.Record(ctx, id)
	if errors.Is(err, domain.ErrConnectionNotFound) {
		return fmt.Errorf("%w: connection %s is not registered", domain.ErrDeliveryFailed, id)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to resolve owner of %s: %w", domain.ErrDeliveryFailed, id, err)
	}

	if record.InstanceID == r.instanceID {
		return r.local.Send(ctx, id, payload)
	}

	data, err := json.Marshal(envelope{ConnectionID: id, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}

	receivers, err := r.rdb.Publish(ctx, deliveryChannel(r.prefix, record.InstanceID), data).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to publish to instance %s: %w", domain.ErrDeliveryFailed, record.InstanceID, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: instance %s is not listening", domain.ErrDeliveryFailed, record.InstanceID)
	}
	return nil
}

// Start subscribes to this instance's delivery channel and writes relayed messages
// to local connections until ctx is cancelled or Close is called.
func (r *Relay) Start(ctx context.Context) error {
	channel := deliveryChannel(r.prefix, r.instanceID)
	sub := r.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so publishers see a receiver.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				r.handle(ctx, msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("Delivery relay started", "channel", channel)
	return nil
}

func (r *Relay) handle(ctx context.Context, data string) {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		slog.Warn("Dropping malformed relay envelope", "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	err := r.local.Send(sendCtx, env.ConnectionID, env.Payload)
	cancel()
	if err == nil {
		return
	}

	slog.Info("Relayed delivery failed, pruning connection", "connection_id", env.ConnectionID, "error", err)
	pruneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deliveryTimeout)
	defer cancel()
	if err := r.store.Remove(pruneCtx, env.ConnectionID); err != nil {
		slog.Warn("Failed to prune dead connection", "connection_id", env.ConnectionID, "error", err)
	}
}

// Close unsubscribes and waits for the consumer goroutine to exit.
func (r *Relay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	r.wg.Wait()
	return err
}

// Ping reports whether the relay is consuming its delivery channel.
func (r *Relay) Ping(ctx context.Context) error {
	r.mu.Lock()
	sub := r.sub
	r.mu.Unlock()

	if sub == nil {
		return errors.New("delivery relay is not subscribed")
	}
	if err := sub.Ping(ctx); err != nil {
		return fmt.Errorf("delivery relay subscription unhealthy: %w", err)
	}
	return nil
}
