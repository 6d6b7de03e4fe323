package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	defaultPruneTimeout    = 5 * time.Second
)

// Config tunes a Dispatcher. Zero values select the defaults.
type Config struct {
	// Concurrency caps in-flight deliveries per broadcast. 0 means one goroutine per connection.
	Concurrency     int
	DeliveryTimeout time.Duration
	PruneTimeout    time.Duration

	Metrics *metrics.BroadcastMetrics
	// OnPruneFailure receives removal errors. They never escalate to the caller.
	OnPruneFailure func(id domain.ConnectionID, err error)
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomePruned
	outcomePruneFailed
	outcomeSkipped
)

func (o outcome) String() string {
	switch o {
	case outcomeDelivered:
		return "delivered"
	case outcomePruned:
		return "pruned"
	case outcomePruneFailed:
		return "prune_failed"
	case outcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Dispatcher fans a message out to every registered connection.
// It holds no per-broadcast state, so concurrent Broadcast calls are safe.
type Dispatcher struct {
	store  domain.ConnectionStore
	client domain.DeliveryClient
	clock  clockwork.Clock
	cfg    Config
}

// NewDispatcher creates a dispatcher over the given store and delivery client.
func NewDispatcher(store domain.ConnectionStore, client domain.DeliveryClient, clock clockwork.Clock, cfg Config) *Dispatcher {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if cfg.PruneTimeout <= 0 {
		cfg.PruneTimeout = defaultPruneTimeout
	}
	if cfg.OnPruneFailure == nil {
		cfg.OnPruneFailure = logPruneFailure
	}
	return &Dispatcher{store: store, client: client, clock: clock, cfg: cfg}
}

// Broadcast delivers raw to every connection registered at enumeration time.
// origin receives the "_me": true variant; it may be nil for system-initiated broadcasts.
//
// Only a store enumeration failure or cancellation of ctx fail the call. Failed deliveries
// are pruned from the store and reported in the result.
func (d *Dispatcher) Broadcast(ctx context.Context, origin *domain.ConnectionID, raw []byte) (domain.BroadcastResult, error) {
	start := d.clock.Now()

	payload, err := BuildPayloads(domain.BroadcastMessage{Origin: origin, Raw: raw, Now: start})
	if err != nil {
		d.observeBroadcast("payload_error", start)
		return domain.BroadcastResult{}, fmt.Errorf("failed to build payload: %w", err)
	}

	ids, err := d.store.ListAll(ctx)
	if err != nil {
		d.observeBroadcast("store_unavailable", start)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return domain.BroadcastResult{}, fmt.Errorf("failed to enumerate connections: %w", err)
	}

	if len(ids) == 0 {
		d.observeBroadcast("success", start)
		return domain.BroadcastResult{}, nil
	}

	outcomes := make([]outcome, len(ids))

	var g errgroup.Group
	if d.cfg.Concurrency > 0 {
		g.SetLimit(d.cfg.Concurrency)
	}
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, id, payload.For(id, origin))
			return nil
		})
	}
	// Tasks never return errors: the group is used as a bounded barrier only.
	_ = g.Wait()

	result := tally(outcomes)
	d.observeOutcomes(outcomes)

	if err := ctx.Err(); err != nil {
		d.observeBroadcast("cancelled", start)
		return result, fmt.Errorf("broadcast interrupted: %w", err)
	}

	d.observeBroadcast("success", start)
	slog.DebugContext(ctx, "Broadcast complete",
		"recipients", len(ids),
		"delivered", result.Delivered,
		"pruned", result.Pruned,
		"failed", result.Failed,
		"duration", d.clock.Since(start),
	)
	return result, nil
}

// deliver runs one delivery attempt and prunes the connection if it fails.
// A record is only removed after a send was actually issued and failed on its own;
// failures caused by the caller cancelling the broadcast leave the record alone.
func (d *Dispatcher) deliver(ctx context.Context, id domain.ConnectionID, payload []byte) outcome {
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	err := d.client.Send(sendCtx, id, payload)
	cancel()
	if err == nil {
		return outcomeDelivered
	}

	if ctx.Err() != nil {
		slog.DebugContext(ctx, "Delivery abandoned by cancelled broadcast", "connection_id", id, "error", err)
		return outcomeSkipped
	}

	slog.InfoContext(ctx, "Delivery failed, pruning connection", "connection_id", id, "error", err)

	pruneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PruneTimeout)
	defer cancel()

	if err := d.store.Remove(pruneCtx, id); err != nil {
		d.cfg.OnPruneFailure(id, err)
		return outcomePruneFailed
	}
	return outcomePruned
}

func tally(outcomes []outcome) domain.BroadcastResult {
	var r domain.BroadcastResult
	for _, o := range outcomes {
		switch o {
		case outcomeDelivered:
			r.Delivered++
		case outcomePruned:
			r.Pruned++
		case outcomePruneFailed:
			r.Failed++
		case outcomeSkipped:
			r.Skipped++
		}
	}
	return r
}

func (d *Dispatcher) observeOutcomes(outcomes []outcome) {
	if d.cfg.Metrics == nil {
		return
	}
	d.cfg.Metrics.Recipients.Observe(float64(len(outcomes)))
	for _, o := range outcomes {
		d.cfg.Metrics.DeliveriesTotal.WithLabelValues(o.String()).Inc()
	}
}

func (d *Dispatcher) observeBroadcast(status string, start time.Time) {
	if d.cfg.Metrics == nil {
		return
	}
	d.cfg.Metrics.BroadcastsTotal.WithLabelValues(status).Inc()
	d.cfg.Metrics.BroadcastDuration.Observe(d.clock.Since(start).Seconds())
}

func logPruneFailure(id domain.ConnectionID, err error) {
	slog.Warn("Failed to prune dead connection", "connection_id", id, "error", err)
}
