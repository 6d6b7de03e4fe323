package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/domain"
)

const (
	defaultReconcileInterval = time.Minute
	reconcileTimeout         = 30 * time.Second
)

// RecordStore is a connection store that can also resolve a record's owner.
type RecordStore interface {
	domain.ConnectionStore
	domain.ConnectionRecordReader
}

// LocalConnections reports whether a connection has a live socket on this instance.
type LocalConnections interface {
	Has(id domain.ConnectionID) bool
}

// OrphanReconciler periodically removes records owned by this instance that have
// no live socket, e.g. after a disconnect whose Remove failed while the store was down.
type OrphanReconciler struct {
	store      RecordStore
	local      LocalConnections
	instanceID string
	interval   time.Duration
	clock      clockwork.Clock

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOrphanReconciler creates a reconciler. A zero interval selects the default of one minute.
func NewOrphanReconciler(store RecordStore, local LocalConnections, instanceID string, interval time.Duration, clock clockwork.Clock) *OrphanReconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &OrphanReconciler{
		store:      store,
		local:      local,
		instanceID: instanceID,
		interval:   interval,
		clock:      clock,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the reconciliation loop in the background until Stop is called or ctx ends.
func (r *OrphanReconciler) Start(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.Chan():
				runCtx, cancel := context.WithTimeout(ctx, reconcileTimeout)
				if _, err := r.Reconcile(runCtx); err != nil {
					slog.Error("Orphan reconciliation failed", "error", err)
				}
				cancel()
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("Orphan reconciler started", "interval", r.interval)
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (r *OrphanReconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Reconcile runs one pass and returns the number of records removed.
func (r *OrphanReconciler) Reconcile(ctx context.Context) (int, error) {
	ids, err := r.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list connections: %w", err)
	}

	removed := 0
	for _, id := range ids {
		if r.local.Has(id) {
			continue
		}

		record, err := r.store.Record(ctx, id)
		if errors.Is(err, domain.ErrConnectionNotFound) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to read connection %s: %w", id, err)
		}
		if record.InstanceID != r.instanceID {
			continue
		}

		if err := r.store.Remove(ctx, id); err != nil {
			return removed, fmt.Errorf("failed to remove orphan %s: %w", id, err)
		}
		removed++
		slog.Info("Removed orphaned connection", "connection_id", id)
	}
	return removed, nil
}
