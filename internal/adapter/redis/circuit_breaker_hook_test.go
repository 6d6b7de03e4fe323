package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingProcess(err error) goredis.ProcessHook {
	return func(context.Context, goredis.Cmder) error { return err }
}

func tripBreaker(t *testing.T, hook *CircuitBreakerHook) {
	t.Helper()
	ctx := context.Background()
	process := hook.ProcessHook(failingProcess(errors.New("connection refused")))
	for range 5 {
		_ = process(ctx, goredis.NewStringSliceCmd(ctx, "hkeys", "k"))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(nil))
	for range 10 {
		assert.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "hget", "k", "f")))
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_MissingKeyIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(goredis.Nil))
	for range 10 {
		err := process(ctx, goredis.NewStringCmd(ctx, "hget", "k", "f"))
		assert.ErrorIs(t, err, goredis.Nil)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(errors.New("connection refused")))
	for range 2 {
		err := process(ctx, goredis.NewStringCmd(ctx, "hget", "k", "f"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_FailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	tripBreaker(t, hook)
	ctx := context.Background()

	called := false
	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})

	cmd := goredis.NewIntCmd(ctx, "hdel", "k", "f")
	err := process(ctx, cmd)

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, cmd.Err(), circuitbreaker.ErrOpen, "command must carry the error for callers using cmd.Err()")
	assert.False(t, called, "Redis should not be called when circuit is open")
}

func TestCircuitBreakerHook_PipelineFailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	tripBreaker(t, hook)
	ctx := context.Background()

	cmds := []goredis.Cmder{
		goredis.NewIntCmd(ctx, "hdel", "k", "a"),
		goredis.NewIntCmd(ctx, "hdel", "k", "b"),
	}
	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error {
		t.Fatal("pipeline must not run while open")
		return nil
	})

	assert.ErrorIs(t, pipeline(ctx, cmds), circuitbreaker.ErrOpen)
	for _, cmd := range cmds {
		assert.ErrorIs(t, cmd.Err(), circuitbreaker.ErrOpen)
	}
}

func TestCircuitBreakerHook_RecoversAfterDelay(t *testing.T) {
	hook := newCircuitBreakerHook(20*time.Millisecond, nil)
	tripBreaker(t, hook)
	ctx := context.Background()

	time.Sleep(50 * time.Millisecond)

	process := hook.ProcessHook(failingProcess(nil))
	require.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "hget", "k", "f")))
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_RecordsStateMetrics(t *testing.T) {
	m := metrics.NewStoreMetrics(prometheus.NewRegistry())
	hook := newCircuitBreakerHook(time.Minute, m)
	tripBreaker(t, hook)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("redis")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.CircuitBreakerStateChanges.WithLabelValues("redis", circuitbreaker.OpenState.String())), 0.001)
}

func TestMetricsHook_CountsOperations(t *testing.T) {
	m := metrics.NewStoreMetrics(prometheus.NewRegistry())
	hook := NewMetricsHook(m)
	ctx := context.Background()

	ok := hook.ProcessHook(failingProcess(nil))
	missing := hook.ProcessHook(failingProcess(goredis.Nil))
	broken := hook.ProcessHook(failingProcess(errors.New("boom")))

	require.NoError(t, ok(ctx, goredis.NewStringSliceCmd(ctx, "hkeys", "k")))
	_ = missing(ctx, goredis.NewStringCmd(ctx, "hget", "k", "f"))
	_ = broken(ctx, goredis.NewStringSliceCmd(ctx, "hkeys", "k"))

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("redis", "hkeys", "success")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("redis", "hget", "success")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("redis", "hkeys", "error")), 0.001)
}

func TestMetricsHook_NilMetricsPassThrough(t *testing.T) {
	hook := NewMetricsHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(nil))
	assert.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "get", "k")))
}
