package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
)

func TestExtractQueryName(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT connection_id FROM connections", "select"},
		{"\nINSERT INTO connections (connection_id) VALUES ($1)", "insert"},
		{"DELETE FROM connections WHERE connection_id = $1", "delete"},
		{"", "unknown"},
		{"   ", "unknown"},
		{"averyveryverylongstatementkeyword", "averyveryverylongsta"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, extractQueryName(tt.sql))
		})
	}
}

func TestMetricsTracer_RecordsQueries(t *testing.T) {
	m := metrics.NewStoreMetrics(prometheus.NewRegistry())
	tracer := NewMetricsTracer(m)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "DELETE FROM connections"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("postgres", "select", "success")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("postgres", "delete", "error")), 0.001)
}

func TestMetricsTracer_NilMetrics(t *testing.T) {
	tracer := NewMetricsTracer(nil)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	assert.NotPanics(t, func() {
		tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	})
}
