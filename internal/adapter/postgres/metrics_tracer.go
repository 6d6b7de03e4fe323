package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
)

const backendLabel = "postgres"

// MetricsTracer implements pgx.QueryTracer to feed store operation metrics.
type MetricsTracer struct {
	m *metrics.StoreMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

// NewMetricsTracer returns a tracer; a nil metrics set disables it.
func NewMetricsTracer(m *metrics.StoreMetrics) *MetricsTracer {
	return &MetricsTracer{m: m}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if t.m == nil {
		return ctx
	}
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok || t.m == nil {
		return
	}

	status := "success"
	if data.Err != nil {
		status = "error"
	}
	t.m.OpsTotal.WithLabelValues(backendLabel, qctx.queryName, status).Inc()
	t.m.OpDuration.WithLabelValues(backendLabel, qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
}

// extractQueryName reduces SQL to its lower-cased leading keyword to keep label cardinality low.
func extractQueryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	name := strings.ToLower(fields[0])
	if len(name) > 20 {
		name = name[:20]
	}
	return name
}
