package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fanout"

// Set bundles every metric group the server exposes.
type Set struct {
	Registry  *prometheus.Registry
	Broadcast *BroadcastMetrics
	Store     *StoreMetrics
	WebSocket *WebSocketMetrics
	HTTP      *HTTPMetrics
}

// NewSet creates a registry and registers all metric groups on it.
func NewSet() *Set {
	reg := NewRegistry()
	return &Set{
		Registry:  reg,
		Broadcast: NewBroadcastMetrics(reg),
		Store:     NewStoreMetrics(reg),
		WebSocket: NewWebSocketMetrics(reg),
		HTTP:      NewHTTPMetrics(reg),
	}
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
