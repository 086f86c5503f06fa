// Package metrics exposes Prometheus collectors for the proxy.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/waproxy/internal/event"
)

const namespace = "waproxy"

// Metrics holds the proxy's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	restarts      prometheus.Counter
	up            prometheus.Gauge
	authenticated prometheus.Gauge
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		}, []string{"route", "code"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls handled, by tool and outcome.",
		}, []string{"tool", "success"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_restarts_total",
			Help:      "Times the bridge process was started again after its first start.",
		}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_up",
			Help:      "1 while the bridge process is running.",
		}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_authenticated",
			Help:      "1 once the bridge reported a successful pairing.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.toolCalls,
		m.restarts,
		m.up,
		m.authenticated,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest counts a served request.
func (m *Metrics) ObserveHTTPRequest(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ObserveToolCall counts a tool call.
func (m *Metrics) ObserveToolCall(tool string, success bool) {
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

// Attach keeps the bridge gauges in sync with bus events and returns the
// subscription ID.
func (m *Metrics) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(m.handle)
}

func (m *Metrics) handle(e event.Event) {
	switch ev := e.(type) {
	case event.BridgeStartedEvent:
		m.up.Set(1)
		if ev.Restart {
			m.restarts.Inc()
		}
	case event.BridgeStoppedEvent, event.BridgeExitedEvent:
		m.up.Set(0)
	case event.AuthenticatedEvent:
		m.authenticated.Set(1)
	case event.StatusResetEvent:
		m.authenticated.Set(0)
	}
}
