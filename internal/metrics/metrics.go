package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "termlist"

// Metrics holds the collectors updated by the session manager, the relay
// and the history writer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	liveSessions        prometheus.Gauge
	attachedSessions    prometheus.Gauge
	outputChunks        prometheus.Counter
	outputBytes         prometheus.Counter
	forwardFailures     prometheus.Counter
	persistenceFailures prometheus.Counter
	spawnFailures       prometheus.Counter
	httpRequests        *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions currently held by the registry.",
		}),
		attachedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "attached",
			Help:      "Sessions with a live channel attached.",
		}),
		outputChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "chunks_total",
			Help:      "Output chunks relayed from terminal processes.",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Raw output bytes read from terminal processes.",
		}),
		forwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "forward_failures_total",
			Help:      "Live forwards that failed and caused an auto-detach.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "persistence_failures_total",
			Help:      "History writes that could not be persisted.",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "spawn_failures_total",
			Help:      "Terminal processes that failed to start.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.liveSessions,
		m.attachedSessions,
		m.outputChunks,
		m.outputBytes,
		m.forwardFailures,
		m.persistenceFailures,
		m.spawnFailures,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.liveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.liveSessions.Dec()
	}
}

func (m *Metrics) Attached() {
	if m != nil {
		m.attachedSessions.Inc()
	}
}

func (m *Metrics) Detached() {
	if m != nil {
		m.attachedSessions.Dec()
	}
}

func (m *Metrics) Output(bytes int) {
	if m != nil {
		m.outputBytes.Add(float64(bytes))
	}
}

func (m *Metrics) OutputChunk() {
	if m != nil {
		m.outputChunks.Inc()
	}
}

func (m *Metrics) ForwardFailed() {
	if m != nil {
		m.forwardFailures.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.persistenceFailures.Inc()
	}
}

func (m *Metrics) SpawnFailed() {
	if m != nil {
		m.spawnFailures.Inc()
	}
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m != nil {
		m.httpRequests.WithLabelValues(method, route, status).Inc()
	}
}
