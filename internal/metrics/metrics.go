package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "access"

// Metrics holds the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	NodeCalls          *prometheus.CounterVec
	NodeCallDuration   *prometheus.HistogramVec
	RequestsSubmitted  prometheus.Counter
	RequestsResolved   *prometheus.CounterVec
	OrphanedCredential prometheus.Counter
	GrantsRevoked      prometheus.Counter
	StaleReaped        prometheus.Counter
	SweepRuns          *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		NodeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_calls_total",
			Help:      "Node control calls by method and result.",
		}, []string{"method", "result"}),
		NodeCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_call_duration_seconds",
			Help:      "Node control call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RequestsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Purchase requests accepted for approval.",
		}),
		RequestsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_resolved_total",
			Help:      "Approve and reject outcomes.",
		}, []string{"status"}),
		OrphanedCredential: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_credentials_total",
			Help:      "Credentials provisioned on a node without a matching grant.",
		}),
		GrantsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_revoked_total",
			Help:      "Expired grants revoked on their node and deleted.",
		}),
		StaleReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_requests_reaped_total",
			Help:      "Purchase requests deleted for exceeding the retention window.",
		}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweeper runs by task and result.",
		}, []string{"task", "result"}),
	}

	reg.MustRegister(
		m.NodeCalls, m.NodeCallDuration,
		m.RequestsSubmitted, m.RequestsResolved, m.OrphanedCredential,
		m.GrantsRevoked, m.StaleReaped, m.SweepRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveNodeCall(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.NodeCalls.WithLabelValues(method, result).Inc()
	m.NodeCallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) RequestSubmitted() {
	if m == nil {
		return
	}
	m.RequestsSubmitted.Inc()
}

func (m *Metrics) RequestResolved(status string) {
	if m == nil {
		return
	}
	m.RequestsResolved.WithLabelValues(status).Inc()
}

func (m *Metrics) CredentialOrphaned() {
	if m == nil {
		return
	}
	m.OrphanedCredential.Inc()
}

func (m *Metrics) GrantRevoked() {
	if m == nil {
		return
	}
	m.GrantsRevoked.Inc()
}

func (m *Metrics) RequestsReaped(n int64) {
	if m == nil {
		return
	}
	m.StaleReaped.Add(float64(n))
}

func (m *Metrics) SweepRun(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepRuns.WithLabelValues(task, result).Inc()
}
