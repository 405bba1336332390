// Package metrics exposes service counters in prometheus format.
// Methods are safe to call on nil *Metrics, nothing is recorded then.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/parcelguard/internal/models"
)

const namespace = "parcelguard"

const (
	OperationIssue  = "issue"
	OperationVerify = "verify"
	OperationRevoke = "revoke"
	OperationSweep  = "sweep"
)

type Metrics struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	systemErrors  *prometheus.CounterVec
	issued        *prometheus.CounterVec
	revoked       prometheus.Counter
	swept         prometheus.Counter
	auditDropped  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome.",
		}, []string{"status"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_verifications_total",
			Help:      "Codes rejected as forgery or tampering candidates.",
		}, []string{"status"}),
		systemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "system_errors_total",
			Help:      "Storage or infrastructure failures by operation.",
		}, []string{"operation"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issued_tokens_total",
			Help:      "Issued tokens by type.",
		}, []string{"token_type"}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revoked_tokens_total",
			Help:      "Tokens revoked explicitly or superseded by reissue.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_tokens_total",
			Help:      "Expired temporary tokens deleted by the sweep.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Verification events not delivered to the parcel registry.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verifications,
		m.rejected,
		m.systemErrors,
		m.issued,
		m.revoked,
		m.swept,
		m.auditDropped,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Verification counts the attempt and classifies it
func (m *Metrics) Verification(status string) {
	if m == nil {
		return
	}

	m.verifications.WithLabelValues(status).Inc()

	switch status {
	case models.StatusValid:
	case models.StatusVerificationError:
		m.systemErrors.WithLabelValues(OperationVerify).Inc()
	default:
		m.rejected.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SystemError(operation string) {
	if m == nil {
		return
	}
	m.systemErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) Issued(tokenType string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) Revoked(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.revoked.Add(float64(count))
}

func (m *Metrics) Swept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
