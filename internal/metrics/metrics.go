// Package metrics exposes Prometheus collectors for scan handling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors.
type Metrics struct {
	Scans        *prometheus.CounterVec
	Logouts      *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	InFlight     prometheus.Gauge
	AuditWrites  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattendance",
			Name:      "scans_total",
			Help:      "Scans evaluated, by decision.",
		}, []string{"decision"}),
		Logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattendance",
			Name:      "logouts_total",
			Help:      "Logout attempts, by outcome.",
		}, []string{"outcome"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qrattendance",
			Name:      "scan_duration_seconds",
			Help:      "Time to evaluate a scan including store writes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qrattendance",
			Name:      "scans_in_flight",
			Help:      "Scans currently being evaluated.",
		}),
		AuditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattendance",
			Name:      "audit_writes_total",
			Help:      "Scan events persisted by the audit consumer, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.Logouts, m.ScanDuration, m.InFlight, m.AuditWrites)
	}
	return m
}

// ObserveScan records one evaluated scan.
func (m *Metrics) ObserveScan(decision string, took time.Duration) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(decision).Inc()
	m.ScanDuration.Observe(took.Seconds())
}

// ObserveLogout records one logout attempt.
func (m *Metrics) ObserveLogout(outcome string) {
	if m == nil {
		return
	}
	m.Logouts.WithLabelValues(outcome).Inc()
}

// ObserveAudit records one audit write.
func (m *Metrics) ObserveAudit(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.AuditWrites.WithLabelValues(result).Inc()
}

// Begin marks a scan in flight and returns the func that ends it.
func (m *Metrics) Begin() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
