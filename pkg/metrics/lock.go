package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LockMetrics tracks lease acquisition behavior.
type LockMetrics struct {
	attempts *prometheus.CounterVec
	failures *prometheus.CounterVec
	held     prometheus.Histogram
}

// NewLockMetrics registers the lock metrics on the provided registerer.
func NewLockMetrics(reg prometheus.Registerer) *LockMetrics {
	if reg == nil {
		return &LockMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_acquire_attempts",
		Help: "Lease acquisition attempts, including retries.",
	}, []string{"outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_acquire_exhausted",
		Help: "Acquisitions abandoned after retry exhaustion.",
	}, []string{"resource_kind"})
	held := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lock_held_seconds",
		Help:    "How long leases were held before release.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(attempts, failures, held)
	return &LockMetrics{attempts: attempts, failures: failures, held: held}
}

// IncAttempt counts one acquisition attempt with its outcome (acquired/contended/error).
func (m *LockMetrics) IncAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncExhausted counts an acquisition abandoned after all retries.
func (m *LockMetrics) IncExhausted(resourceKind string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(resourceKind)).Inc()
}

// ObserveHeld records how long a lease was held.
func (m *LockMetrics) ObserveHeld(duration time.Duration) {
	if m == nil || m.held == nil {
		return
	}
	m.held.Observe(duration.Seconds())
}
