package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offchain"

// Recorder tracks operation counts, failures and latency. A nil *Recorder is valid and records nothing.
type Recorder struct {
	ops           *prometheus.CounterVec
	opErrors      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	retryAttempts prometheus.Counter
	errorCounters *prometheus.CounterVec
}

// New builds a recorder and registers it with reg. A nil reg keeps the collectors unregistered.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed offchain operations by name.",
		}, []string{"operation"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed offchain operations by name.",
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of offchain operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Storage requests repeated after a transient failure.",
		}),
		errorCounters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by category.",
		}, []string{"category"}),
	}
	if reg == nil {
		return r
	}
	r.ops = register(reg, r.ops)
	r.opErrors = register(reg, r.opErrors)
	r.latency = register(reg, r.latency)
	r.retryAttempts = register(reg, r.retryAttempts)
	r.errorCounters = register(reg, r.errorCounters)
	return r
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (r *Recorder) RecordOp(operation string, started time.Time) {
	if r == nil {
		return
	}
	r.ops.WithLabelValues(operation).Inc()
	r.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (r *Recorder) RecordOpError(operation string) {
	if r == nil {
		return
	}
	r.opErrors.WithLabelValues(operation).Inc()
}

func (r *Recorder) RecordRetryAttempt() {
	if r == nil {
		return
	}
	r.retryAttempts.Inc()
}

// RecordError counts an error in one of the coarse categories: network, crypto, storage, signature.
func (r *Recorder) RecordError(category string) {
	if r == nil {
		return
	}
	r.errorCounters.WithLabelValues(category).Inc()
}
