package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess  = "success"
	resultError    = "error"
	resultCanceled = "canceled"
)

// Metrics holds the Prometheus collectors of a Manager.
// All methods are nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	opens         prometheus.Counter
	coalesced     prometheus.Counter
	declined      prometheus.Counter
	results       *prometheus.CounterVec
	chunkBytes    prometheus.Histogram
	running       prometheus.Gauge
	waiting       prometheus.Gauge
	persistErrors prometheus.Counter
}

// NewMetrics registers the fetch collectors with reg.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		opens: f.NewCounter(prometheus.CounterOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "transport_opens_total",
			Help:      "Transport operations opened by the fetch manager",
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "coalesced_total",
			Help:      "Tasks queued behind a running fetch of the same key",
		}),
		declined: f.NewCounter(prometheus.CounterOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "declined_total",
			Help:      "Waiting tasks that declined promotion",
		}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "tasks_total",
			Help:      "Finished tasks by result",
		}, []string{"result"}), // success, error, canceled
		chunkBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "chunk_bytes",
			Help:      "Size of body chunks received from the transport",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 7), // 512B .. 2MiB
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "running",
			Help:      "Tasks with an open transport operation",
		}),
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "waiting",
			Help:      "Tasks waiting for a running key to free up",
		}),
		persistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "urlimage",
			Subsystem: "fetch",
			Name:      "persist_errors_total",
			Help:      "Failed cache writes of completed responses",
		}),
	}
}

func (m *Metrics) RecordOpen() {
	if m == nil {
		return
	}
	m.opens.Inc()
}

func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) RecordDeclined() {
	if m == nil {
		return
	}
	m.declined.Inc()
}

func (m *Metrics) RecordResult(result string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveChunk(n int) {
	if m == nil {
		return
	}
	m.chunkBytes.Observe(float64(n))
}

// SetQueue updates the running and waiting gauges.
func (m *Metrics) SetQueue(running, waiting int) {
	if m == nil {
		return
	}
	m.running.Set(float64(running))
	m.waiting.Set(float64(waiting))
}

func (m *Metrics) RecordPersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}
