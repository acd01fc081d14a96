package cachestore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the cache store collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.HistogramVec
}

// NewMetrics registers the cache store collectors with reg.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlimage_cache_operations_total",
				Help: "Cache store operations by store type, operation and status",
			},
			[]string{"store_type", "operation", "status"}, // status: hit, miss, ok, error
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "urlimage_cache_operation_duration_milliseconds",
				Help: "Duration of cache store operations in milliseconds",
				Buckets: []float64{
					0.1, // in-process hits
					0.5,
					1, // local disk
					5,
					10,
					50, // remote object stores
					100,
					500,
					1000,
				},
			},
			[]string{"store_type", "operation"},
		),
		bytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urlimage_cache_entry_bytes",
				Help:    "Size of entries read from or written to the cache store",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB .. 16MiB
			},
			[]string{"store_type", "operation"},
		),
	}
}

func (m *Metrics) observe(storeType, op, status string, n int, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(storeType, op, status).Inc()
	m.duration.WithLabelValues(storeType, op).Observe(float64(d.Microseconds()) / 1000)
	if n > 0 {
		m.bytes.WithLabelValues(storeType, op).Observe(float64(n))
	}
}
