package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the loader collectors. A nil *Metrics records nothing.
type Metrics struct {
	loads   *prometheus.CounterVec
	latency prometheus.Histogram
}

// NewMetrics registers the loader collectors with reg. Returns nil when
// reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		loads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlimage_loader_loads_total",
				Help: "Finished loads by outcome",
			},
			[]string{"outcome"}, // cache_hit, network, failed, decode_error, timeout, empty_url
		),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "urlimage_loader_load_duration_milliseconds",
			Help:    "Time from Start to a Loaded or Failed state",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1ms .. 16s
		}),
	}
}

func (m *Metrics) record(outcome string, ms float64) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
	m.latency.Observe(ms)
}
