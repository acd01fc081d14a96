package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics observes the HTTP front end. A nil *HTTPMetrics records
// nothing.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics registers the HTTP collectors with reg. Returns nil when
// reg is nil.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &HTTPMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlimage_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urlimage_http_request_duration_milliseconds",
				Help:    "HTTP request latency in milliseconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1ms .. 16s
			},
			[]string{"route", "method"},
		),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "urlimage_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}

// Begin marks a request as in flight. Call the returned function with the
// route pattern and status once it is done.
func (m *HTTPMetrics) Begin() func(route, method string, status int) {
	if m == nil {
		return func(string, string, int) {}
	}
	start := time.Now()
	m.inFlight.Inc()

	return func(route, method string, status int) {
		m.inFlight.Dec()
		m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route, method).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}
