package tracking

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mltrack",
			Subsystem: "tracking",
			Name:      "requests_total",
			Help:      "Tracking server requests by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mltrack",
			Subsystem: "tracking",
			Name:      "request_duration_seconds",
			Help:      "Tracking server request latency, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mltrack",
			Subsystem: "tracking",
			Name:      "retries_total",
			Help:      "Retried tracking server requests by endpoint.",
		}, []string{"endpoint"}),
	}
	if reg == nil {
		return m
	}
	m.requests = register(reg, m.requests)
	m.duration = register(reg, m.duration)
	m.retries = register(reg, m.retries)
	return m
}

// register reuses an identical collector that is already registered, so
// several clients can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// code is "error" when the request never produced a response.
func (m *clientMetrics) observe(endpoint string, status int, started time.Time) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(endpoint, code).Inc()
	m.duration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}
