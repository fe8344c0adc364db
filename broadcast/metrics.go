package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// Metrics holds Prometheus metrics for the registry.
type Metrics struct {
	subscribers       prometheus.Gauge
	registrations     prometheus.Counter
	removals          *prometheus.CounterVec
	broadcasts        prometheus.Counter
	deliveries        prometheus.Counter
	failures          *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
	messageSize       prometheus.Histogram
}

// newMetrics returns nil without a registry.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of live subscribers",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "registrations_total",
			Help:      "Total subscriber registrations",
		}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "removals_total",
			Help:      "Subscriber removals by reason",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "broadcasts_total",
			Help:      "Broadcast passes with at least one subscriber",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Successful per-subscriber deliveries",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "send_failures_total",
			Help:      "Failed per-subscriber deliveries by reason",
		}, []string{"reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time to deliver one message to all subscribers",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		messageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "broadcast",
			Name:      "message_size_bytes",
			Help:      "Size of serialised broadcast messages",
			Buckets:   prometheus.ExponentialBuckets(512, 2, 8),
		}),
	}

	const svc = "broadcast"
	if err := registry.RegisterGauge(svc, "subscribers", m.subscribers); err != nil {
		return nil, err
	}
	for name, c := range map[string]prometheus.Counter{
		"registrations_total": m.registrations,
		"broadcasts_total":    m.broadcasts,
		"deliveries_total":    m.deliveries,
	} {
		if err := registry.RegisterCounter(svc, name, c); err != nil {
			return nil, err
		}
	}
	for name, v := range map[string]*prometheus.CounterVec{
		"removals_total":      m.removals,
		"send_failures_total": m.failures,
	} {
		if err := registry.RegisterCounterVec(svc, name, v); err != nil {
			return nil, err
		}
	}
	for name, h := range map[string]prometheus.Histogram{
		"duration_seconds":   m.broadcastDuration,
		"message_size_bytes": m.messageSize,
	} {
		if err := registry.RegisterHistogram(svc, name, h); err != nil {
			return nil, err
		}
	}
	return m, nil
}
