package netlink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// Metrics holds Prometheus metrics for the input
type Metrics struct {
	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	snapshots      prometheus.Counter
	decodeFailures *prometheus.CounterVec
	readErrors     prometheus.Counter
	lastActivity   prometheus.Gauge
}

// newMetrics returns nil without a registry.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "netlink",
			Name:      "frames_received_total",
			Help:      "Frames read from the source",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "netlink",
			Name:      "bytes_received_total",
			Help:      "Bytes read from the source",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "netlink",
			Name:      "snapshots_decoded_total",
			Help:      "Frames successfully decoded",
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "netlink",
			Name:      "decode_failures_total",
			Help:      "Dropped frames by failure kind",
		}, []string{"kind"}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "netlink",
			Name:      "read_errors_total",
			Help:      "Transport read errors other than would-block",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "netlink",
			Name:      "last_frame_timestamp_seconds",
			Help:      "Unix time of the last received frame",
		}),
	}

	const svc = "netlink"
	if err := registry.RegisterCounter(svc, "frames_received_total", m.framesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(svc, "bytes_received_total", m.bytesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(svc, "snapshots_decoded_total", m.snapshots); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(svc, "decode_failures_total", m.decodeFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(svc, "read_errors_total", m.readErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(svc, "last_frame_timestamp_seconds", m.lastActivity); err != nil {
		return nil, err
	}
	return m, nil
}
