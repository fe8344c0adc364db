package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// Metrics holds Prometheus metrics for the listener
type Metrics struct {
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

// newMetrics returns nil when registry is nil.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages written to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total accepted client connections",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "disconnections_total",
			Help:      "Client disconnections by reason",
		}, []string{"reason"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket errors by type",
		}, []string{"error_type"}),
	}

	const svc = "websocket"
	if err := registry.RegisterCounter(svc, "messages_sent_total", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(svc, "bytes_sent_total", m.bytesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(svc, "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(svc, "connections_total", m.connectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(svc, "disconnections_total", m.disconnectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(svc, "errors_total", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}
