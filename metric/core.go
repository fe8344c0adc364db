package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the daemon.
const Namespace = "sysmon"

// Metrics contains the daemon-level metrics shared by all components.
type Metrics struct {
	DaemonState    prometheus.Gauge
	ErrorsTotal    *prometheus.CounterVec
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the daemon-level metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		DaemonState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "daemon",
			Name:      "state",
			Help:      "Lifecycle state (0=starting, 1=running, 2=draining, 3=stopped)",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Errors by component and class",
		}, []string{"component", "class"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.DaemonState, m.ErrorsTotal, m.NATSConnected, m.NATSReconnects}
}

// RecordDaemonState records the numeric lifecycle state.
func (m *Metrics) RecordDaemonState(state int) {
	m.DaemonState.Set(float64(state))
}

// RecordError counts an error for component with the given class label.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus records whether the NATS connection is up.
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}

// RecordNATSReconnect counts a reconnection.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
