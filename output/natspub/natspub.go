// Package natspub publishes every broadcast message to a NATS subject.
//
// Publisher implements broadcast.Subscriber, so it is registered in the same
// registry as WebSocket clients and gets the same isolation: a publish error
// removes it from the registry without affecting anyone else. The NATS
// connection is owned by the caller; closing the Publisher does not close it.
package natspub

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/component"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// DefaultSubject is the subject snapshots are published on.
const DefaultSubject = "sysmon.metrics"

// Client is the subset of natsclient.Client the publisher needs.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	URL() string
}

// Config holds publisher configuration.
type Config struct {
	Subject string `json:"subject" yaml:"subject"`
}

// Deps holds runtime dependencies.
type Deps struct {
	Config          Config
	Client          Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Publisher forwards broadcast messages to NATS.
type Publisher struct {
	subject string
	client  Client
	logger  *slog.Logger

	published  prometheus.Counter
	failures   prometheus.Counter
	closed     atomic.Bool
	startTime  time.Time
	messages   atomic.Int64
	bytes      atomic.Int64
	errorCount atomic.Int64
	lastSent   atomic.Int64
	lastError  atomic.Value
}

var (
	_ broadcast.Subscriber   = (*Publisher)(nil)
	_ component.Discoverable = (*Publisher)(nil)
)

// New creates a publisher. Subject defaults to DefaultSubject.
func New(deps Deps) (*Publisher, error) {
	if deps.Client == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Publisher", "New", "nats client not provided")
	}

	subject := deps.Config.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		subject:   subject,
		client:    deps.Client,
		logger:    logger.With("component", "natspub", "subject", subject),
		startTime: time.Now(),
	}

	if deps.MetricsRegistry != nil {
		p.published = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natspub",
			Name:      "published_total",
			Help:      "Messages published to NATS",
		})
		p.failures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natspub",
			Name:      "publish_errors_total",
			Help:      "Failed NATS publishes",
		})
		if err := deps.MetricsRegistry.RegisterCounter("natspub", "published_total", p.published); err != nil {
			return nil, err
		}
		if err := deps.MetricsRegistry.RegisterCounter("natspub", "publish_errors_total", p.failures); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Subject returns the configured subject.
func (p *Publisher) Subject() string {
	return p.subject
}

// Send publishes msg on the configured subject.
func (p *Publisher) Send(ctx context.Context, msg []byte) error {
	if p.closed.Load() {
		return errors.ErrSubscriberClosed
	}

	if err := p.client.Publish(ctx, p.subject, msg); err != nil {
		p.errorCount.Add(1)
		p.lastError.Store(err.Error())
		if p.failures != nil {
			p.failures.Inc()
		}
		return errors.WrapTransient(err, "Publisher", "Send", "publish to "+p.subject)
	}

	p.messages.Add(1)
	p.bytes.Add(int64(len(msg)))
	p.lastSent.Store(time.Now().UnixNano())
	if p.published != nil {
		p.published.Inc()
	}
	return nil
}

// Close stops further sends. The underlying connection stays open.
func (p *Publisher) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.logger.Info("NATS publisher detached", "published", p.messages.Load())
	}
	return nil
}

// RemoteAddr identifies the sink in registry logs.
func (p *Publisher) RemoteAddr() string {
	return p.client.URL() + "/" + p.subject
}

// Meta returns component metadata.
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "natspub",
		Type:        "output",
		Description: "Publishes snapshots to " + p.subject,
		Version:     "1.0.0",
	}
}

// Health reports unhealthy once the publisher has been detached.
func (p *Publisher) Health() component.HealthStatus {
	status := component.HealthStatus{
		Healthy:    !p.closed.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(p.errorCount.Load()),
		Uptime:     time.Since(p.startTime),
	}
	if msg, ok := p.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns publish throughput.
func (p *Publisher) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{}
	messages := p.messages.Load()
	if uptime := time.Since(p.startTime).Seconds(); uptime > 0 {
		flow.MessagesPerSecond = float64(messages) / uptime
		flow.BytesPerSecond = float64(p.bytes.Load()) / uptime
	}
	if total := messages + p.errorCount.Load(); total > 0 {
		flow.ErrorRate = float64(p.errorCount.Load()) / float64(total)
	}
	if ns := p.lastSent.Load(); ns > 0 {
		flow.LastActivity = time.Unix(0, ns)
	}
	return flow
}
