package websocket

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/component"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// Config holds configuration for the WebSocket listener
type Config struct {
	Addr         string        `json:"addr"          yaml:"addr"`
	Paths        []string      `json:"paths"         yaml:"paths"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:8765",
		Paths:        []string{"/", "/ws"},
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Validate checks the listener configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "websocket addr cannot be empty")
	}
	if len(c.Paths) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "websocket paths cannot be empty")
	}
	for _, p := range c.Paths {
		if p == "" || p[0] != '/' {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("websocket path %q must start with /", p))
		}
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "websocket timeouts must be positive")
	}
	if c.ReadTimeout <= c.PingInterval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"websocket read_timeout must exceed ping_interval")
	}
	return nil
}

// Deps holds runtime dependencies for the listener.
type Deps struct {
	Config          Config
	Registry        *broadcast.Registry
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Output is the WebSocket listener. Accepted connections are registered as
// broadcast subscribers.
type Output struct {
	config   Config
	registry *broadcast.Registry
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader
	errLog   *rate.Limiter

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	running   bool
	stopped   bool
	startTime time.Time
	shutdown  chan struct{}

	clientsMu sync.RWMutex
	clients   map[broadcast.SubscriberID]*wsSubscriber

	wg sync.WaitGroup

	connections  atomic.Int64
	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	lastError    atomic.Value // string
}

var _ component.LifecycleComponent = (*Output)(nil)

// New creates a listener. The listening socket is bound by Open.
func New(deps Deps) (*Output, error) {
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Output", "New", "broadcast registry not provided")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Output", "New", "register metrics")
	}

	return &Output{
		config:   deps.Config,
		registry: deps.Registry,
		logger:   logger.With("component", "websocket"),
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Dashboards are served from arbitrary origins.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		errLog:  rate.NewLimiter(rate.Every(time.Second), 1),
		clients: make(map[broadcast.SubscriberID]*wsSubscriber),
	}, nil
}

// Meta returns component metadata.
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        "websocket",
		Type:        "output",
		Description: "WebSocket push endpoint for system snapshots",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the listener.
func (o *Output) Health() component.HealthStatus {
	o.mu.Lock()
	running := o.running
	start := o.startTime
	o.mu.Unlock()

	status := component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
	}
	if running {
		status.Uptime = time.Since(start)
	}
	if msg, ok := o.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns throughput since Open.
func (o *Output) DataFlow() component.FlowMetrics {
	o.mu.Lock()
	start := o.startTime
	o.mu.Unlock()

	messages := o.messagesSent.Load()
	flow := component.FlowMetrics{}
	if uptime := time.Since(start).Seconds(); !start.IsZero() && uptime > 0 {
		flow.MessagesPerSecond = float64(messages) / uptime
		flow.BytesPerSecond = float64(o.bytesSent.Load()) / uptime
	}
	if messages > 0 {
		flow.ErrorRate = float64(o.errorCount.Load()) / float64(messages)
	}
	if ns := o.lastActivity.Load(); ns > 0 {
		flow.LastActivity = time.Unix(0, ns)
	}
	return flow
}

// Handler returns the upgrade handler mounted on every configured path.
func (o *Output) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, p := range o.config.Paths {
		mux.HandleFunc(p, o.handleWebSocket)
	}
	return mux
}

// Open binds the listening socket so that bind errors are setup failures.
func (o *Output) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Open", "context already cancelled")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Output", "Open", "open listener")
	}

	ln, err := net.Listen("tcp", o.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Open", fmt.Sprintf("listen on %s", o.config.Addr))
	}

	o.listener = ln
	o.server = &http.Server{
		Handler:           o.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	o.shutdown = make(chan struct{})
	o.running = true
	o.stopped = false
	o.startTime = time.Now()

	o.logger.Info("WebSocket listener bound", "addr", ln.Addr().String(), "paths", o.config.Paths)
	return nil
}

// Addr returns the bound address, or the configured one before Open.
func (o *Output) Addr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.listener != nil {
		return o.listener.Addr().String()
	}
	return o.config.Addr
}

// Run serves connections and pings clients until ctx is done or Stop is
// called. It returns nil at once when Stop came first.
func (o *Output) Run(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		stopped := o.stopped
		o.mu.Unlock()
		if stopped {
			return nil
		}
		return errors.WrapInvalid(errors.ErrNotStarted, "Output", "Run", "serve")
	}
	srv, ln, shutdown := o.server, o.listener, o.shutdown
	// Added under mu so Stop cannot already be waiting on wg.
	o.wg.Add(1)
	o.mu.Unlock()

	go o.maintainClients(ctx, shutdown)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		select {
		case <-shutdown:
			// Serve lost the race with Stop closing the listener.
			return nil
		default:
		}
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			o.recordError("serve", err)
			return errors.WrapTransient(err, "Output", "Run", "serve websocket")
		}
		return nil
	case <-ctx.Done():
		return nil
	case <-shutdown:
		return nil
	}
}

// Stop shuts the HTTP server down, closes remaining connections and waits for
// the per-connection goroutines.
func (o *Output) Stop(timeout time.Duration) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.stopped = true
	close(o.shutdown)
	server, ln := o.server, o.listener
	o.mu.Unlock()

	var stopErr error
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("HTTP server shutdown error", "error", err)
		stopErr = errors.WrapTransient(err, "Output", "Stop", "shutdown http server")
	}
	// Shutdown only closes listeners passed to Serve.
	if err := ln.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		stopErr = stderrors.Join(stopErr, errors.WrapTransient(err, "Output", "Stop", "close listener"))
	}

	// Hijacked connections are not closed by Shutdown.
	for _, sub := range o.snapshotClients() {
		o.release(sub)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		o.logger.Warn("WebSocket goroutines did not exit within timeout", "timeout", timeout)
	}

	o.mu.Lock()
	o.server = nil
	o.listener = nil
	o.mu.Unlock()

	o.logger.Info("WebSocket listener stopped")
	return stopErr
}

// ClientCount returns the number of connections this listener holds.
func (o *Output) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

func (o *Output) snapshotClients() []*wsSubscriber {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	subs := make([]*wsSubscriber, 0, len(o.clients))
	for _, s := range o.clients {
		subs = append(subs, s)
	}
	return subs
}

// release removes sub from the registry, which closes it. A subscriber the
// registry no longer knows is closed directly.
func (o *Output) release(sub *wsSubscriber) {
	if !o.registry.Unregister(sub.id) {
		_ = sub.Close()
	}
}

func (o *Output) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		o.recordError("connection_upgrade", err)
		return
	}

	sub := newSubscriber(conn, o)

	// Held across Register so that a concurrent removal (which goes through
	// forget) observes the id and the map entry.
	o.clientsMu.Lock()
	id, err := o.registry.Register(sub)
	if err != nil {
		o.clientsMu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		o.recordDisconnect("rejected")
		return
	}
	sub.id = id
	o.clients[id] = sub
	count := len(o.clients)
	o.clientsMu.Unlock()

	o.connections.Add(1)
	if o.metrics != nil {
		o.metrics.connectionTotal.Inc()
		o.metrics.clientsConnected.Set(float64(count))
	}
	o.logger.Debug("WebSocket client connected", "subscriber_id", id, "remote", sub.RemoteAddr())

	o.wg.Add(1)
	go o.readPump(sub)
}

// readPump discards inbound frames. It exists to process control frames and to
// notice when the peer goes away.
func (o *Output) readPump(sub *wsSubscriber) {
	defer o.wg.Done()
	defer o.release(sub)

	conn := sub.conn
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		sub.lastPong.Store(time.Now().UnixNano())
		return conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			if !sub.closed.Load() {
				reason := "normal"
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					reason = "read_error"
				}
				sub.setReason(reason)
			}
			return
		}
	}
}

func (o *Output) maintainClients(ctx context.Context, shutdown <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			o.pingClients()
		}
	}
}

func (o *Output) pingClients() {
	for _, s := range o.snapshotClients() {
		if s.closed.Load() {
			continue
		}
		if err := s.ping(); err != nil {
			s.setReason("ping_failed")
			o.recordError("ping", err)
			o.release(s)
		}
	}
}

// forget is called once per subscriber when its connection closes.
func (o *Output) forget(s *wsSubscriber) {
	o.clientsMu.Lock()
	delete(o.clients, s.id)
	count := len(o.clients)
	o.clientsMu.Unlock()

	o.recordDisconnect(s.reason())
	if o.metrics != nil {
		o.metrics.clientsConnected.Set(float64(count))
	}
	o.logger.Debug("WebSocket client disconnected",
		"subscriber_id", s.id,
		"remote", s.RemoteAddr(),
		"reason", s.reason(),
		"connected_for", time.Since(s.connectedAt).Round(time.Millisecond))
}

func (o *Output) recordSent(n int) {
	o.messagesSent.Add(1)
	o.bytesSent.Add(int64(n))
	o.lastActivity.Store(time.Now().UnixNano())
	if o.metrics != nil {
		o.metrics.messagesSent.Inc()
		o.metrics.bytesSent.Add(float64(n))
	}
}

func (o *Output) recordError(kind string, err error) {
	o.errorCount.Add(1)
	o.lastError.Store(err.Error())
	if o.metrics != nil {
		o.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
	if o.errLog.Allow() {
		o.logger.Warn("WebSocket error", "error_type", kind, "error", err)
	}
}

func (o *Output) recordDisconnect(reason string) {
	if o.metrics != nil {
		o.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
	}
}
