package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/component"
	"github.com/kuhl33d/ODC-Embedded-Linux/config"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/health"
	"github.com/kuhl33d/ODC-Embedded-Linux/history"
	"github.com/kuhl33d/ODC-Embedded-Linux/input/netlink"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
	"github.com/kuhl33d/ODC-Embedded-Linux/natsclient"
	"github.com/kuhl33d/ODC-Embedded-Linux/output/natspub"
	"github.com/kuhl33d/ODC-Embedded-Linux/output/websocket"
	"github.com/kuhl33d/ODC-Embedded-Linux/pkg/retry"
)

// SystemName labels the aggregate health document.
const SystemName = "sysmonitord"

const healthInterval = 5 * time.Second

// NATSConn is the NATS connection the daemon needs. *natsclient.Client
// implements it.
type NATSConn interface {
	natspub.Client
	ConnectWithRetry(ctx context.Context, cfg retry.Config) error
	Close(ctx context.Context) error
	GetStatus() *natsclient.Status
}

// Deps holds runtime dependencies for a Daemon.
type Deps struct {
	Config          *config.Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// Source replaces the configured netlink source.
	Source netlink.Source
	// NATS replaces the connection built from Config.NATS. Only used when
	// NATS is enabled.
	NATS NATSConn
	// OnStateChange is called on every transition, synchronously.
	OnStateChange func(State)
}

// Daemon owns every component of the process.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	core    *metric.Metrics
	health  *health.Monitor

	window   *history.Window
	registry *broadcast.Registry
	pipeline *Pipeline
	input    *netlink.Input
	ws       *websocket.Output
	nats     NATSConn
	natsPub  *natspub.Publisher
	server   *metric.Server

	state     atomic.Int32
	started   atomic.Bool
	onState   func(State)
	stateMu   sync.Mutex
	startTime time.Time
}

// New builds every component without acquiring any resource.
func New(deps Deps) (*Daemon, error) {
	if deps.Config == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Daemon", "New", "config not provided")
	}
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.MetricsRegistry
	if registry == nil {
		registry = metric.NewMetricsRegistry()
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger.With("component", "daemon"),
		metrics: registry,
		core:    registry.CoreMetrics(),
		health:  health.NewMonitor(),
		onState: deps.OnStateChange,
	}

	var err error
	if d.window, err = history.New(cfg.History.Capacity, history.WithMetrics(registry)); err != nil {
		return nil, errors.WrapFatal(err, "Daemon", "New", "create history window")
	}

	if d.registry, err = broadcast.NewRegistry(broadcast.Deps{
		Config:          cfg.Broadcast,
		MetricsRegistry: registry,
		Logger:          logger,
	}); err != nil {
		return nil, errors.WrapFatal(err, "Daemon", "New", "create subscriber registry")
	}

	if d.pipeline, err = NewPipeline(d.window, d.registry, d.core, logger); err != nil {
		return nil, err
	}

	if d.input, err = netlink.New(netlink.Deps{
		Config:          cfg.Input,
		Handler:         d.pipeline.Handle,
		MetricsRegistry: registry,
		Logger:          logger,
		Source:          deps.Source,
	}); err != nil {
		return nil, errors.WrapFatal(err, "Daemon", "New", "create netlink input")
	}

	if d.ws, err = websocket.New(websocket.Deps{
		Config:          cfg.WebSocket,
		Registry:        d.registry,
		MetricsRegistry: registry,
		Logger:          logger,
	}); err != nil {
		return nil, errors.WrapFatal(err, "Daemon", "New", "create websocket listener")
	}

	if cfg.NATS.Enabled {
		if err := d.buildNATS(deps.NATS, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		d.server = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry, func() (any, bool) {
			return d.health.Report(SystemName)
		})
	}

	d.state.Store(int32(StateStarting))
	return d, nil
}

func (d *Daemon) buildNATS(conn NATSConn, logger *slog.Logger) error {
	nc := d.cfg.NATS
	if conn == nil {
		opts := []natsclient.ClientOption{
			natsclient.WithName(nc.Name),
			natsclient.WithMaxReconnects(nc.MaxReconnects),
			natsclient.WithReconnectWait(nc.ReconnectWait),
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(d.metrics),
			natsclient.WithHealthChangeCallback(d.onNATSHealth),
		}
		switch {
		case nc.Token != "":
			opts = append(opts, natsclient.WithToken(nc.Token))
		case nc.Username != "":
			opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
		}
		if nc.TLS.Enabled {
			opts = append(opts, natsclient.WithTLS(nc.TLS.CertFile, nc.TLS.KeyFile, nc.TLS.CAFile))
		}

		client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
		if err != nil {
			return errors.WrapFatal(err, "Daemon", "New", "create nats client")
		}
		conn = client
	}

	pub, err := natspub.New(natspub.Deps{
		Config:          natspub.Config{Subject: nc.Subject},
		Client:          conn,
		MetricsRegistry: d.metrics,
		Logger:          logger,
	})
	if err != nil {
		return errors.WrapFatal(err, "Daemon", "New", "create nats publisher")
	}
	d.nats = conn
	d.natsPub = pub
	return nil
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	prev := State(d.state.Swap(int32(s)))
	if d.core != nil {
		d.core.RecordDaemonState(int(s))
	}
	if s == StateRunning {
		d.health.UpdateHealthy(SystemName, "running")
	} else {
		d.health.UpdateUnhealthy(SystemName, s.String())
	}
	if prev != s {
		d.logger.Info("State changed", "from", prev.String(), "to", s.String())
	}
	if d.onState != nil {
		d.onState(s)
	}
}

// Run starts the daemon and blocks until ctx is cancelled and shutdown has
// completed. Startup failures are fatal. After a clean start, the returned
// error joins every release failure; a listener that dies while running is
// reported as fatal. Nothing after a cancelled ctx is fatal.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Daemon", "Run", "start daemon")
	}

	d.setState(StateStarting)
	if err := d.start(ctx); err != nil {
		if relErr := d.release(); relErr != nil {
			d.logger.Warn("Release after failed startup reported errors", "error", relErr)
		}
		d.setState(StateStopped)
		if !errors.IsFatal(err) {
			err = errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrSetupFailed, err), "Daemon", "Run", "startup")
		}
		return err
	}

	d.startTime = time.Now()
	d.setState(StateRunning)
	d.updateHealth()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.input.Run(gctx) })
	g.Go(func() error { return d.ws.Run(gctx) })
	if d.server != nil {
		g.Go(d.server.Serve)
	}
	g.Go(func() error {
		d.watchHealth(gctx)
		return nil
	})

	<-gctx.Done()
	requested := ctx.Err() != nil
	if requested {
		d.logger.Info("Shutdown requested")
	} else {
		d.logger.Error("A component failed, shutting down")
	}

	d.setState(StateDraining)
	releaseErr := d.release()

	var runErr error
	if err := g.Wait(); err != nil {
		if d.core != nil {
			d.core.RecordError("daemon", errors.ClassOf(err).String())
		}
		if requested {
			// Errors from components racing the requested shutdown do not
			// make the exit fatal.
			runErr = errors.WrapTransient(err, "Daemon", "Run", "stop components")
		} else {
			runErr = errors.WrapFatal(err, "Daemon", "Run", "component failed while running")
		}
	}

	d.updateHealth()
	d.setState(StateStopped)
	d.logger.Info("Stopped",
		"uptime", time.Since(d.startTime).Round(time.Millisecond),
		"snapshots", d.pipeline.Handled(),
		"dropped_after_stop", d.pipeline.Dropped())
	return stderrors.Join(runErr, releaseErr)
}

// start acquires every resource in order.
func (d *Daemon) start(ctx context.Context) error {
	if err := d.input.Open(ctx); err != nil {
		return err
	}
	if err := d.ws.Open(ctx); err != nil {
		return err
	}
	if d.server != nil {
		if err := d.server.Listen(); err != nil {
			return err
		}
	}
	if d.nats != nil {
		if err := d.nats.ConnectWithRetry(ctx, retry.Config{
			MaxAttempts:  d.cfg.NATS.ConnectAttempts,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			AddJitter:    true,
		}); err != nil {
			return err
		}
		if _, err := d.registry.Register(d.natsPub); err != nil {
			return errors.WrapFatal(err, "Daemon", "start", "register nats publisher")
		}
	}

	d.logger.Info("Started",
		"source", d.cfg.Input.Source,
		"websocket", d.ws.Addr(),
		"metrics", d.metricsAddr(),
		"nats", d.nats != nil,
		"history_capacity", d.window.Capacity())
	return nil
}

// release stops admission, closes every subscriber, then releases the
// transport and the remaining connections. It always runs to completion.
func (d *Daemon) release() error {
	sd := d.cfg.Shutdown
	var errs []error

	d.pipeline.Stop()
	d.registry.SetAccepting(false)

	if err := d.ws.Stop(sd.StopTimeout); err != nil {
		errs = append(errs, err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), sd.DrainTimeout)
	if err := d.registry.CloseAll(drainCtx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	if err := d.input.Stop(sd.StopTimeout); err != nil {
		errs = append(errs, err)
	}

	if d.nats != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), sd.StopTimeout)
		if err := d.nats.Close(closeCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sd.StopTimeout)
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	for _, err := range errs {
		d.logger.Warn("Release failed", "error", err)
	}
	return stderrors.Join(errs...)
}

func (d *Daemon) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.updateHealth()
		}
	}
}

func (d *Daemon) updateHealth() {
	components := []component.Discoverable{d.input, d.ws}
	if d.natsPub != nil {
		components = append(components, d.natsPub)
	}
	for _, c := range components {
		name := c.Meta().Name
		d.health.Update(name, health.FromComponentHealth(name, c.Health()))
	}
	if d.nats != nil {
		d.recordNATSHealth(d.nats.GetStatus())
	}
}

// onNATSHealth receives connection flaps from the client as they happen.
func (d *Daemon) onNATSHealth(healthy bool) {
	d.recordNATSHealth(d.nats.GetStatus())
	if !healthy && d.State() == StateRunning {
		d.logger.Warn("NATS connection lost", "subject", d.cfg.NATS.Subject)
	}
}

func (d *Daemon) recordNATSHealth(st *natsclient.Status) {
	if st.Status == natsclient.StatusConnected {
		msg := "connected"
		if st.RTT > 0 {
			msg = fmt.Sprintf("connected, rtt %s", st.RTT.Round(time.Microsecond))
		}
		d.health.UpdateHealthy("nats", msg)
		return
	}
	msg := fmt.Sprintf("%s, %d failed connects, %d reconnects", st.Status, st.FailureCount, st.Reconnects)
	if !st.LastFailureTime.IsZero() {
		msg += ", last failure " + st.LastFailureTime.UTC().Format(time.RFC3339)
	}
	d.health.UpdateUnhealthy("nats", msg)
}

// Health returns the aggregate health document.
func (d *Daemon) Health() health.Status {
	d.updateHealth()
	return d.health.AggregateHealth(SystemName)
}

// WebSocketAddr returns the bound WebSocket address once Running.
func (d *Daemon) WebSocketAddr() string { return d.ws.Addr() }

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (d *Daemon) MetricsAddr() string { return d.metricsAddr() }

func (d *Daemon) metricsAddr() string {
	if d.server == nil {
		return ""
	}
	return d.server.Addr()
}

// Registry exposes the subscriber registry.
func (d *Daemon) Registry() *broadcast.Registry { return d.registry }

// Window exposes the history window.
func (d *Daemon) Window() *history.Window { return d.window }
