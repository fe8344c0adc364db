package netlink

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuhl33d/ODC-Embedded-Linux/component"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
	"github.com/kuhl33d/ODC-Embedded-Linux/pkg/retry"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

// Source kinds accepted by Config.Source.
const (
	SourceNetlink   = "netlink"
	SourceSynthetic = "synthetic"
)

// Config holds configuration for the netlink input
type Config struct {
	Source            string          `json:"source"             yaml:"source"`
	Protocol          int             `json:"protocol"           yaml:"protocol"`
	Group             int             `json:"group"              yaml:"group"`
	ReceiveBuffer     int             `json:"receive_buffer"     yaml:"receive_buffer"`
	Layout            snapshot.Layout `json:"layout"             yaml:"layout"`
	IdleBackoff       time.Duration   `json:"idle_backoff"       yaml:"idle_backoff"`
	ErrorBackoff      time.Duration   `json:"error_backoff"      yaml:"error_backoff"`
	OpenAttempts      int             `json:"open_attempts"      yaml:"open_attempts"`
	SyntheticInterval time.Duration   `json:"synthetic_interval" yaml:"synthetic_interval"`
}

// DefaultConfig matches the stock kernel module.
func DefaultConfig() Config {
	return Config{
		Source:            SourceNetlink,
		Protocol:          31,
		Group:             1,
		ReceiveBuffer:     64 * 1024,
		Layout:            snapshot.DefaultLayout(),
		IdleBackoff:       100 * time.Millisecond,
		ErrorBackoff:      time.Second,
		OpenAttempts:      3,
		SyntheticInterval: time.Second,
	}
}

// Validate checks the input configuration.
func (c Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "netlink input")
	}

	switch c.Source {
	case SourceNetlink, SourceSynthetic:
	default:
		return invalid(fmt.Sprintf("unknown source %q", c.Source))
	}
	if c.Protocol < 0 || c.Protocol > 31 {
		return invalid(fmt.Sprintf("protocol %d outside [0, 31]", c.Protocol))
	}
	if c.Group < 1 || c.Group > 32 {
		return invalid(fmt.Sprintf("group %d outside [1, 32]", c.Group))
	}
	if err := c.Layout.Validate(); err != nil {
		return err
	}
	if c.ReceiveBuffer < EnvelopeSize+c.Layout.Size() {
		return invalid(fmt.Sprintf("receive_buffer %d smaller than one frame (%d)",
			c.ReceiveBuffer, EnvelopeSize+c.Layout.Size()))
	}
	if c.IdleBackoff <= 0 || c.ErrorBackoff <= 0 {
		return invalid("backoffs must be positive")
	}
	if c.Source == SourceSynthetic && c.SyntheticInterval <= 0 {
		return invalid("synthetic_interval must be positive")
	}
	return nil
}

// Handler receives every decoded snapshot, on the read loop goroutine.
type Handler func(ctx context.Context, snap *snapshot.Snapshot)

// Deps holds runtime dependencies for the input.
type Deps struct {
	Config          Config
	Handler         Handler
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// Source overrides the configured source, mainly for tests.
	Source Source
}

// Input reads frames, decodes them and passes snapshots to the handler.
type Input struct {
	config  Config
	handler Handler
	decoder *snapshot.Decoder
	logger  *slog.Logger
	metrics *Metrics

	retryConfig retry.Config
	failLog     *rate.Limiter
	suppressed  atomic.Int64

	mu        sync.Mutex
	source    Source
	running   atomic.Bool
	looping   atomic.Bool
	stopped   bool
	startTime time.Time
	done      chan struct{}

	frames         atomic.Int64
	bytes          atomic.Int64
	snapshots      atomic.Int64
	decodeFailures atomic.Int64
	readErrors     atomic.Int64
	lastActivity   atomic.Int64 // unix nanos
	lastError      atomic.Value // string
}

var _ component.LifecycleComponent = (*Input)(nil)

// New creates an input. The source is opened by Open.
func New(deps Deps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Input", "New", "snapshot handler not provided")
	}

	decoder, err := snapshot.NewDecoder(deps.Config.Layout)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Input", "New", "register metrics")
	}

	return &Input{
		config:  deps.Config,
		handler: deps.Handler,
		decoder: decoder,
		logger:  logger.With("component", "netlink", "source", deps.Config.Source),
		metrics: metrics,
		retryConfig: retry.Config{
			MaxAttempts:  deps.Config.OpenAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			AddJitter:    true,
		},
		failLog: rate.NewLimiter(rate.Every(time.Second), 1),
		source:  deps.Source,
	}, nil
}

// Meta returns component metadata.
func (i *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "netlink",
		Type:        "input",
		Description: fmt.Sprintf("Snapshot frames from %s source", i.config.Source),
		Version:     "1.0.0",
	}
}

// Health is healthy while the loop runs with an open source.
func (i *Input) Health() component.HealthStatus {
	i.mu.Lock()
	open := i.source != nil
	start := i.startTime
	i.mu.Unlock()

	status := component.HealthStatus{
		Healthy:    i.running.Load() && open,
		LastCheck:  time.Now(),
		ErrorCount: int(i.readErrors.Load() + i.decodeFailures.Load()),
	}
	if !start.IsZero() {
		status.Uptime = time.Since(start)
	}
	if msg, ok := i.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns frame throughput since Open.
func (i *Input) DataFlow() component.FlowMetrics {
	i.mu.Lock()
	start := i.startTime
	i.mu.Unlock()

	frames := i.frames.Load()
	flow := component.FlowMetrics{}
	if uptime := time.Since(start).Seconds(); !start.IsZero() && uptime > 0 {
		flow.MessagesPerSecond = float64(frames) / uptime
		flow.BytesPerSecond = float64(i.bytes.Load()) / uptime
	}
	if frames > 0 {
		flow.ErrorRate = float64(i.decodeFailures.Load()) / float64(frames)
	}
	if ns := i.lastActivity.Load(); ns > 0 {
		flow.LastActivity = time.Unix(0, ns)
	}
	return flow
}

// Stats is a point-in-time copy of the input counters.
type Stats struct {
	Frames         int64
	Bytes          int64
	Snapshots      int64
	DecodeFailures int64
	ReadErrors     int64
}

// Stats returns the input counters.
func (i *Input) Stats() Stats {
	return Stats{
		Frames:         i.frames.Load(),
		Bytes:          i.bytes.Load(),
		Snapshots:      i.snapshots.Load(),
		DecodeFailures: i.decodeFailures.Load(),
		ReadErrors:     i.readErrors.Load(),
	}
}

// Open acquires the source, retrying transient failures. Exhausted retries
// and permanent errors (permissions, protocol not registered) are fatal.
func (i *Input) Open(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Open", "open source")
	}

	if i.source == nil {
		cfg := i.retryConfig
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			i.logger.Warn("Opening source failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}

		src, err := retry.DoWithResult(ctx, cfg, func() (Source, error) {
			src, err := i.openSource()
			if err != nil && permanentOpenError(err) {
				return nil, retry.NonRetryable(err)
			}
			return src, err
		})
		if err != nil {
			return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrSetupFailed, err), "Input", "Open",
				fmt.Sprintf("open %s source", i.config.Source))
		}
		i.source = src
	}

	i.running.Store(true)
	i.stopped = false
	i.startTime = time.Now()
	i.done = make(chan struct{})

	i.logger.Info("Source opened",
		"protocol", i.config.Protocol,
		"group", i.config.Group,
		"frame_size", EnvelopeSize+i.config.Layout.Size())
	return nil
}

func (i *Input) openSource() (Source, error) {
	if i.config.Source == SourceSynthetic {
		return NewSyntheticSource(i.config.Layout, i.config.SyntheticInterval)
	}
	return openSocket(i.config)
}

// Run is the read loop. It returns nil when ctx is cancelled or the input is
// stopped, including a Stop that lands before the loop started.
func (i *Input) Run(ctx context.Context) error {
	i.mu.Lock()
	src, done := i.source, i.done
	if src == nil || done == nil {
		stopped := i.stopped
		i.mu.Unlock()
		if stopped {
			return nil
		}
		return errors.WrapInvalid(errors.ErrNotStarted, "Input", "Run", "read loop")
	}
	if !i.running.Load() {
		// Stop is already under way.
		i.mu.Unlock()
		return nil
	}
	if !i.looping.CompareAndSwap(false, true) {
		i.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Run", "read loop")
	}
	i.mu.Unlock()
	defer func() {
		i.looping.Store(false)
		close(done)
	}()

	buf := make([]byte, i.config.ReceiveBuffer)
	for i.running.Load() {
		if ctx.Err() != nil {
			return nil
		}

		n, err := src.Read(buf)
		if err != nil {
			if stderrors.Is(err, errors.ErrWouldBlock) {
				sleep(ctx, i.config.IdleBackoff)
				continue
			}
			i.recordReadError(err)
			sleep(ctx, i.config.ErrorBackoff)
			continue
		}

		i.handleFrame(ctx, buf[:n])
	}
	return nil
}

// handleFrame decodes one frame; the frame buffer is reused after it returns.
func (i *Input) handleFrame(ctx context.Context, frame []byte) {
	now := time.Now()
	i.frames.Add(1)
	i.bytes.Add(int64(len(frame)))
	i.lastActivity.Store(now.UnixNano())
	if i.metrics != nil {
		i.metrics.framesReceived.Inc()
		i.metrics.bytesReceived.Add(float64(len(frame)))
		i.metrics.lastActivity.Set(float64(now.Unix()))
	}

	if len(frame) < EnvelopeSize {
		de := &snapshot.DecodeError{
			Kind:     errors.DecodeTruncated,
			Size:     len(frame),
			Expected: EnvelopeSize + i.config.Layout.Size(),
		}
		i.recordDecodeFailure(len(frame), errors.WrapInvalid(de, "Input", "handleFrame", "strip envelope"))
		return
	}

	snap, err := i.decoder.Decode(payloadOf(frame))
	if err != nil {
		i.recordDecodeFailure(len(frame), err)
		return
	}

	i.snapshots.Add(1)
	if i.metrics != nil {
		i.metrics.snapshots.Inc()
	}
	i.handler(ctx, snap)
}

func (i *Input) recordDecodeFailure(frameSize int, err error) {
	i.decodeFailures.Add(1)
	i.lastError.Store(err.Error())

	kind := errors.DecodeOther
	var de *snapshot.DecodeError
	if stderrors.As(err, &de) {
		kind = de.Kind
	}
	if i.metrics != nil {
		i.metrics.decodeFailures.WithLabelValues(kind.String()).Inc()
	}

	i.logRateLimited("Dropping undecodable frame",
		"frame_size", frameSize,
		"kind", kind.String(),
		"error", err)
}

func (i *Input) recordReadError(err error) {
	i.readErrors.Add(1)
	i.lastError.Store(err.Error())
	if i.metrics != nil {
		i.metrics.readErrors.Inc()
	}
	i.logRateLimited("Source read failed", "error", err, "backoff", i.config.ErrorBackoff)
}

// logRateLimited logs at most once per second and reports how many lines
// were dropped since the last one.
func (i *Input) logRateLimited(msg string, args ...any) {
	if !i.failLog.Allow() {
		i.suppressed.Add(1)
		return
	}
	if n := i.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	i.logger.Warn(msg, args...)
}

// Stop ends the read loop and releases the source.
func (i *Input) Stop(timeout time.Duration) error {
	if !i.running.CompareAndSwap(true, false) {
		return nil
	}

	// Run claims the loop under mu, so after this block it either has
	// started and will close done, or it sees stopped and returns.
	i.mu.Lock()
	i.stopped = true
	done := i.done
	looping := i.looping.Load()
	i.mu.Unlock()

	var stopErr error
	if looping {
		select {
		case <-done:
		case <-time.After(timeout):
			stopErr = errors.WrapTransient(fmt.Errorf("read loop did not exit within %v", timeout),
				"Input", "Stop", "graceful shutdown")
		}
	}

	i.mu.Lock()
	src := i.source
	i.source = nil
	i.mu.Unlock()

	if src != nil {
		if err := src.Close(); err != nil {
			stopErr = stderrors.Join(stopErr, errors.Wrap(err, "Input", "Stop", "close source"))
		}
	}

	i.logger.Info("Source closed",
		"frames", i.frames.Load(),
		"snapshots", i.snapshots.Load(),
		"decode_failures", i.decodeFailures.Load(),
		"read_errors", i.readErrors.Load())
	return stopErr
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
