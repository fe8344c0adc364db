package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/history"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

// Pipeline turns decoded snapshots into history samples and broadcasts. It
// is called from the single read loop goroutine.
type Pipeline struct {
	window   *history.Window
	registry *broadcast.Registry
	logger   *slog.Logger
	core     *metric.Metrics

	admitting atomic.Bool
	handled   atomic.Int64
	dropped   atomic.Int64
}

// NewPipeline creates a pipeline over an injected window and registry. core
// may be nil.
func NewPipeline(window *history.Window, registry *broadcast.Registry, core *metric.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if window == nil || registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "window and registry are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		window:   window,
		registry: registry,
		logger:   logger.With("component", "pipeline"),
		core:     core,
	}
	p.admitting.Store(true)
	return p, nil
}

// Handle records snap in the history window and broadcasts it. The message
// is only serialized when somebody is listening. Snapshots arriving after
// Stop are dropped.
func (p *Pipeline) Handle(ctx context.Context, snap *snapshot.Snapshot) {
	if !p.admitting.Load() {
		p.dropped.Add(1)
		return
	}
	p.handled.Add(1)

	p.window.RecordSnapshot(snap)

	// The drain signal cancels ctx; in-flight sends keep their own timeout
	// so subscribers are closed by CloseAll rather than dropped as failed.
	res, err := p.registry.Broadcast(context.WithoutCancel(ctx), func() ([]byte, error) {
		return EncodeMessage(snap, p.window.View())
	})
	if err != nil {
		if p.core != nil {
			p.core.RecordError("pipeline", errors.ClassOf(err).String())
		}
		p.logger.Error("Broadcast failed", "error", err, "timestamp", snap.Timestamp)
		return
	}
	if res.Failed > 0 {
		p.logger.Debug("Subscribers dropped during broadcast",
			"failed", res.Failed,
			"delivered", res.Delivered,
			"remaining", p.registry.Len())
	}
}

// Stop makes Handle drop every further snapshot.
func (p *Pipeline) Stop() {
	p.admitting.Store(false)
}

// Handled returns how many snapshots were admitted.
func (p *Pipeline) Handled() int64 { return p.handled.Load() }

// Dropped returns how many snapshots arrived after Stop.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }
