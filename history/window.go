// Package history keeps a bounded window of recent derived metrics (CPU
// average, memory utilisation, timestamp) for inclusion in every broadcast.
package history

import (
	"time"

	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
	"github.com/kuhl33d/ODC-Embedded-Linux/pkg/buffer"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

// DefaultCapacity holds five minutes of samples at one frame per second.
const DefaultCapacity = 300

// Sample is one entry of the window.
type Sample struct {
	CPU       float64
	Memory    float64
	Timestamp time.Time
}

// View is a point-in-time copy of the window as three parallel sequences,
// oldest first. All three always have the same length.
type View struct {
	CPU       []float64   `json:"cpu"`
	Memory    []float64   `json:"memory"`
	Timestamp []time.Time `json:"timestamp"`
}

// Len returns the number of samples in the view.
func (v View) Len() int { return len(v.CPU) }

// Window is a fixed-capacity FIFO of samples. Storing one Sample per slot in
// a single ring keeps the three sequences the same length by construction.
type Window struct {
	buf buffer.Buffer[Sample]
}

// Option configures a Window.
type Option func(*options)

type options struct {
	registry *metric.MetricsRegistry
}

// WithMetrics exports window size and eviction counters.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// New creates a window holding at most capacity samples.
func New(capacity int, opts ...Option) (*Window, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	buf, err := buffer.NewCircularBuffer[Sample](capacity,
		buffer.WithOverflowPolicy[Sample](buffer.DropOldest),
		buffer.WithMetrics[Sample](o.registry, "history"),
	)
	if err != nil {
		return nil, err
	}
	return &Window{buf: buf}, nil
}

// Record appends a sample, evicting the oldest one first when full.
func (w *Window) Record(cpuPercent, memPercent float64, ts time.Time) {
	// DropOldest never rejects a write on an open buffer
	_ = w.buf.Write(Sample{CPU: cpuPercent, Memory: memPercent, Timestamp: ts})
}

// RecordSnapshot records the derived scalars of s.
func (w *Window) RecordSnapshot(s *snapshot.Snapshot) {
	w.Record(s.CPUAverage(), s.MemoryPercent(), s.Timestamp)
}

// View returns a copy of the window. It is safe to serialise while further
// records proceed.
func (w *Window) View() View {
	samples := w.buf.Items()
	v := View{
		CPU:       make([]float64, len(samples)),
		Memory:    make([]float64, len(samples)),
		Timestamp: make([]time.Time, len(samples)),
	}
	for i, s := range samples {
		v.CPU[i] = s.CPU
		v.Memory[i] = s.Memory
		v.Timestamp[i] = s.Timestamp
	}
	return v
}

// Len returns the number of samples held.
func (w *Window) Len() int { return w.buf.Size() }

// Capacity returns the maximum number of samples.
func (w *Window) Capacity() int { return w.buf.Capacity() }

// Evictions returns how many samples have been dropped to make room.
func (w *Window) Evictions() int64 { return w.buf.Stats().Drops() }
