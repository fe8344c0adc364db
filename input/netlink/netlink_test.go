package netlink

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhl33d/ODC-Embedded-Linux/component"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

var smallLayout = snapshot.Layout{CPUs: 2, MaxProcesses: 3}

type readResult struct {
	frame []byte
	err   error
}

// scriptedSource replays results in order, then reports would-block.
type scriptedSource struct {
	mu      sync.Mutex
	results []readResult
	reads   int
	closed  bool
}

func (s *scriptedSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.results) == 0 {
		return 0, errors.ErrWouldBlock
	}
	r := s.results[0]
	s.results = s.results[1:]
	if r.err != nil {
		return 0, r.err
	}
	return copy(buf, r.frame), nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type collector struct {
	mu    sync.Mutex
	snaps []*snapshot.Snapshot
}

func (c *collector) handle(_ context.Context, s *snapshot.Snapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, s)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func frameFor(t *testing.T, layout snapshot.Layout, s *snapshot.Snapshot) []byte {
	t.Helper()
	payload, err := snapshot.Encode(layout, s)
	require.NoError(t, err)
	frame := make([]byte, EnvelopeSize+len(payload))
	putEnvelope(frame, len(payload), 1)
	copy(frame[EnvelopeSize:], payload)
	return frame
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Layout = smallLayout
	cfg.IdleBackoff = 5 * time.Millisecond
	cfg.ErrorBackoff = 10 * time.Millisecond
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startInput(t *testing.T, src Source, mr *metric.MetricsRegistry) (*Input, *collector, context.CancelFunc, <-chan error) {
	t.Helper()
	c := &collector{}
	in, err := New(Deps{
		Config:          testConfig(),
		Handler:         c.handle,
		Source:          src,
		MetricsRegistry: mr,
		Logger:          quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, in.Open(ctx))

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	return in, c, cancel, done
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"synthetic", func(c *Config) { c.Source = SourceSynthetic }, false},
		{"unknown source", func(c *Config) { c.Source = "udp" }, true},
		{"protocol too large", func(c *Config) { c.Protocol = 32 }, true},
		{"group zero", func(c *Config) { c.Group = 0 }, true},
		{"bad layout", func(c *Config) { c.Layout.CPUs = 0 }, true},
		{"buffer below frame", func(c *Config) { c.ReceiveBuffer = 1024 }, true},
		{"zero backoff", func(c *Config) { c.IdleBackoff = 0 }, true},
		{"synthetic zero interval", func(c *Config) {
			c.Source = SourceSynthetic
			c.SyntheticInterval = 0
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig_FitsDefaultFrame(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 6316, cfg.Layout.Size())
	assert.GreaterOrEqual(t, cfg.ReceiveBuffer, EnvelopeSize+cfg.Layout.Size())
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(Deps{Config: testConfig()})
	assert.Error(t, err)
}

func TestPayloadOf(t *testing.T) {
	frame := make([]byte, EnvelopeSize+8)
	putEnvelope(frame, 4, 7) // header claims a shorter payload
	assert.Len(t, payloadOf(frame), 4)

	putEnvelope(frame, 100, 7) // inconsistent length: use remainder
	assert.Len(t, payloadOf(frame), 8)

	assert.Nil(t, payloadOf(make([]byte, 3)))
}

func TestInput_DeliversGoodFramesInOrder(t *testing.T) {
	first := &snapshot.Snapshot{CPUUsage: []uint64{10, 20}, Timestamp: time.Unix(1700000000, 0).UTC()}
	second := &snapshot.Snapshot{CPUUsage: []uint64{30, 40}, Timestamp: time.Unix(1700000001, 0).UTC()}

	src := &scriptedSource{results: []readResult{
		{frame: frameFor(t, smallLayout, first)},
		{frame: frameFor(t, smallLayout, second)},
	}}
	in, c, cancel, done := startInput(t, src, nil)
	defer cancel()

	require.Eventually(t, func() bool { return c.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	c.mu.Lock()
	assert.Equal(t, []uint64{10, 20}, c.snaps[0].CPUUsage)
	assert.Equal(t, []uint64{30, 40}, c.snaps[1].CPUUsage)
	c.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, in.Stop(time.Second))
	assert.True(t, src.isClosed())

	stats := in.Stats()
	assert.Equal(t, int64(2), stats.Frames)
	assert.Equal(t, int64(2), stats.Snapshots)
	assert.Zero(t, stats.DecodeFailures)
}

func TestInput_SurvivesBadFramesAndErrors(t *testing.T) {
	good := &snapshot.Snapshot{CPUUsage: []uint64{50, 0}, Timestamp: time.Unix(1700000000, 0).UTC()}
	goodFrame := frameFor(t, smallLayout, good)

	badCount := append([]byte(nil), goodFrame...)
	// process_count field sits right after the process slots.
	countOff := EnvelopeSize + 8*smallLayout.CPUs + 48 + snapshot.ProcessRecordSize*smallLayout.MaxProcesses
	badCount[countOff] = 0xff
	badCount[countOff+1] = 0xff

	src := &scriptedSource{results: []readResult{
		{frame: []byte{1, 2, 3}},       // shorter than the envelope
		{frame: goodFrame[:100]},        // truncated payload
		{err: stderrors.New("ENOBUFS")}, // transient read error
		{frame: badCount},               // invalid process count
		{frame: goodFrame},
	}}

	mr := metric.NewMetricsRegistry()
	in, c, cancel, done := startInput(t, src, mr)
	defer cancel()

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, in.Stop(time.Second))

	stats := in.Stats()
	assert.Equal(t, int64(4), stats.Frames)
	assert.Equal(t, int64(3), stats.DecodeFailures)
	assert.Equal(t, int64(1), stats.ReadErrors)
	assert.Equal(t, int64(1), stats.Snapshots)

	assert.Equal(t, float64(2), testutil.ToFloat64(in.metrics.decodeFailures.WithLabelValues("truncated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(in.metrics.decodeFailures.WithLabelValues("invalid_process_count")))
	assert.Equal(t, float64(1), testutil.ToFloat64(in.metrics.readErrors))

	h := in.Health()
	assert.Equal(t, 4, h.ErrorCount)
	assert.NotEmpty(t, h.LastError)
}

func TestInput_WouldBlockKeepsPolling(t *testing.T) {
	src := &scriptedSource{}
	in, c, cancel, done := startInput(t, src, nil)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.reads >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, c.count())
	assert.True(t, in.Health().Healthy)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, in.Stop(time.Second))
	assert.Zero(t, in.Stats().ReadErrors)
	assert.False(t, in.Health().Healthy)
}

func TestInput_StopWithoutRun(t *testing.T) {
	src := &scriptedSource{}
	in, err := New(Deps{Config: testConfig(), Handler: func(context.Context, *snapshot.Snapshot) {}, Source: src})
	require.NoError(t, err)

	require.NoError(t, in.Open(context.Background()))
	require.NoError(t, in.Stop(100*time.Millisecond))
	assert.True(t, src.isClosed())
	assert.NoError(t, in.Stop(100*time.Millisecond), "second Stop is a no-op")
}

func TestInput_RunBeforeOpen(t *testing.T) {
	in, err := New(Deps{Config: testConfig(), Handler: func(context.Context, *snapshot.Snapshot) {}})
	require.NoError(t, err)
	assert.Error(t, in.Run(context.Background()))
}

func TestInput_SyntheticSourceEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Source = SourceSynthetic
	cfg.SyntheticInterval = 10 * time.Millisecond

	c := &collector{}
	in, err := New(Deps{Config: cfg, Handler: c.handle, Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, in.Open(ctx))

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	require.Eventually(t, func() bool { return c.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, in.Stop(time.Second))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.snaps {
		assert.Len(t, s.CPUUsage, smallLayout.CPUs)
		assert.LessOrEqual(t, len(s.Processes), smallLayout.MaxProcesses)
		assert.NotZero(t, s.Memory.Total)
	}
	assert.Zero(t, in.Stats().DecodeFailures)
}

func TestInput_Lifecycle(t *testing.T) {
	component.StandardLifecycleTests(t, func(t *testing.T) component.LifecycleComponent {
		cfg := testConfig()
		cfg.Source = SourceSynthetic
		cfg.SyntheticInterval = 10 * time.Millisecond
		in, err := New(Deps{Config: cfg, Handler: func(context.Context, *snapshot.Snapshot) {}, Logger: quietLogger()})
		require.NoError(t, err)
		return in
	})
}
