package broadcast

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

type fakeSubscriber struct {
	addr  string
	fail  error
	block bool

	mu       sync.Mutex
	received [][]byte
	closed   atomic.Int32
}

func (f *fakeSubscriber) Send(ctx context.Context, msg []byte) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	f.received = append(f.received, append([]byte(nil), msg...))
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeSubscriber) RemoteAddr() string { return f.addr }

func (f *fakeSubscriber) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	r, err := NewRegistry(Deps{Config: Config{SendTimeout: timeout}})
	require.NoError(t, err)
	return r
}

func staticBuild(payload string, calls *atomic.Int32) func() ([]byte, error) {
	return func() ([]byte, error) {
		calls.Add(1)
		return []byte(payload), nil
	}
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	sub := &fakeSubscriber{addr: "10.0.0.1:5000"}

	id, err := r.Register(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Unregister(id))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int32(1), sub.closed.Load())

	// Second removal is a no-op.
	assert.False(t, r.Unregister(id))
	assert.False(t, r.Unregister("never-registered"))
	assert.Equal(t, int32(1), sub.closed.Load())
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	seen := make(map[SubscriberID]bool)
	for i := 0; i < 50; i++ {
		id, err := r.Register(&fakeSubscriber{})
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 50, r.Len())
}

func TestRegistry_BroadcastEmptySkipsBuild(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	var calls atomic.Int32

	res, err := r.Broadcast(context.Background(), staticBuild("x", &calls))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRegistry_BroadcastDeliversSameBytes(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	subs := []*fakeSubscriber{{addr: "a"}, {addr: "b"}, {addr: "c"}}
	for _, s := range subs {
		_, err := r.Register(s)
		require.NoError(t, err)
	}

	var calls atomic.Int32
	res, err := r.Broadcast(context.Background(), staticBuild(`{"cpu_average":12.5}`, &calls))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "message built once per broadcast")
	assert.Equal(t, Result{Subscribers: 3, Delivered: 3, Bytes: 20}, res)
	for _, s := range subs {
		msgs := s.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, `{"cpu_average":12.5}`, string(msgs[0]))
	}
}

func TestRegistry_FailedSubscriberIsolated(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	first := &fakeSubscriber{addr: "first"}
	broken := &fakeSubscriber{addr: "broken", fail: errors.ErrSubscriberClosed}
	third := &fakeSubscriber{addr: "third"}

	for _, s := range []*fakeSubscriber{first, broken, third} {
		_, err := r.Register(s)
		require.NoError(t, err)
	}

	var calls atomic.Int32
	res, err := r.Broadcast(context.Background(), staticBuild("m1", &calls))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int32(1), broken.closed.Load())

	res, err = r.Broadcast(context.Background(), staticBuild("m2", &calls))
	require.NoError(t, err)
	assert.Equal(t, Result{Subscribers: 2, Delivered: 2, Bytes: 2}, res)

	assert.Len(t, first.messages(), 2)
	assert.Len(t, third.messages(), 2)
	assert.Empty(t, broken.messages())
}

func TestRegistry_SendTimeout(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond)
	slow := &fakeSubscriber{addr: "slow", block: true}
	fast := &fakeSubscriber{addr: "fast"}
	_, err := r.Register(slow)
	require.NoError(t, err)
	_, err = r.Register(fast)
	require.NoError(t, err)

	var calls atomic.Int32
	start := time.Now()
	res, err := r.Broadcast(context.Background(), staticBuild("tick", &calls))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, fast.messages(), 1)
}

func TestRegistry_BuildError(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	sub := &fakeSubscriber{}
	_, err := r.Register(sub)
	require.NoError(t, err)

	boom := stderrors.New("marshal failed")
	_, err = r.Broadcast(context.Background(), func() ([]byte, error) { return nil, boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsInvalid(err))

	// Subscribers are untouched by a build failure.
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int32(0), sub.closed.Load())
}

func TestRegistry_CloseAllStopsAccepting(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	subs := []*fakeSubscriber{{}, {}}
	for _, s := range subs {
		_, err := r.Register(s)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.CloseAll(ctx))

	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Accepting())
	for _, s := range subs {
		assert.Equal(t, int32(1), s.closed.Load())
	}

	_, err := r.Register(&fakeSubscriber{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestRegistry_ConcurrentMembership(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var calls atomic.Int32
		for ctx.Err() == nil {
			_, _ = r.Broadcast(ctx, staticBuild("x", &calls))
		}
	}()

	for i := 0; i < 100; i++ {
		id, err := r.Register(&fakeSubscriber{})
		require.NoError(t, err)
		if i%2 == 0 {
			r.Unregister(id)
		}
	}
	cancel()
	wg.Wait()

	assert.Equal(t, 50, r.Len())
}

func TestRegistry_Metrics(t *testing.T) {
	mr := metric.NewMetricsRegistry()
	r, err := NewRegistry(Deps{MetricsRegistry: mr})
	require.NoError(t, err)

	_, err = r.Register(&fakeSubscriber{})
	require.NoError(t, err)
	_, err = r.Register(&fakeSubscriber{fail: errors.ErrSubscriberClosed})
	require.NoError(t, err)

	var calls atomic.Int32
	_, err = r.Broadcast(context.Background(), staticBuild("x", &calls))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.subscribers))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.deliveries))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.failures.WithLabelValues("send_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.removals.WithLabelValues("send_failure")))

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Broadcasts)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(1), stats.Failed)

	// A second registry on the same metrics registry collides.
	_, err = NewRegistry(Deps{MetricsRegistry: mr})
	assert.Error(t, err)
}

func TestRegistry_SetAccepting(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	r.SetAccepting(false)

	_, err := r.Register(&fakeSubscriber{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	r.SetAccepting(true)
	_, err = r.Register(&fakeSubscriber{})
	assert.NoError(t, err)
}
