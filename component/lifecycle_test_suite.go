package component

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LifecycleFactory creates a fresh, unopened component for one subtest.
type LifecycleFactory func(t *testing.T) LifecycleComponent

const suiteTimeout = 5 * time.Second

// StandardLifecycleTests checks the Open/Run/Stop contract every long-running
// part of the daemon shares. Each subtest gets its own component.
func StandardLifecycleTests(t *testing.T, factory LifecycleFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, comp LifecycleComponent)
	}{
		{"Meta", testMeta},
		{"OpenRunCancelStop", testOpenRunCancelStop},
		{"StopEndsRun", testStopEndsRun},
		{"RunBeforeOpen", testRunBeforeOpen},
		{"RunAfterStop", testRunAfterStop},
		{"StopRacingRun", testStopRacingRun},
		{"DoubleOpen", testDoubleOpen},
		{"StopWithoutOpen", testStopWithoutOpen},
		{"DoubleStop", testDoubleStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := factory(t)
			require.NotNil(t, comp, "component factory returned nil")
			tt.test(t, comp)
		})
	}

	t.Run("NoGoroutineLeaks", func(t *testing.T) {
		testNoGoroutineLeaks(t, factory)
	})
}

func testMeta(t *testing.T, comp LifecycleComponent) {
	meta := comp.Meta()
	assert.NotEmpty(t, meta.Name)
	assert.Contains(t, []string{"input", "output"}, meta.Type)
	assert.NotEmpty(t, meta.Version)
}

// runAsync starts Run and returns a channel carrying its result.
func runAsync(ctx context.Context, comp LifecycleComponent) <-chan error {
	done := make(chan error, 1)
	go func() { done <- comp.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err, "Run should return nil on a requested stop")
	case <-time.After(suiteTimeout):
		t.Fatal("Run did not return")
	}
}

func testOpenRunCancelStop(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Open(context.Background()))
	assert.True(t, comp.Health().Healthy, "healthy once open")

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, comp)
	cancel()
	waitRun(t, done)

	require.NoError(t, comp.Stop(suiteTimeout))
	assert.False(t, comp.Health().Healthy, "unhealthy once stopped")
}

func testStopEndsRun(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Open(context.Background()))
	done := runAsync(context.Background(), comp)

	// Give Run a moment to enter its loop.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, comp.Stop(suiteTimeout))
	waitRun(t, done)
}

func testRunBeforeOpen(t *testing.T, comp LifecycleComponent) {
	ctx, cancel := context.WithTimeout(context.Background(), suiteTimeout)
	defer cancel()
	assert.Error(t, comp.Run(ctx))
}

// A Stop that lands before Run was scheduled is a requested stop, not a
// failure.
func testRunAfterStop(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Open(context.Background()))
	require.NoError(t, comp.Stop(suiteTimeout))

	ctx, cancel := context.WithTimeout(context.Background(), suiteTimeout)
	defer cancel()
	assert.NoError(t, comp.Run(ctx))
}

func testStopRacingRun(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Open(context.Background()))
	done := runAsync(context.Background(), comp)
	require.NoError(t, comp.Stop(suiteTimeout))
	waitRun(t, done)
}

func testDoubleOpen(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Open(context.Background()))
	defer func() { _ = comp.Stop(suiteTimeout) }()
	assert.Error(t, comp.Open(context.Background()))
}

func testStopWithoutOpen(t *testing.T, comp LifecycleComponent) {
	assert.NoError(t, comp.Stop(suiteTimeout))
}

func testDoubleStop(t *testing.T, comp LifecycleComponent) {
	require.NoError(t, comp.Open(context.Background()))
	assert.NoError(t, comp.Stop(suiteTimeout))
	assert.NoError(t, comp.Stop(suiteTimeout))
}

func testNoGoroutineLeaks(t *testing.T, factory LifecycleFactory) {
	before := runtime.NumGoroutine()

	for range 3 {
		comp := factory(t)
		require.NoError(t, comp.Open(context.Background()))
		ctx, cancel := context.WithCancel(context.Background())
		done := runAsync(ctx, comp)
		time.Sleep(10 * time.Millisecond)
		cancel()
		waitRun(t, done)
		require.NoError(t, comp.Stop(suiteTimeout))
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond, "goroutines: before=%d after=%d", before, runtime.NumGoroutine())
}
