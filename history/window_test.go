package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestWindow_Bound(t *testing.T) {
	const capacity = 5

	for _, n := range []int{1, capacity, capacity + 1, 3*capacity + 2} {
		w, err := New(capacity)
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			w.Record(float64(i), float64(100+i), epoch.Add(time.Duration(i)*time.Second))
		}

		v := w.View()
		want := n
		if want > capacity {
			want = capacity
		}
		require.Equal(t, want, v.Len(), "n=%d", n)
		assert.Len(t, v.Memory, want)
		assert.Len(t, v.Timestamp, want)

		// exactly the last `want` inserted, oldest first
		for j := 0; j < want; j++ {
			i := n - want + j
			assert.Equal(t, float64(i), v.CPU[j])
			assert.Equal(t, float64(100+i), v.Memory[j])
			assert.True(t, v.Timestamp[j].Equal(epoch.Add(time.Duration(i)*time.Second)))
		}
		if n > capacity {
			assert.Equal(t, int64(n-capacity), w.Evictions())
		}
	}
}

func TestWindow_ViewIsCopy(t *testing.T) {
	w, err := New(3)
	require.NoError(t, err)
	w.Record(1, 1, epoch)

	v := w.View()
	v.CPU[0] = 42
	w.Record(2, 2, epoch)

	assert.Equal(t, []float64{1, 2}, w.View().CPU)
	assert.Equal(t, 1, v.Len())
}

func TestWindow_RecordSnapshot(t *testing.T) {
	w, err := New(DefaultCapacity)
	require.NoError(t, err)

	w.RecordSnapshot(&snapshot.Snapshot{
		CPUUsage:  []uint64{0, 40, 60, 0},
		Memory:    snapshot.Memory{Total: 200, Used: 50},
		Timestamp: epoch,
	})
	w.RecordSnapshot(&snapshot.Snapshot{
		CPUUsage:  []uint64{0, 0},
		Memory:    snapshot.Memory{Total: 0, Used: 50},
		Timestamp: epoch.Add(time.Second),
	})

	v := w.View()
	assert.Equal(t, []float64{50, 0}, v.CPU)
	assert.Equal(t, []float64{25, 0}, v.Memory)
	assert.Equal(t, DefaultCapacity, w.Capacity())
}

func TestWindow_ConcurrentRecordAndView(t *testing.T) {
	w, err := New(10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			w.Record(float64(i), float64(i), epoch)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			v := w.View()
			assert.LessOrEqual(t, v.Len(), 10)
			assert.Equal(t, len(v.CPU), len(v.Memory))
			assert.Equal(t, len(v.CPU), len(v.Timestamp))
		}
	}()
	wg.Wait()
	assert.Equal(t, 10, w.Len())
}

func TestWindow_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	w, err := New(2, WithMetrics(reg))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		w.Record(1, 1, epoch)
	}

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "sysmon_buffer_drops_total" {
			found = true
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
