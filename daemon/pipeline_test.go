package daemon

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/history"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

type memorySubscriber struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
	closed   bool
}

func (s *memorySubscriber) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return stderrors.New("connection reset")
	}
	s.messages = append(s.messages, data)
	return nil
}

func (s *memorySubscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySubscriber) RemoteAddr() string { return "memory" }

func (s *memorySubscriber) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.messages...)
}

func newTestPipeline(t *testing.T, capacity int) (*Pipeline, *history.Window, *broadcast.Registry) {
	t.Helper()
	w, err := history.New(capacity)
	require.NoError(t, err)
	r, err := broadcast.NewRegistry(broadcast.Deps{Config: broadcast.Config{SendTimeout: time.Second}})
	require.NoError(t, err)
	p, err := NewPipeline(w, r, nil, nil)
	require.NoError(t, err)
	return p, w, r
}

func snapshotAt(sec int64, cpu uint64) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		CPUUsage:  []uint64{cpu},
		Memory:    snapshot.Memory{Total: 1000, Used: 250},
		Timestamp: time.Unix(sec, 0).UTC(),
	}
}

func TestNewPipeline_RequiresWindowAndRegistry(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestPipeline_RecordsAndBroadcasts(t *testing.T) {
	p, w, r := newTestPipeline(t, 3)
	sub := &memorySubscriber{}
	_, err := r.Register(sub)
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		p.Handle(ctx, snapshotAt(1700000000+i, uint64(10*(i+1))))
	}

	assert.Equal(t, 3, w.Len())
	assert.Equal(t, int64(5), p.Handled())

	msgs := sub.received()
	require.Len(t, msgs, 5)

	var last Message
	require.NoError(t, json.Unmarshal(msgs[4], &last))
	assert.Equal(t, []float64{30, 40, 50}, last.History.CPU, "window keeps the last three, oldest first")
	assert.Equal(t, []float64{25, 25, 25}, last.History.Memory)
	assert.Equal(t, "2023-11-14T22:13:24Z", last.Timestamp)
	assert.Equal(t, last.Timestamp, last.History.Timestamp[2], "current sample is already in the history")

	var first Message
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	assert.Len(t, first.History.CPU, 1)
	assert.NoError(t, ValidateMessage(msgs[4]))
}

func TestPipeline_NoSubscribersStillRecordsHistory(t *testing.T) {
	p, w, r := newTestPipeline(t, 10)

	p.Handle(context.Background(), snapshotAt(1, 5))
	p.Handle(context.Background(), snapshotAt(2, 5))

	assert.Equal(t, 2, w.Len())
	assert.Zero(t, r.Stats().Broadcasts, "nothing is serialized without subscribers")
}

func TestPipeline_FailedSubscriberIsRemoved(t *testing.T) {
	p, _, r := newTestPipeline(t, 10)
	good := &memorySubscriber{}
	bad := &memorySubscriber{fail: true}
	_, err := r.Register(good)
	require.NoError(t, err)
	_, err = r.Register(bad)
	require.NoError(t, err)

	p.Handle(context.Background(), snapshotAt(1, 5))
	p.Handle(context.Background(), snapshotAt(2, 5))

	assert.Len(t, good.received(), 2)
	assert.Equal(t, 1, r.Len())
	assert.True(t, bad.closed)
}

func TestPipeline_StopDropsSnapshots(t *testing.T) {
	p, w, r := newTestPipeline(t, 10)
	sub := &memorySubscriber{}
	_, err := r.Register(sub)
	require.NoError(t, err)

	p.Handle(context.Background(), snapshotAt(1, 5))
	p.Stop()
	p.Handle(context.Background(), snapshotAt(2, 5))

	assert.Equal(t, 1, w.Len())
	assert.Len(t, sub.received(), 1)
	assert.Equal(t, int64(1), p.Handled())
	assert.Equal(t, int64(1), p.Dropped())
}

// ctxSubscriber fails sends whose context is already done.
type ctxSubscriber struct {
	memorySubscriber
}

func (s *ctxSubscriber) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memorySubscriber.Send(ctx, data)
}

func TestPipeline_CancelledContextDoesNotDropSubscribers(t *testing.T) {
	p, _, r := newTestPipeline(t, 10)
	sub := &ctxSubscriber{}
	_, err := r.Register(sub)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Handle(ctx, snapshotAt(1, 5))

	assert.Len(t, sub.received(), 1)
	assert.Equal(t, 1, r.Len(), "left for CloseAll")
	assert.Zero(t, r.Stats().Failed)
}
