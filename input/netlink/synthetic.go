package netlink

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

// SyntheticSource produces encoded snapshots at a fixed interval. Read reports
// ErrWouldBlock until the next frame is due.
type SyntheticSource struct {
	layout   snapshot.Layout
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	next   time.Time
	seq    uint32
	closed bool
}

var syntheticCommands = []string{
	"systemd", "kthreadd", "rcu_sched", "sshd", "journald",
	"NetworkManager", "containerd", "sysmonitord", "bash", "postgres",
}

// NewSyntheticSource returns a source emitting one frame per interval; the
// first frame is available immediately.
func NewSyntheticSource(layout snapshot.Layout, interval time.Duration) (*SyntheticSource, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: synthetic interval must be positive", errors.ErrInvalidConfig),
			"SyntheticSource", "NewSyntheticSource", "check interval")
	}
	return &SyntheticSource{
		layout:   layout,
		interval: interval,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}, nil
}

// Read writes the next frame into buf.
func (s *SyntheticSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.ErrConnectionLost
	}

	now := s.now()
	if now.Before(s.next) {
		return 0, errors.ErrWouldBlock
	}

	frameLen := EnvelopeSize + s.layout.Size()
	if len(buf) < frameLen {
		return 0, fmt.Errorf("receive buffer of %d bytes cannot hold a %d byte frame", len(buf), frameLen)
	}

	payload, err := snapshot.Encode(s.layout, s.generate(now))
	if err != nil {
		return 0, err
	}

	s.seq++
	putEnvelope(buf, len(payload), s.seq)
	copy(buf[EnvelopeSize:], payload)
	s.next = now.Add(s.interval)
	return frameLen, nil
}

// Close makes further reads fail.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SyntheticSource) generate(now time.Time) *snapshot.Snapshot {
	cpus := min(s.layout.CPUs, 8)
	snap := &snapshot.Snapshot{
		CPUUsage:  make([]uint64, cpus),
		Timestamp: now,
	}
	for i := range snap.CPUUsage {
		snap.CPUUsage[i] = s.rng.Uint64N(101)
	}

	const gib = 1 << 30
	total := uint64(16 * gib)
	used := total/4 + s.rng.Uint64N(total/2)
	snap.Memory = snapshot.Memory{
		Total:     total,
		Used:      used,
		Free:      total - used,
		Cached:    s.rng.Uint64N(2 * gib),
		Available: total - used + s.rng.Uint64N(gib),
		Buffers:   s.rng.Uint64N(256 << 20),
	}

	count := min(s.layout.MaxProcesses, len(syntheticCommands))
	snap.Processes = make([]snapshot.Process, count)
	states := []int64{'R', 'S', 'S', 'S', 'D', 'I'}
	for i := range snap.Processes {
		snap.Processes[i] = snapshot.Process{
			PID:         int32(1 + i*97),
			Command:     syntheticCommands[i],
			CPUUsage:    s.rng.Uint64N(100),
			MemoryUsage: s.rng.Uint64N(512 << 20),
			State:       states[s.rng.IntN(len(states))],
			Priority:    120,
			Nice:        0,
		}
	}
	return snap
}
