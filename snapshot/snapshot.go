package snapshot

import (
	"time"
)

// Memory holds the system memory counters in bytes. Used+Free may exceed
// Total; the producer does not guarantee consistency.
type Memory struct {
	Total     uint64
	Used      uint64
	Free      uint64
	Cached    uint64
	Available uint64
	Buffers   uint64
}

// Process is one sampled process slot.
type Process struct {
	PID         int32
	Command     string
	CPUUsage    uint64
	MemoryUsage uint64
	State       int64
	Priority    uint64
	Nice        uint64
}

// StateChar renders the state code as a single character, "?" when the code
// is not printable ASCII.
func (p Process) StateChar() string {
	if p.State < 0x20 || p.State > 0x7e {
		return "?"
	}
	return string(rune(p.State))
}

// Snapshot is one decoded frame. Values are never modified after Decode
// returns them.
type Snapshot struct {
	CPUUsage  []uint64
	Memory    Memory
	Processes []Process
	Timestamp time.Time
}

// CPUAverage is the mean of the CPU entries that are strictly positive.
// Idle CPUs are excluded; the result is 0 when none is active.
func (s *Snapshot) CPUAverage() float64 {
	var sum float64
	active := 0
	for _, v := range s.CPUUsage {
		if v > 0 {
			sum += float64(v)
			active++
		}
	}
	if active == 0 {
		return 0
	}
	return sum / float64(active)
}

// MemoryPercent returns used/total*100, or 0 when total is 0.
func (s *Snapshot) MemoryPercent() float64 {
	if s.Memory.Total == 0 {
		return 0
	}
	return float64(s.Memory.Used) / float64(s.Memory.Total) * 100
}
