package buffer

import (
	"sync/atomic"
)

// Statistics tracks buffer activity with atomic counters.
type Statistics struct {
	writes      atomic.Int64
	reads       atomic.Int64
	drops       atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a write.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a read.
func (s *Statistics) Read() { s.reads.Add(1) }

// Drop records an item dropped by the overflow policy.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the current size and raises the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		prev := s.maxSize.Load()
		if size <= prev || s.maxSize.CompareAndSwap(prev, size) {
			return
		}
	}
}

// Writes returns the total number of writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the total number of dropped items.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the last recorded size.
func (s *Statistics) CurrentSize() int64 { return s.currentSize.Load() }

// MaxSize returns the largest size observed.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// StatsSummary is a point-in-time copy of the counters.
type StatsSummary struct {
	Writes      int64 `json:"writes"`
	Reads       int64 `json:"reads"`
	Drops       int64 `json:"drops"`
	CurrentSize int64 `json:"current_size"`
	MaxSize     int64 `json:"max_size"`
}

// Summary returns a copy of all counters.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
	}
}
