package daemon

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/kuhl33d/ODC-Embedded-Linux/history"
	"github.com/kuhl33d/ODC-Embedded-Linux/snapshot"
)

// Message is the JSON document broadcast for every decoded snapshot.
type Message struct {
	CPUUsage   []uint64      `json:"cpu_usage"`
	CPUAverage float64       `json:"cpu_average"`
	Memory     MemoryInfo    `json:"memory"`
	Processes  []ProcessInfo `json:"processes"`
	Timestamp  string        `json:"timestamp"`
	History    HistoryInfo   `json:"history"`
}

// MemoryInfo carries raw byte counts plus human-readable strings for the
// headline values.
type MemoryInfo struct {
	Total          uint64  `json:"total"`
	Used           uint64  `json:"used"`
	Free           uint64  `json:"free"`
	Cached         uint64  `json:"cached"`
	Available      uint64  `json:"available"`
	Buffers        uint64  `json:"buffers"`
	Percent        float64 `json:"percent"`
	TotalFormatted string  `json:"total_formatted"`
	UsedFormatted  string  `json:"used_formatted"`
	FreeFormatted  string  `json:"free_formatted"`
}

// ProcessInfo is one process row.
type ProcessInfo struct {
	PID             int32  `json:"pid"`
	Name            string `json:"name"`
	CPUUsage        uint64 `json:"cpu_usage"`
	MemoryUsage     uint64 `json:"memory_usage"`
	MemoryFormatted string `json:"memory_formatted"`
	State           string `json:"state"`
	Priority        uint64 `json:"priority"`
	Nice            uint64 `json:"nice"`
}

// HistoryInfo is the recent-history window, oldest first. The three arrays
// always have the same length.
type HistoryInfo struct {
	CPU       []float64 `json:"cpu"`
	Memory    []float64 `json:"memory"`
	Timestamp []string  `json:"timestamp"`
}

// BuildMessage assembles the broadcast document. Processes are ordered by CPU
// usage, highest first; ties keep their kernel order. snap is not modified.
func BuildMessage(snap *snapshot.Snapshot, view history.View) Message {
	procs := make([]ProcessInfo, len(snap.Processes))
	for i, p := range snap.Processes {
		procs[i] = ProcessInfo{
			PID:             p.PID,
			Name:            p.Command,
			CPUUsage:        p.CPUUsage,
			MemoryUsage:     p.MemoryUsage,
			MemoryFormatted: snapshot.FormatBytes(p.MemoryUsage),
			State:           p.StateChar(),
			Priority:        p.Priority,
			Nice:            p.Nice,
		}
	}
	slices.SortStableFunc(procs, func(a, b ProcessInfo) int {
		switch {
		case a.CPUUsage > b.CPUUsage:
			return -1
		case a.CPUUsage < b.CPUUsage:
			return 1
		}
		return 0
	})

	mem := snap.Memory
	hist := HistoryInfo{
		CPU:       append([]float64{}, view.CPU...),
		Memory:    append([]float64{}, view.Memory...),
		Timestamp: make([]string, len(view.Timestamp)),
	}
	for i, ts := range view.Timestamp {
		hist.Timestamp[i] = formatTime(ts)
	}

	return Message{
		CPUUsage:   append([]uint64{}, snap.CPUUsage...),
		CPUAverage: snap.CPUAverage(),
		Memory: MemoryInfo{
			Total:          mem.Total,
			Used:           mem.Used,
			Free:           mem.Free,
			Cached:         mem.Cached,
			Available:      mem.Available,
			Buffers:        mem.Buffers,
			Percent:        snap.MemoryPercent(),
			TotalFormatted: snapshot.FormatBytes(mem.Total),
			UsedFormatted:  snapshot.FormatBytes(mem.Used),
			FreeFormatted:  snapshot.FormatBytes(mem.Free),
		},
		Processes: procs,
		Timestamp: formatTime(snap.Timestamp),
		History:   hist,
	}
}

// EncodeMessage builds and serializes the message in one step.
func EncodeMessage(snap *snapshot.Snapshot, view history.View) ([]byte, error) {
	return json.Marshal(BuildMessage(snap, view))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
