package snapshot

import (
	"fmt"

	errs "github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

const (
	// CommandLen is the fixed size of the command name buffer.
	CommandLen = 16
	// ProcessRecordSize is the packed size of one process slot.
	ProcessRecordSize = 4 + 8 + CommandLen + 8 + 8 + 8 + 8

	memoryFields = 6
	trailerSize  = 4 + 8

	// Offsets within a process record.
	procPIDOff      = 0
	procCPUOff      = 4
	procCommOff     = 12
	procMemOff      = procCommOff + CommandLen
	procStateOff    = procMemOff + 8
	procPriorityOff = procStateOff + 8
	procNiceOff     = procPriorityOff + 8
)

// Default dimensions used by the kernel module.
const (
	DefaultCPUs         = 32
	DefaultMaxProcesses = 100
)

// Layout fixes the dimensions of a frame. Both sides of the transport must
// agree on it; there is no version field in the frame.
type Layout struct {
	CPUs         int `json:"cpus" yaml:"cpus"`
	MaxProcesses int `json:"max_processes" yaml:"max_processes"`
}

// DefaultLayout returns the layout of the stock kernel module build.
func DefaultLayout() Layout {
	return Layout{CPUs: DefaultCPUs, MaxProcesses: DefaultMaxProcesses}
}

// Validate checks the layout dimensions.
func (l Layout) Validate() error {
	if l.CPUs <= 0 {
		return errs.WrapInvalid(fmt.Errorf("%w: cpus must be positive, got %d", errs.ErrInvalidConfig, l.CPUs),
			"Layout", "Validate", "check cpus")
	}
	if l.MaxProcesses < 0 {
		return errs.WrapInvalid(fmt.Errorf("%w: max_processes must not be negative, got %d",
			errs.ErrInvalidConfig, l.MaxProcesses), "Layout", "Validate", "check max_processes")
	}
	return nil
}

// Size returns the exact payload size in bytes.
func (l Layout) Size() int {
	return l.processesOffset() + ProcessRecordSize*l.MaxProcesses + trailerSize
}

func (l Layout) memoryOffset() int { return 8 * l.CPUs }

func (l Layout) processesOffset() int { return l.memoryOffset() + 8*memoryFields }

func (l Layout) processOffset(i int) int { return l.processesOffset() + ProcessRecordSize*i }

func (l Layout) countOffset() int { return l.processOffset(l.MaxProcesses) }

func (l Layout) timestampOffset() int { return l.countOffset() + 4 }
