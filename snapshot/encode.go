package snapshot

import (
	"encoding/binary"
	"fmt"

	errs "github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

// Encode packs a snapshot into a payload of the given layout, the way the
// kernel module does. CPU entries beyond the layout are an error; missing ones
// are zero. Commands longer than CommandLen bytes are cut.
func Encode(layout Layout, s *Snapshot) ([]byte, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(s.CPUUsage) > layout.CPUs {
		return nil, errs.WrapInvalid(fmt.Errorf("%w: %d cpu entries for %d cpus",
			errs.ErrInvalidData, len(s.CPUUsage), layout.CPUs), "Encoder", "Encode", "pack cpu usage")
	}
	if len(s.Processes) > layout.MaxProcesses {
		return nil, errs.WrapInvalid(fmt.Errorf("%w: %d processes for %d slots",
			errs.ErrInvalidData, len(s.Processes), layout.MaxProcesses), "Encoder", "Encode", "pack processes")
	}

	buf := make([]byte, layout.Size())
	le := binary.LittleEndian

	for i, v := range s.CPUUsage {
		le.PutUint64(buf[8*i:], v)
	}

	m := buf[layout.memoryOffset():]
	le.PutUint64(m[0:], s.Memory.Total)
	le.PutUint64(m[8:], s.Memory.Used)
	le.PutUint64(m[16:], s.Memory.Free)
	le.PutUint64(m[24:], s.Memory.Cached)
	le.PutUint64(m[32:], s.Memory.Available)
	le.PutUint64(m[40:], s.Memory.Buffers)

	for i, p := range s.Processes {
		rec := buf[layout.processOffset(i):]
		le.PutUint32(rec[procPIDOff:], uint32(p.PID))
		le.PutUint64(rec[procCPUOff:], p.CPUUsage)
		copy(rec[procCommOff:procCommOff+CommandLen], p.Command)
		le.PutUint64(rec[procMemOff:], p.MemoryUsage)
		le.PutUint64(rec[procStateOff:], uint64(p.State))
		le.PutUint64(rec[procPriorityOff:], p.Priority)
		le.PutUint64(rec[procNiceOff:], p.Nice)
	}

	le.PutUint32(buf[layout.countOffset():], uint32(len(s.Processes)))
	le.PutUint64(buf[layout.timestampOffset():], uint64(s.Timestamp.Unix()))
	return buf, nil
}
