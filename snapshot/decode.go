package snapshot

import (
	"encoding/binary"
	"fmt"
	"time"

	errs "github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

// maxUnixSeconds is 9999-12-31T23:59:59Z, the last instant RFC 3339 can render.
const maxUnixSeconds = 253402300799

// DecodeError describes a rejected frame.
type DecodeError struct {
	Kind         errs.DecodeKind
	Size         int
	Expected     int
	ProcessCount int32
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case errs.DecodeTruncated:
		return fmt.Sprintf("payload is %d bytes, layout requires %d", e.Size, e.Expected)
	case errs.DecodeInvalidProcessCount:
		return fmt.Sprintf("process count %d outside [0, %d]", e.ProcessCount, e.Expected)
	default:
		return fmt.Sprintf("cannot decode %d byte payload", e.Size)
	}
}

// Unwrap exposes the sentinel for the failure kind.
func (e *DecodeError) Unwrap() error {
	return e.Kind.Sentinel()
}

// Decoder decodes frames of a fixed layout. The zero Now uses time.Now.
type Decoder struct {
	Layout Layout
	Now    func() time.Time
}

// NewDecoder validates the layout and returns a decoder for it.
func NewDecoder(layout Layout) (*Decoder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{Layout: layout, Now: time.Now}, nil
}

// Decode decodes payload with the given layout.
func Decode(layout Layout, payload []byte) (*Snapshot, error) {
	d := Decoder{Layout: layout}
	return d.Decode(payload)
}

// Decode turns one payload into a Snapshot. It has no side effects.
func (d *Decoder) Decode(payload []byte) (*Snapshot, error) {
	l := d.Layout
	if l.Validate() != nil {
		return nil, d.fail(&DecodeError{Kind: errs.DecodeOther, Size: len(payload)})
	}
	if len(payload) != l.Size() {
		return nil, d.fail(&DecodeError{Kind: errs.DecodeTruncated, Size: len(payload), Expected: l.Size()})
	}

	le := binary.LittleEndian

	count := int32(le.Uint32(payload[l.countOffset():]))
	if count < 0 || int(count) > l.MaxProcesses {
		return nil, d.fail(&DecodeError{
			Kind:         errs.DecodeInvalidProcessCount,
			Size:         len(payload),
			Expected:     l.MaxProcesses,
			ProcessCount: count,
		})
	}

	s := &Snapshot{
		CPUUsage:  make([]uint64, l.CPUs),
		Processes: make([]Process, count),
	}

	for i := range s.CPUUsage {
		s.CPUUsage[i] = le.Uint64(payload[8*i:])
	}

	m := payload[l.memoryOffset():]
	s.Memory = Memory{
		Total:     le.Uint64(m[0:]),
		Used:      le.Uint64(m[8:]),
		Free:      le.Uint64(m[16:]),
		Cached:    le.Uint64(m[24:]),
		Available: le.Uint64(m[32:]),
		Buffers:   le.Uint64(m[40:]),
	}

	for i := range s.Processes {
		rec := payload[l.processOffset(i) : l.processOffset(i)+ProcessRecordSize]
		s.Processes[i] = Process{
			PID:         int32(le.Uint32(rec[procPIDOff:])),
			CPUUsage:    le.Uint64(rec[procCPUOff:]),
			Command:     SanitizeCommand(rec[procCommOff : procCommOff+CommandLen]),
			MemoryUsage: le.Uint64(rec[procMemOff:]),
			State:       int64(le.Uint64(rec[procStateOff:])),
			Priority:    le.Uint64(rec[procPriorityOff:]),
			Nice:        le.Uint64(rec[procNiceOff:]),
		}
	}

	s.Timestamp = d.timestamp(le.Uint64(payload[l.timestampOffset():]))
	return s, nil
}

func (d *Decoder) timestamp(secs uint64) time.Time {
	if secs > maxUnixSeconds {
		return d.now().UTC()
	}
	return time.Unix(int64(secs), 0).UTC()
}

func (d *Decoder) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Decoder) fail(de *DecodeError) error {
	return errs.WrapInvalid(de, "Decoder", "Decode", "decode "+de.Kind.String()+" frame")
}
