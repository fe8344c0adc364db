// Package buffer provides a generic circular buffer.
//
// The buffer is used by the history window to keep the last N samples:
//
//	buf, err := buffer.NewCircularBuffer[Sample](300,
//	    buffer.WithOverflowPolicy[Sample](buffer.DropOldest),
//	    buffer.WithMetrics[Sample](registry, "history"),
//	)
//	_ = buf.Write(sample)
//	recent := buf.Items() // copy, oldest first
//
// With DropOldest the oldest item is evicted before the new one is stored, so
// Size never exceeds Capacity, even to a concurrent observer. All methods are
// safe for concurrent use; Items returns a copy that may be read while writes
// continue.
package buffer
