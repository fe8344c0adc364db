// Package snapshot decodes the binary metrics frames emitted by the kernel
// monitor module into immutable Snapshot values.
//
// # Frame layout
//
// A payload (the bytes after the 16-byte netlink header) is little-endian and
// laid out in fixed order with no padding:
//
//	cpu_usage        u64 x CPUs
//	memory           u64 x 6   total, used, free, cached, available, buffers
//	processes        60 bytes x MaxProcesses, one packed record per slot:
//	    pid          i32
//	    cpu_usage    u64
//	    comm         [16]byte
//	    memory_usage u64
//	    state        i64 (character code)
//	    priority     u64
//	    nice         u64
//	process_count    i32
//	timestamp        u64 epoch seconds
//
// Fields are read at explicit offsets; nothing depends on Go struct alignment.
//
// # Failures
//
// Decode returns an error classified as invalid (see the errors package) for a
// payload whose size differs from Layout.Size or whose process_count is outside
// [0, MaxProcesses]. Use errors.As with *DecodeError to get the kind and size.
// A timestamp that cannot be represented is replaced with the current time and
// is not reported.
package snapshot
