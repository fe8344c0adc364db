// Package errors provides standardized error handling for the monitor daemon.
//
// # Classification
//
// Every error that crosses a component boundary is classified:
//
//   - Transient: would-block reads, broken subscriber channels, send timeouts.
//     The producing loop backs off and keeps running.
//   - Invalid: frames that do not decode (truncated payload, process count out
//     of range). The frame is dropped and the loop continues.
//   - Fatal: setup failures such as an unavailable netlink protocol or a listener
//     that cannot bind. The daemon exits with a non-zero status.
//
// # Wrapping
//
// Errors are wrapped with the "component.method: action failed: %w" pattern:
//
//	if err := unix.Bind(fd, addr); err != nil {
//	    return errors.WrapFatal(err, "NetlinkInput", "Open", "bind netlink socket")
//	}
//
// The wrapped error keeps its chain, so errors.Is and errors.As from the
// standard library keep working on sentinels such as ErrTruncated.
//
// # Decode failures
//
// DecodeKind enumerates why a frame was rejected. The snapshot package returns a
// *snapshot.DecodeError carrying the kind and the observed size, wrapped with
// WrapInvalid so IsInvalid reports true.
package errors
