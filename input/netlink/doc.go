// Package netlink reads binary snapshot frames from the kernel producer and
// hands decoded snapshots to a handler.
//
// # Sources
//
// A Source yields one frame per Read. Two implementations are provided:
//
//   - the netlink socket (Linux only): a raw AF_NETLINK socket on a custom
//     protocol (31 by default) joined to multicast group 1. Reads poll with a
//     short timeout and report ErrWouldBlock when no frame is pending.
//   - the synthetic source: generates plausible snapshots at a fixed interval
//     and encodes them exactly as the kernel module would. Useful for running
//     the daemon on machines without the module loaded.
//
// # Read loop
//
// Input.Run loops until its context is cancelled:
//
//	would-block         → sleep IdleBackoff (100ms), retry
//	other read error    → count, log (rate limited), sleep ErrorBackoff (1s)
//	short/bad frame     → count decode failure by kind, log (rate limited), drop
//	good frame          → handler(ctx, snapshot)
//
// No error from a single frame or read ends the loop. Frames are processed
// strictly in arrival order and the handler runs on the loop goroutine, so a
// slow handler delays the next read; the kernel drops multicast frames for a
// socket whose receive queue is full.
//
// # Frame format
//
// Each frame is a 16-byte nlmsghdr followed by the payload described by
// snapshot.Layout. When the header length field is consistent with the frame
// it bounds the payload, otherwise the rest of the frame is used.
package netlink
