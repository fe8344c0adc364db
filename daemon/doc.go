// Package daemon wires the netlink input, the history window, the subscriber
// registry and the subscriber transports into one process and owns its
// lifecycle.
//
// A Daemon moves through four states:
//
//	Starting -> Running -> Draining -> Stopped
//
// Starting acquires every resource: the netlink source, the WebSocket
// listener, the metrics listener and, when enabled, the NATS connection. Any
// failure there is fatal (errors.IsFatal) and Run returns without entering
// Running.
//
// Running drives the read loop and the listeners concurrently in an errgroup.
// Every decoded snapshot goes through Pipeline.Handle: its derived scalars are
// appended to the history window, then one JSON message is built and sent to
// every subscriber. The message is only built when at least one subscriber is
// registered.
//
// Draining starts when the context passed to Run is cancelled (or a listener
// fails). The pipeline stops admitting frames, the registry stops admitting
// subscribers, every subscriber is closed within the drain timeout and the
// netlink source is released. Release errors are joined and returned once the
// daemon reaches Stopped; they never prevent it from getting there.
package daemon
