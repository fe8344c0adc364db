// Package sysmon is a system metrics broadcaster for embedded Linux targets.
//
// A kernel module samples per-CPU utilization, memory statistics and a
// bounded process table about once a second and multicasts each sample as a
// fixed-layout binary frame on a netlink socket. The sysmonitord daemon in
// this module reads those frames, decodes them, keeps a short rolling history
// of derived CPU and memory percentages, and pushes every snapshot as a JSON
// document to any number of WebSocket clients and, optionally, a NATS
// subject.
//
// # Architecture
//
//	┌──────────────────┐   netlink (protocol 31, group 1)
//	│  kernel module   │ ─────────────────────────────────┐
//	└──────────────────┘                                  ↓
//	                                          ┌──────────────────────┐
//	                                          │    input/netlink     │  poll + backoff,
//	                                          │  (read loop, Source) │  per-frame errors
//	                                          └──────────┬───────────┘  never stop the loop
//	                                                     │ snapshot.Decode
//	                                                     ↓
//	                                          ┌──────────────────────┐
//	                                          │   daemon.Pipeline    │
//	                                          │ history.Window (300) │
//	                                          └──────────┬───────────┘
//	                                                     │ broadcast.Registry
//	                                   ┌─────────────────┼──────────────────┐
//	                                   ↓                 ↓                  ↓
//	                             ┌──────────┐      ┌──────────┐       ┌───────────┐
//	                             │ ws client│      │ ws client│  ...  │ NATS sink │
//	                             └──────────┘      └──────────┘       └───────────┘
//
// Every subscriber gets the same serialized bytes for a given snapshot, each
// send is bounded by a timeout, and a subscriber whose send fails is removed
// without affecting the others. Nothing is serialized while nobody listens.
//
// # Packages
//
// Domain:
//   - snapshot: binary frame layout, Decode/Encode, byte formatting
//   - history: fixed-capacity window of CPU%, memory% and timestamps
//   - broadcast: subscriber registry and fan-out
//   - input/netlink: netlink socket and synthetic frame sources, read loop
//   - output/websocket: WebSocket listener feeding the registry
//   - output/natspub: NATS subject as a registry subscriber
//   - daemon: lifecycle controller (Starting, Running, Draining, Stopped),
//     outbound message builder and its JSON schema
//
// Infrastructure:
//   - config: defaults, JSON/YAML file layers, SYSMON_* environment overrides
//   - errors: classified errors (transient, invalid, fatal) and decode kinds
//   - metric: Prometheus registry plus the /metrics and /health server
//   - health: health statuses and their aggregation
//   - natsclient: NATS connection with retry, status tracking and drain
//   - component: Open/Run/Stop contract shared by inputs and outputs
//   - pkg/buffer: generic circular buffer behind the history window
//   - pkg/retry: exponential backoff with jitter
//
// # Running
//
//	# against the kernel module (needs CAP_NET_ADMIN or root)
//	./bin/sysmonitord --config configs/sysmonitord.yaml
//
//	# without the kernel module
//	./bin/sysmonitord --source=synthetic --log-format=text
//
//	# watch the stream
//	./bin/sysmon-tail --url ws://localhost:8765/ws --top 5
//
// SIGINT or SIGTERM moves the daemon to Draining: new subscribers are
// refused, every connected subscriber is closed, then the netlink socket is
// released. Startup failures (socket, listener, NATS) exit with status 1.
package sysmon
