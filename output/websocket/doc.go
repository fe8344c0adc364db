// Package websocket serves the push-only WebSocket endpoint that consumers
// (terminal and web dashboards) connect to.
//
// # Overview
//
// Output listens on a TCP address and upgrades requests on its configured
// paths (by default "/" and "/ws"). Every accepted connection becomes a
// subscriber in the shared broadcast.Registry; the registry, not this package,
// decides what is sent and when. The connection is removed from the registry
// when the peer goes away, when a send fails, or during shutdown.
//
// # Client lifecycle
//
//  1. HTTP upgrade on a configured path
//  2. Register with the broadcast registry (refused while draining)
//  3. A read pump discards inbound frames and detects close
//  4. Pings every PingInterval; a missing pong past ReadTimeout ends the pump
//  5. Unregister closes the connection exactly once
//
// Writes to a single connection are serialised with a per-connection mutex;
// gorilla/websocket does not allow concurrent writers.
//
// # Configuration
//
//   - Addr: listen address (default "localhost:8765")
//   - Paths: upgrade paths (default ["/", "/ws"])
//   - PingInterval: default 30s
//   - ReadTimeout: default 60s
//   - WriteTimeout: upper bound for one write, default 10s
//
// # Metrics
//
// When a metric.MetricsRegistry is supplied the component exports
// sysmon_websocket_clients_connected, sysmon_websocket_connections_total,
// sysmon_websocket_disconnections_total{reason}, sysmon_websocket_messages_sent_total,
// sysmon_websocket_bytes_sent_total and sysmon_websocket_errors_total{error_type}.
package websocket
