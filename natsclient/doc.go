// Package natsclient manages the daemon's optional NATS connection.
//
// Client wraps a core NATS connection with status tracking, health callbacks,
// bounded connect retries and a drain-then-close shutdown. Only plain
// publish/subscribe is used; snapshots are ephemeral so nothing is persisted
// in JetStream.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("sysmonitord"),
//	    natsclient.WithLogger(logger),
//	)
//	if err := client.ConnectWithRetry(ctx, retry.Quick()); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "sysmon.metrics", payload)
//
// Status transitions follow the nats.go connection handlers:
// Disconnected → Connecting → Connected ⇄ Reconnecting → Closed.
//
// When WithMetrics is given, the connection state and reconnect count are
// reported through the daemon-level metric.Metrics.
//
// # Testing
//
// NewTestClient starts a NATS server in a container via testcontainers-go and
// returns a connected Client. Tests that use it are gated behind
// INTEGRATION_TESTS.
package natsclient
