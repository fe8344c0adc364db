package component

import (
	"context"
	"time"
)

// LifecycleComponent is a component with an acquire/run/release lifecycle:
//   - Open(ctx) acquires resources (sockets, listeners, connections). A failure
//     here is a setup failure.
//   - Run(ctx) blocks until ctx is cancelled or an unrecoverable error occurs.
//   - Stop(timeout) releases resources, waiting at most timeout.
type LifecycleComponent interface {
	Discoverable
	Open(ctx context.Context) error
	Run(ctx context.Context) error
	Stop(timeout time.Duration) error
}
