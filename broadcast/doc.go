// Package broadcast implements the subscriber registry and fan-out.
//
// A Registry holds the live Subscribers (WebSocket connections, the NATS sink).
// Broadcast takes a snapshot of the membership under the lock, releases it,
// serialises the message once through the supplied build function, and sends
// the same bytes to every member concurrently. Each send is bounded by the
// configured SendTimeout. Members whose send fails or times out are removed
// together after the pass, so one dead subscriber never blocks or aborts
// delivery to the others.
//
// When the registry is empty Broadcast returns immediately without calling
// build.
//
//	reg, _ := broadcast.NewRegistry(broadcast.Deps{Logger: logger})
//	id, _ := reg.Register(sub)
//	res, err := reg.Broadcast(ctx, func() ([]byte, error) { return json.Marshal(msg) })
//	reg.Unregister(id) // idempotent
package broadcast
