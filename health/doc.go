// Package health tracks component health and aggregates it for the /health
// endpoint.
//
// Three states are reported: healthy, degraded (running but recording errors,
// for example a netlink read error followed by backoff) and unhealthy. The
// aggregate of a set of statuses is unhealthy if any member is, degraded if any
// member is degraded, healthy otherwise.
//
//	monitor := health.NewMonitor()
//	monitor.Update("netlink", health.FromComponentHealth("netlink", input.Health()))
//	status := monitor.AggregateHealth("sysmonitord")
package health
