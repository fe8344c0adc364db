// Package metric wraps a Prometheus registry for the daemon.
//
// Components register their own collectors under a service name so that a
// duplicate registration is reported instead of panicking:
//
//	frames := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: metric.Namespace, Subsystem: "netlink", Name: "frames_total",
//	})
//	if err := registry.RegisterCounter("netlink", "frames_total", frames); err != nil {
//	    return err
//	}
//
// Server exposes the registry on /metrics together with a JSON /health
// endpoint fed by a HealthFunc.
package metric
