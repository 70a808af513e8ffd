/*
Package observability turns session pool events into metrics, traces and logs.

Every constructor returns a domain.PoolHooks value; combine them with Chain
and hand the result to session.WithHooks:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := observability.Chain(
		metrics.Hooks(),
		observability.TraceHooks(otel.Tracer("hs2pool")),
		observability.LogHooks(logger),
	)
	mgr := session.NewManager(store, gateway, session.WithHooks(hooks))
*/
package observability
