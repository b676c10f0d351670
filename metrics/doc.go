// Package metrics exposes Prometheus collectors for the warm pools and the
// execution dispatcher, and the HTTP server that serves them.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
//
// Usage:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	m.SetPoolState("python", 2, 1)
//
//	srv := metrics.NewServer(logger, ":9090", prometheus.DefaultGatherer)
//	srv.Start()
//	defer srv.Stop(context.Background())
package metrics
