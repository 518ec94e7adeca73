// Package metricregistry provides the metric registry backing the
// request monitor's timers and meters, with Prometheus Remote Write
// support.
//
// Design goals:
//   - Minimal overhead and allocations for hot paths
//   - Thread-safe primitives built with atomic operations
//   - Bounded memory with TTL and max-series limits for labeled series
//   - Prometheus-compatible format with standard labels
//
// Basic usage:
//
//	cfg := metricregistry.DefaultConfig()
//	cfg.ServiceName = "checkout"
//	cfg.RemoteWriteURL = "http://prometheus:9090/api/v1/write"
//
//	registry, err := metricregistry.NewRegistry(cfg)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	registry.Start()
//	defer registry.Stop()
//
//	timer := registry.Timer(metricregistry.Name("response_time_server").Tag("request_name", "All").Layer("All").Build())
//	timer.Update(12 * time.Millisecond)
package metricregistry
