package metricregistry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Global default registry, offered as sugar for applications that
// only ever need one registry. The request monitor engine itself
// never touches this package state — it is handed a *Registry (wrapped
// in requestmonitor.MetricRegistryBacking, or anything else satisfying
// requestmonitor.Registry) explicitly at construction, so tests can
// always build isolated engines.
var (
	global     *Registry
	globalOnce sync.Once
	globalMu   sync.Mutex
)

// Init builds the default registry and starts its drain loop. Only
// the first call takes effect; subsequent calls are no-ops unless
// Shutdown has been called in between.
func Init(config Config) error {
	var initErr error
	globalOnce.Do(func() {
		r, err := NewRegistry(config)
		if err != nil {
			initErr = err
			return
		}
		if err := r.Start(); err != nil {
			initErr = err
			return
		}
		globalMu.Lock()
		global = r
		globalMu.Unlock()
		if config.Logger != nil {
			config.Logger.Info("metric registry initialized",
				zap.String("namespace", config.Namespace),
				zap.String("subsystem", config.Subsystem),
				zap.String("service", config.ServiceName))
		}
	})
	return initErr
}

// Default returns the global registry, or nil if Init was never called.
func Default() *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Shutdown stops the global registry and allows a later Init call to
// rebuild it.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		global.Stop()
		global = nil
	}
	globalOnce = sync.Once{}
}

// RefreshConnection forces a DNS re-resolve of the remote write
// endpoint on the default registry.
func RefreshConnection() error {
	r := Default()
	if r == nil {
		return fmt.Errorf("metric registry not initialized")
	}
	if impl, ok := r.exporter.(*remoteWriteExporter); ok {
		impl.RefreshDNS(true)
		return nil
	}
	return fmt.Errorf("unable to refresh connection: implementation not available")
}

// ForceWrite immediately drains the default registry to its remote
// write endpoint, useful for health checks and tests.
func ForceWrite() error {
	r := Default()
	if r == nil {
		return fmt.Errorf("metric registry not initialized")
	}
	if impl, ok := r.exporter.(*remoteWriteExporter); ok {
		return impl.writeMetrics()
	}
	return fmt.Errorf("unable to force write: implementation not available")
}
