package requestmonitor

import (
	"os"
	"sync"
)

// MeasurementSession holds application/host/instance identity, set
// exactly once for the process. Concurrent first callers are
// serialised; only the first allocates.
type MeasurementSession struct {
	ApplicationName string
	HostName        string
	InstanceName    string
}

type sessionBootstrap struct {
	mu      sync.Mutex
	session *MeasurementSession
}

// ensure returns the existing session, or lazily creates one from
// config (and, if the config has no instance name, asks adapter for
// one). Guarded by a single-entry lock so concurrent first monitored
// requests don't race to create two sessions.
func (b *sessionBootstrap) ensure(config Configuration, adapter MonitoredRequest) *MeasurementSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		if b.session.InstanceName == "" {
			if name := adapter.InstanceName(); name != "" {
				b.session.InstanceName = name
			}
		}
		return b.session
	}

	instanceName := config.String(KeyInstanceName, "")
	if instanceName == "" {
		instanceName = adapter.InstanceName()
	}

	b.session = &MeasurementSession{
		ApplicationName: config.String(KeyApplicationName, ""),
		HostName:        localHostName(),
		InstanceName:    instanceName,
	}
	return b.session
}

func (b *sessionBootstrap) get() *MeasurementSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// localHostName resolves the local host name, recovered from the
// original's MeasurementSession.getNameOfLocalHost(); falls back to
// "unknown" when the OS lookup fails (e.g. in a sandboxed container
// without a resolvable hostname).
func localHostName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
