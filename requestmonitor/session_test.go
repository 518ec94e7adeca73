package requestmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBootstrapEnsureIsExactlyOnce(t *testing.T) {
	var b sessionBootstrap
	cfg := NewStaticConfiguration().SetString(KeyApplicationName, "checkout").SetString(KeyInstanceName, "checkout-1")

	first := b.ensure(cfg, &MethodRequest{})
	second := b.ensure(NewStaticConfiguration().SetString(KeyApplicationName, "ignored"), &MethodRequest{})

	require.Same(t, first, second)
	assert.Equal(t, "checkout", first.ApplicationName)
	assert.Equal(t, "checkout-1", first.InstanceName)
}

func TestSessionBootstrapUpgradesInstanceNameFromAdapter(t *testing.T) {
	var b sessionBootstrap
	cfg := NewStaticConfiguration()

	session := b.ensure(cfg, &MethodRequest{})
	assert.Equal(t, "", session.InstanceName)

	upgraded := b.ensure(cfg, namedInstance{name: "worker-3"})
	assert.Equal(t, "worker-3", upgraded.InstanceName)
}

type namedInstance struct {
	name string
}

func (n namedInstance) InstanceName() string                    { return n.name }
func (n namedInstance) CreateRequestTrace() *RequestTrace        { return nil }
func (n namedInstance) Execute() (interface{}, error)            { return nil, nil }
func (n namedInstance) OnPostExecute(ctx *ExecutionContext)      {}
func (n namedInstance) MonitorForwardedExecutions() bool         { return false }
