package requestmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestTraceMintsIDWhenEmpty(t *testing.T) {
	trace := NewRequestTrace("", EagerName("GET /orders"))
	assert.NotEmpty(t, trace.ID)
	assert.Equal(t, "GET /orders", trace.Name())
	assert.True(t, trace.HasName())
}

func TestNewRequestTraceKeepsGivenID(t *testing.T) {
	trace := NewRequestTrace("explicit-id", EagerName("GET /orders"))
	assert.Equal(t, "explicit-id", trace.ID)
}

func TestEmptyNameTraceHasNoName(t *testing.T) {
	trace := NewRequestTrace("", EagerName(""))
	assert.False(t, trace.HasName())
}

func TestNewRequestTraceInitializesMaps(t *testing.T) {
	trace := NewRequestTrace("", EagerName("x"))
	require.NotNil(t, trace.Headers)
	require.NotNil(t, trace.Parameters)
	trace.Parameters["k"] = "v"
	assert.Equal(t, "v", trace.Parameters["k"])
}
