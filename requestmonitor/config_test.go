package requestmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticConfigurationFallsBackToDefault(t *testing.T) {
	c := NewStaticConfiguration()
	assert.Equal(t, "fallback", c.String(KeyApplicationName, "fallback"))
	assert.Equal(t, 7, c.Int(KeyWarmupRequests, 7))
	assert.True(t, c.Bool(KeyActive, true))
	assert.Equal(t, 12.5, c.Float64(KeyProfilerMinExecPercent, 12.5))
	assert.Nil(t, c.StringSet(KeyESOnlyReportWithName, nil))
}

func TestStaticConfigurationReturnsSetValues(t *testing.T) {
	c := NewStaticConfiguration().
		SetString(KeyApplicationName, "checkout").
		SetInt(KeyWarmupRequests, 3).
		SetBool(KeyActive, false).
		SetFloat64(KeyProfilerMinExecPercent, 0.5).
		SetStringSet(KeyESOnlyReportWithName, []string{"GET /a"})

	assert.Equal(t, "checkout", c.String(KeyApplicationName, ""))
	assert.Equal(t, 3, c.Int(KeyWarmupRequests, 0))
	assert.False(t, c.Bool(KeyActive, true))
	assert.Equal(t, 0.5, c.Float64(KeyProfilerMinExecPercent, 0))
	assert.Equal(t, []string{"GET /a"}, c.StringSet(KeyESOnlyReportWithName, nil))
}
