package metricregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistogramCollectorCountsObservations(t *testing.T) {
	h := NewHistogramCollector("response_time")
	labels := []string{"request_name", "GET /orders", "layer", "All"}

	h.Observe("response_time_server", labels, 12*time.Millisecond)
	h.Observe("response_time_server", labels, 8*time.Millisecond)

	assert.Equal(t, int64(2), h.Count("response_time_server", labels))
	assert.Equal(t, int64(0), h.Count("response_time_server", []string{"request_name", "GET /other"}))
}

func TestHistogramCollectorRemoveClearsSeries(t *testing.T) {
	h := NewHistogramCollector("response_time")
	labels := []string{"request_name", "GET /orders"}

	h.Observe("response_time_server", labels, time.Millisecond)
	h.Remove("response_time_server", labels)

	assert.Equal(t, int64(0), h.Count("response_time_server", labels))
}

func TestHistogramCollectorBucketsAreCumulative(t *testing.T) {
	h := NewHistogramCollector("response_time")
	labels := []string{"request_name", "All"}

	h.Observe("response_time_server", labels, 1*time.Millisecond)
	h.Observe("response_time_server", labels, 100*time.Millisecond)

	metrics := h.Collect()
	var lastBucket float64
	var sawInf bool
	for _, m := range metrics {
		if m.Name == "response_time_server_bucket" && m.Labels["le"] == "+Inf" {
			sawInf = true
			lastBucket = m.Value
		}
	}
	assert.True(t, sawInf)
	assert.Equal(t, float64(2), lastBucket)
}
