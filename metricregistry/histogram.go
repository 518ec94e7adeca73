package metricregistry

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultBuckets are response-time buckets in milliseconds, exponential
// with a 1.5x growth factor starting at half a millisecond.
var defaultBuckets = buildDefaultBuckets()

func buildDefaultBuckets() []float64 {
	buckets := make([]float64, 0, 40)
	v := 0.5
	for i := 0; i < 40; i++ {
		buckets = append(buckets, v)
		v *= 1.5
	}
	return buckets
}

// HistogramCollector provides label-aware histogram metrics. It backs
// the request monitor's Timer abstraction: one histogram per distinct
// (name, tags) pair, keyed the same way MeterCollector keys its series.
type HistogramCollector struct {
	BaseCollector
	histograms map[string]*histogram
	mutex      sync.RWMutex
}

type histogram struct {
	name     string
	labelMap map[string]string
	buckets  []float64
	counts   []atomic.Int64
	sum      atomic.Int64 // nanoseconds
	count    atomic.Int64
}

// NewHistogramCollector creates a new histogram collector
func NewHistogramCollector(name string) *HistogramCollector {
	return &HistogramCollector{
		BaseCollector: NewBaseCollector(name, nil),
		histograms:    make(map[string]*histogram),
	}
}

func (h *HistogramCollector) histogramFor(key, name string, labelMap map[string]string) *histogram {
	h.mutex.RLock()
	hist, exists := h.histograms[key]
	h.mutex.RUnlock()
	if exists {
		return hist
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if hist, exists = h.histograms[key]; !exists {
		hist = &histogram{
			name:     name,
			labelMap: labelMap,
			buckets:  defaultBuckets,
			counts:   make([]atomic.Int64, len(defaultBuckets)+1),
		}
		h.histograms[key] = hist
	}
	return hist
}

// Observe records a duration, keyed by the same flattened metric key
// formatKey builds for every other collector.
func (h *HistogramCollector) Observe(metricName string, labels []string, d time.Duration) {
	key, labelMap := formatKey(metricName, labels)
	hist := h.histogramFor(key, metricName, labelMap)

	ms := float64(d) / float64(time.Millisecond)
	hist.sum.Add(int64(d))
	hist.count.Add(1)

	i := 0
	for i < len(hist.buckets) && ms > hist.buckets[i] {
		i++
	}
	hist.counts[i].Add(1)
}

// Count returns the number of observations recorded for a key.
func (h *HistogramCollector) Count(metricName string, labels []string) int64 {
	key, _ := formatKey(metricName, labels)
	h.mutex.RLock()
	hist, exists := h.histograms[key]
	h.mutex.RUnlock()
	if !exists {
		return 0
	}
	return hist.count.Load()
}

// Remove deletes a histogram's time series entirely, keeping
// cardinality clean for timers that never received an observation
// (mirrors RequestMonitor.removeTimerIfCountIsZero in the original).
func (h *HistogramCollector) Remove(metricName string, labels []string) {
	key, _ := formatKey(metricName, labels)
	h.mutex.Lock()
	delete(h.histograms, key)
	h.mutex.Unlock()
}

// Collect implements Collector interface
func (h *HistogramCollector) Collect() []Metric {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	now := time.Now()
	var metrics []Metric

	for _, hist := range h.histograms {
		metrics = append(metrics, Metric{
			Name:       hist.name + "_sum_ms",
			Value:      float64(hist.sum.Load()) / float64(time.Millisecond),
			Labels:     hist.labelMap,
			MetricType: Histogram,
			Timestamp:  now,
		})
		metrics = append(metrics, Metric{
			Name:       hist.name + "_count",
			Value:      float64(hist.count.Load()),
			Labels:     hist.labelMap,
			MetricType: Histogram,
			Timestamp:  now,
		})

		cumulative := int64(0)
		for i := range hist.buckets {
			cumulative += hist.counts[i].Load()
			labels := cloneLabels(hist.labelMap)
			labels["le"] = formatBucketLabel(hist.buckets[i])
			metrics = append(metrics, Metric{
				Name:       hist.name + "_bucket",
				Value:      float64(cumulative),
				Labels:     labels,
				MetricType: Histogram,
				Timestamp:  now,
			})
		}
		cumulative += hist.counts[len(hist.buckets)].Load()
		infLabels := cloneLabels(hist.labelMap)
		infLabels["le"] = "+Inf"
		metrics = append(metrics, Metric{
			Name:       hist.name + "_bucket",
			Value:      float64(cumulative),
			Labels:     infLabels,
			MetricType: Histogram,
			Timestamp:  now,
		})
	}

	return metrics
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatBucketLabel(value float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6g", value), "0"), ".")
}
