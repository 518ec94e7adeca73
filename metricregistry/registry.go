package metricregistry

import (
	"sort"
	"time"
)

// MetricType represents the type of a metric
type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	Summary
)

// Metric represents a single metric data point
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// MetricName is a structured metric identity: a base name plus an
// ordered set of tags. The request monitor's canonical tags are
// request_name, layer and http_code.
type MetricName struct {
	Name string
	Tags map[string]string
}

// labels flattens the tag map into the [key1, value1, ...] slice the
// collectors key their series by, in a stable (sorted) order so the
// same tag set always produces the same series key.
func (m MetricName) labels() []string {
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, m.Tags[k])
	}
	return out
}

// NameBuilder builds a MetricName fluently, mirroring the original
// implementation's MetricName.name(...).tag(...).build() builder.
type NameBuilder struct {
	name string
	tags map[string]string
}

// Name starts building a MetricName.
func Name(name string) *NameBuilder {
	return &NameBuilder{name: name, tags: make(map[string]string)}
}

// Tag adds a single tag.
func (b *NameBuilder) Tag(key, value string) *NameBuilder {
	b.tags[key] = value
	return b
}

// Layer is sugar for Tag("layer", layer), the canonical tag used to
// separate request-level timings from downstream layers like jdbc.
func (b *NameBuilder) Layer(layer string) *NameBuilder {
	return b.Tag("layer", layer)
}

// Build finalizes the MetricName.
func (b *NameBuilder) Build() MetricName {
	return MetricName{Name: b.name, Tags: b.tags}
}

// Timer records duration observations for a named, tagged series.
type Timer interface {
	Update(d time.Duration)
	Count() int64
}

// MeterMetric records mark events and exposes a decaying rate for a
// named, tagged series.
type MeterMetric interface {
	Mark(n int64)
	Count() int64
	Rate1Min() float64
}

// Registry is the concrete Metric Registry backing the request
// monitor. The engine only depends on the Timer/Meter/Remove surface
// (see requestmonitor.Registry), so any type exposing that surface can
// stand in; Registry is the one this repo ships and drains to
// Prometheus remote write.
type Registry struct {
	histograms *HistogramCollector
	meters     *MeterCollector
	system     *SystemMetricsCollector
	exporter   Exporter
}

// NewRegistry builds a registry and registers its histogram, meter and
// system collectors with the exporter. It does not start the drain
// loop; call Start for that.
func NewRegistry(cfg Config) (*Registry, error) {
	exp, err := NewExporter(cfg)
	if err != nil {
		return nil, err
	}

	meters := NewMeterCollector("rate")
	switch {
	case cfg.MeterSeriesTTL < 0:
		meters.SetTTL(0)
	case cfg.MeterSeriesTTL > 0:
		meters.SetTTL(cfg.MeterSeriesTTL)
	default:
		meters.SetTTL(60 * time.Minute)
	}
	if cfg.MeterMaxSeries > 0 {
		meters.SetMaxSeries(cfg.MeterMaxSeries)
	}

	r := &Registry{
		histograms: NewHistogramCollector("response_time"),
		meters:     meters,
		system:     NewSystemMetricsCollector(cfg.Logger),
		exporter:   exp,
	}
	exp.RegisterCollector(r.histograms)
	exp.RegisterCollector(r.meters)
	exp.RegisterCollector(r.system)
	return r, nil
}

// Start begins the background remote-write drain loop. No-op if no
// remote write URL was configured.
func (r *Registry) Start() error {
	return r.exporter.Start()
}

// Stop stops the background loop and waits for it to exit. Metrics
// recorded since the last periodic write are not written.
func (r *Registry) Stop() {
	r.exporter.Stop()
}

// Timer returns (creating if absent) the timer for a MetricName.
func (r *Registry) Timer(name MetricName) Timer {
	return &histogramTimer{collector: r.histograms, name: name.Name, labels: name.labels()}
}

// Meter returns (creating if absent) the meter for a MetricName.
func (r *Registry) Meter(name MetricName) MeterMetric {
	return r.meters.MeterFor(name.Name, name.labels())
}

// Remove deletes a timer's series entirely, used to keep cardinality
// clean for request names that were created but never observed.
func (r *Registry) Remove(name MetricName) {
	r.histograms.Remove(name.Name, name.labels())
}

// Metrics returns a snapshot of every registered collector's metrics.
func (r *Registry) Metrics() []Metric {
	return r.exporter.GetMetrics()
}

// AddGaugeFunc registers a caller-owned gauge, sampled on every drain
// alongside the process-health metrics. Lets callers outside this
// package (the request monitor engine, for its reporter queue depth
// and in-flight request count) feed live state through the same
// collector without either package importing the other's internals.
func (r *Registry) AddGaugeFunc(name string, fn func() float64) {
	r.system.AddGaugeFunc(name, fn)
}

type histogramTimer struct {
	collector *HistogramCollector
	name      string
	labels    []string
}

func (t *histogramTimer) Update(d time.Duration) {
	t.collector.Observe(t.name, t.labels, d)
}

func (t *histogramTimer) Count() int64 {
	return t.collector.Count(t.name, t.labels)
}
