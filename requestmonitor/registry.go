package requestmonitor

import (
	"sort"
	"time"
)

// MetricName is a structured metric identity, the (baseName, tags)
// pair spec.md §6 describes. The canonical tags the engine produces
// are request_name, layer and http_code.
type MetricName struct {
	Name string
	Tags map[string]string
}

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

// NameBuilder builds a MetricName fluently.
type NameBuilder struct {
	name string
	tags map[string]string
}

// Name starts building a MetricName.
func Name(name string) *NameBuilder {
	return &NameBuilder{name: name, tags: make(map[string]string)}
}

func (b *NameBuilder) Tag(key, value string) *NameBuilder {
	b.tags[key] = value
	return b
}

// Layer is sugar for Tag("layer", layer).
func (b *NameBuilder) Layer(layer string) *NameBuilder {
	return b.Tag("layer", layer)
}

func (b *NameBuilder) Build() MetricName {
	return MetricName{Name: b.name, Tags: b.tags}
}

// Timer records duration observations for a named, tagged series.
type Timer interface {
	Update(d time.Duration)
	Count() int64
}

// MeterMetric records mark events and exposes a decaying rate.
type MeterMetric interface {
	Mark(n int64)
	Count() int64
	Rate1Min() float64
}

// Registry is the metric registry the engine is handed at
// construction, reached only through this interface (spec.md's
// "external collaborator"). Any type exposing this surface — the
// metricregistry package's concrete Registry wrapped in
// MetricRegistryBacking, or a test double — can back the engine.
type Registry interface {
	Timer(name MetricName) Timer
	Meter(name MetricName) MeterMetric
	Remove(name MetricName)
}

// NopRegistry discards everything; useful when a caller wants the
// engine's metrics emission disabled entirely without wiring a real
// backing store.
type NopRegistry struct{}

func (NopRegistry) Timer(MetricName) Timer       { return nopTimer{} }
func (NopRegistry) Meter(MetricName) MeterMetric { return nopMeter{} }
func (NopRegistry) Remove(MetricName)            {}

type nopTimer struct{}

func (nopTimer) Update(time.Duration) {}
func (nopTimer) Count() int64         { return 0 }

type nopMeter struct{}

func (nopMeter) Mark(int64)         {}
func (nopMeter) Count() int64       { return 0 }
func (nopMeter) Rate1Min() float64  { return 0 }
