package requestmonitor

import "github.com/stagemonitor/requestmonitor/metricregistry"

// MetricRegistryBacking adapts a *metricregistry.Registry to the
// engine's Registry interface, translating MetricName between the
// two packages so the engine never depends on metricregistry's
// concrete types directly.
type MetricRegistryBacking struct {
	registry *metricregistry.Registry
}

// NewMetricRegistryBacking wraps reg for use as the engine's Registry.
func NewMetricRegistryBacking(reg *metricregistry.Registry) *MetricRegistryBacking {
	return &MetricRegistryBacking{registry: reg}
}

func toBackingName(name MetricName) metricregistry.MetricName {
	return metricregistry.MetricName{Name: name.Name, Tags: name.Tags}
}

func (b *MetricRegistryBacking) Timer(name MetricName) Timer {
	return b.registry.Timer(toBackingName(name))
}

func (b *MetricRegistryBacking) Meter(name MetricName) MeterMetric {
	return b.registry.Meter(toBackingName(name))
}

func (b *MetricRegistryBacking) Remove(name MetricName) {
	b.registry.Remove(toBackingName(name))
}

// AddGaugeFunc forwards to the backing registry's system collector.
// Not part of the engine's Registry interface — the monitor type-asserts
// for it via gaugeSource so a Registry without this capability (e.g. a
// test stub) simply doesn't get these gauges registered.
func (b *MetricRegistryBacking) AddGaugeFunc(name string, fn func() float64) {
	b.registry.AddGaugeFunc(name, fn)
}
