package metricregistry

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	meterTickInterval = 5 * time.Second
	oneMinuteWindow   = time.Minute
)

var oneMinuteAlpha = 1 - math.Exp(-float64(meterTickInterval)/float64(oneMinuteWindow))

// Meter is a mark-and-rate metric: an event counter plus a decaying
// one-minute rate, modeled after the meter the Elasticsearch reporter
// in the original implementation uses to rate-limit itself. The decay
// only advances in 5-second ticks, so callers that mark twice within
// the same 5-second window observe no rate change between the two
// marks — tests must tolerate this quantisation (see spec.md §4.E).
type Meter struct {
	mutex     sync.Mutex
	count     atomic.Int64
	uncounted atomic.Int64
	rate1Min  float64
	lastTick  time.Time
	started   time.Time
}

// NewMeter creates a meter whose decay clock starts now.
func NewMeter() *Meter {
	now := time.Now()
	return &Meter{lastTick: now, started: now}
}

// Mark records n occurrences of the event.
func (m *Meter) Mark(n int64) {
	m.tick()
	m.uncounted.Add(n)
	m.count.Add(n)
}

// Count returns the total number of marks recorded since creation.
func (m *Meter) Count() int64 {
	return m.count.Load()
}

// Rate1Min returns the current decaying one-minute rate, in events per
// second. It reports zero until the meter's first five-second tick has
// elapsed, exactly like the codahale-style meter the original
// implementation's rate limiter is built on.
func (m *Meter) Rate1Min() float64 {
	m.tick()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.rate1Min
}

// tick advances the EWMA by however many 5-second ticks have elapsed
// since the last call, folding in any marks recorded during each
// elapsed tick.
func (m *Meter) tick() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	elapsedTicks := int(time.Since(m.lastTick) / meterTickInterval)
	if elapsedTicks <= 0 {
		return
	}

	for i := 0; i < elapsedTicks; i++ {
		count := m.uncounted.Swap(0)
		instantRate := float64(count) / meterTickInterval.Seconds()
		if i == 0 && m.rate1Min == 0 {
			m.rate1Min = instantRate
		} else {
			m.rate1Min += oneMinuteAlpha * (instantRate - m.rate1Min)
		}
	}
	m.lastTick = m.lastTick.Add(time.Duration(elapsedTicks) * meterTickInterval)
}

// MeterCollector holds one Meter per labeled series, keyed the same
// way HistogramCollector keys its series. Per-request_name series
// (error_rate_server, jdbc_query_rate) grow with every distinct name
// the engine ever sees, so the collector bounds itself the same way
// the original's labeled-counter carried TTL/max-series eviction:
// entries idle past seriesTTL, or the oldest entries once maxSeries is
// exceeded, are dropped during Collect.
type MeterCollector struct {
	BaseCollector
	mutex           sync.RWMutex
	meters          map[string]*meterEntry
	seriesTTL       time.Duration
	maxSeries       int
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type meterEntry struct {
	meter       *Meter
	name        string
	labelMap    map[string]string
	lastUpdated atomic.Int64
}

// NewMeterCollector creates a new meter collector. Series are
// unbounded by default (seriesTTL/maxSeries zero); call SetTTL/
// SetMaxSeries to bound cardinality.
func NewMeterCollector(name string) *MeterCollector {
	return &MeterCollector{
		BaseCollector:   NewBaseCollector(name, nil),
		meters:          make(map[string]*meterEntry),
		cleanupInterval: 5 * time.Minute,
	}
}

// SetTTL bounds how long a series may go unobserved before Collect
// evicts it. Zero disables TTL eviction.
func (c *MeterCollector) SetTTL(ttl time.Duration) {
	c.mutex.Lock()
	c.seriesTTL = ttl
	c.mutex.Unlock()
}

// SetMaxSeries bounds the number of distinct series kept; once
// exceeded, Collect evicts the least-recently-touched entries first.
// Zero disables the limit.
func (c *MeterCollector) SetMaxSeries(n int) {
	c.mutex.Lock()
	c.maxSeries = n
	c.mutex.Unlock()
}

// MeterFor returns (creating if absent) the Meter for a metric name
// plus flattened labels.
func (c *MeterCollector) MeterFor(metricName string, labels []string) *Meter {
	key, labelMap := formatKey(metricName, labels)

	c.mutex.RLock()
	entry, exists := c.meters[key]
	c.mutex.RUnlock()
	if exists {
		entry.lastUpdated.Store(time.Now().UnixNano())
		return entry.meter
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if entry, exists = c.meters[key]; !exists {
		entry = &meterEntry{meter: NewMeter(), name: metricName, labelMap: labelMap}
		c.meters[key] = entry
	}
	entry.lastUpdated.Store(time.Now().UnixNano())
	return entry.meter
}

// Collect implements Collector interface
func (c *MeterCollector) Collect() []Metric {
	c.mutex.RLock()
	now := time.Now()
	metrics := make([]Metric, 0, len(c.meters)*2)
	for _, entry := range c.meters {
		metrics = append(metrics, Metric{
			Name:       entry.name + "_total",
			Value:      float64(entry.meter.Count()),
			Labels:     entry.labelMap,
			MetricType: Counter,
			Timestamp:  now,
		})
		metrics = append(metrics, Metric{
			Name:       entry.name + "_rate1m",
			Value:      entry.meter.Rate1Min(),
			Labels:     entry.labelMap,
			MetricType: Gauge,
			Timestamp:  now,
		})
	}
	c.mutex.RUnlock()

	if (c.seriesTTL > 0 || c.maxSeries > 0) && time.Since(c.lastCleanup) >= c.cleanupInterval {
		c.cleanup(now)
	}

	return metrics
}

func (c *MeterCollector) cleanup(now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastCleanup = now

	if c.seriesTTL > 0 {
		cutoff := now.Add(-c.seriesTTL).UnixNano()
		for k, v := range c.meters {
			if v.lastUpdated.Load() < cutoff {
				delete(c.meters, k)
			}
		}
	}

	if c.maxSeries > 0 && len(c.meters) > c.maxSeries {
		type pair struct {
			key  string
			last int64
		}
		pairs := make([]pair, 0, len(c.meters))
		for k, v := range c.meters {
			pairs = append(pairs, pair{key: k, last: v.lastUpdated.Load()})
		}
		for i := 1; i < len(pairs); i++ {
			for j := i; j > 0 && pairs[j-1].last > pairs[j].last; j-- {
				pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
			}
		}
		excess := len(c.meters) - c.maxSeries
		for i := 0; i < excess; i++ {
			delete(c.meters, pairs[i].key)
		}
	}
}
