package requestmonitor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeConfig() *StaticConfiguration {
	return NewStaticConfiguration().
		SetBool(KeyActive, true).
		SetBool(KeyCollectRequestStats, true).
		SetInt(KeyWarmupRequests, 0).
		SetInt(KeyWarmupSeconds, 0)
}

func methodCall(name string, fn func() (interface{}, error)) *MethodRequest {
	return NewMethodRequest(name, fn)
}

// P1: the per-goroutine stack is empty after any sequence of
// correctly-nested monitorStart/monitorStop pairs, even if Execute
// returns an error.
func TestStackEmptyAfterErroringExecute(t *testing.T) {
	m := New(activeConfig(), NopRegistry{}, nil)
	defer m.Close()

	_, err := m.Monitor(methodCall("boom", func() (interface{}, error) {
		return nil, errors.New("workload failed")
	}))
	require.Error(t, err)
	assert.Nil(t, m.GetCurrentRequest())
}

// P2: GetCurrentRequest returns the active trace during execution and
// nil once the call has returned.
func TestGetCurrentRequestDuringExecution(t *testing.T) {
	m := New(activeConfig(), NopRegistry{}, nil)
	defer m.Close()

	var observed *RequestTrace
	_, err := m.Monitor(methodCall("inflight", func() (interface{}, error) {
		observed = m.GetCurrentRequest()
		return nil, nil
	}))
	require.NoError(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, "inflight", observed.Name())
	assert.Nil(t, m.GetCurrentRequest())
}

// P3: a trace with an empty name is never reported and produces no
// timer observation.
func TestEmptyNameNeverReported(t *testing.T) {
	reg := newCountingRegistry()
	reporter := newCountingReporter()
	m := New(activeConfig(), reg, nil)
	defer m.Close()
	m.AddRequestTraceReporter(reporter)

	req := NewMethodRequest("", func() (interface{}, error) { return nil, nil })
	_, err := m.Monitor(req)
	require.NoError(t, err)

	m.Close()
	assert.EqualValues(t, 0, reporter.count.Load())
	assert.Empty(t, reg.timers)
}

// P4: a request that fails admission (warm-up not yet satisfied)
// produces no response_time_server sample.
func TestWarmupSuppressesMonitoring(t *testing.T) {
	cfg := activeConfig().SetInt(KeyWarmupRequests, 5).SetInt(KeyWarmupSeconds, 3600)
	m := New(cfg, NopRegistry{}, nil)
	defer m.Close()

	for i := 0; i < 5; i++ {
		_, err := m.Monitor(methodCall("warming", func() (interface{}, error) { return nil, nil }))
		require.NoError(t, err)
	}
	// Still within warmupSeconds, so even past the count threshold
	// the deadline gate keeps suppressing.
	frame := m.monitorStart(methodCall("warming", func() (interface{}, error) { return nil, nil }))
	assert.False(t, m.monitorThisRequest(frame))
	m.monitorStop(frame)
}

// P5: N successive monitored calls with identical names produce a
// per-name count of N on a real registry backing.
func TestRepeatedCallsCountMatchesN(t *testing.T) {
	reg := newCountingRegistry()
	m := New(activeConfig(), reg, nil)
	defer m.Close()

	for i := 0; i < 4; i++ {
		_, err := m.Monitor(methodCall("GET /orders", func() (interface{}, error) { return nil, nil }))
		require.NoError(t, err)
	}

	key := Name("response_time_server").Tag("request_name", "GET /orders").Layer("All").Build()
	assert.EqualValues(t, 4, reg.Timer(key).Count())
}

// P6: Close drains already-queued traces rather than dropping them.
func TestCloseDrainsQueuedTraces(t *testing.T) {
	reporter := newCountingReporter()
	m := New(activeConfig(), NopRegistry{}, nil)
	m.AddRequestTraceReporter(reporter)

	_, err := m.Monitor(methodCall("drained", func() (interface{}, error) { return nil, nil }))
	require.NoError(t, err)

	m.Close()
	assert.EqualValues(t, 1, reporter.count.Load())
}

// R1: registering the same reporter twice then reporting once
// delivers the trace to it twice (list semantics, not set).
func TestReporterRegisteredTwiceReceivesTwice(t *testing.T) {
	reporter := newCountingReporter()
	m := New(activeConfig(), NopRegistry{}, nil)
	m.AddRequestTraceReporter(reporter)
	m.AddRequestTraceReporter(reporter)

	_, err := m.Monitor(methodCall("twice", func() (interface{}, error) { return nil, nil }))
	require.NoError(t, err)
	m.Close()
	assert.EqualValues(t, 2, reporter.count.Load())
}

// minExecutionTimePercent is documented as a double in [0, 100], so a
// fractional percent like 0.5 must survive as a fractional threshold
// instead of truncating to zero the way an int read would.
func TestMinExecThresholdKeepsFractionalPercent(t *testing.T) {
	total := 200 * time.Millisecond
	assert.Equal(t, time.Millisecond, minExecThreshold(total, 0.5))
	assert.Equal(t, time.Duration(0), minExecThreshold(total, 0))
}

// R2: RemoveCallsFasterThan(0) is a no-op.
func TestRemoveCallsFasterThanZeroNoop(t *testing.T) {
	root := newCallStackElement("total")
	child := newCallStackElement("a")
	child.Total = time.Millisecond
	root.addChild(child)

	root.RemoveCallsFasterThan(0)
	assert.Len(t, root.Children, 1)
}

// R3: RemoveCallsFasterThan preserves the surviving multiset of
// nodes regardless of tree shape.
func TestRemoveCallsFasterThanPreservesSurvivors(t *testing.T) {
	root := newCallStackElement("total")
	slow := newCallStackElement("slow")
	slow.Total = 100 * time.Millisecond
	fast := newCallStackElement("fast")
	fast.Total = time.Microsecond
	survivorOfFast := newCallStackElement("survivor")
	survivorOfFast.Total = 50 * time.Millisecond
	fast.addChild(survivorOfFast)
	root.addChild(slow)
	root.addChild(fast)

	root.RemoveCallsFasterThan(time.Millisecond)

	var names []string
	for _, c := range root.Children {
		names = append(names, c.Signature)
	}
	assert.ElementsMatch(t, []string{"slow", "survivor"}, names)
}

// Scenario 6: nested method calls with MonitorForwardedExecutions
// false produce exactly one sample, for the outermost call.
func TestNestedMethodCallsMonitorOutermostOnly(t *testing.T) {
	reg := newCountingRegistry()
	m := New(activeConfig(), reg, nil)
	defer m.Close()

	_, err := m.Monitor(methodCall("monitored1", func() (interface{}, error) {
		_, innerErr := m.Monitor(methodCall("monitored2", func() (interface{}, error) {
			return nil, nil
		}))
		return nil, innerErr
	}))
	require.NoError(t, err)

	outer := Name("response_time_server").Tag("request_name", "monitored1").Layer("All").Build()
	inner := Name("response_time_server").Tag("request_name", "monitored2").Layer("All").Build()
	assert.EqualValues(t, 1, reg.Timer(outer).Count())
	assert.EqualValues(t, 0, reg.Timer(inner).Count())
}

// countingRegistry is a minimal in-memory Registry double for tests.
type countingRegistry struct {
	timers map[string]*countingTimer
	meters map[string]*countingMeter
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{timers: make(map[string]*countingTimer), meters: make(map[string]*countingMeter)}
}

func registryKey(name MetricName) string {
	key := name.Name
	for _, l := range name.labels() {
		key += "|" + l
	}
	return key
}

func (r *countingRegistry) Timer(name MetricName) Timer {
	key := registryKey(name)
	t, ok := r.timers[key]
	if !ok {
		t = &countingTimer{}
		r.timers[key] = t
	}
	return t
}

func (r *countingRegistry) Meter(name MetricName) MeterMetric {
	key := registryKey(name)
	mm, ok := r.meters[key]
	if !ok {
		mm = &countingMeter{}
		r.meters[key] = mm
	}
	return mm
}

func (r *countingRegistry) Remove(name MetricName) {
	delete(r.timers, registryKey(name))
}

type countingTimer struct {
	count int64
}

func (t *countingTimer) Update(time.Duration) { t.count++ }
func (t *countingTimer) Count() int64         { return t.count }

type countingMeter struct {
	count int64
}

func (m *countingMeter) Mark(n int64)      { m.count += n }
func (m *countingMeter) Count() int64      { return m.count }
func (m *countingMeter) Rate1Min() float64 { return 0 }

// countingReporter is always active and counts how many times it was
// invoked, used to assert list/registration semantics (R1, P6).
type countingReporter struct {
	count atomic.Int64
}

func newCountingReporter() *countingReporter { return &countingReporter{} }

func (r *countingReporter) IsActive(*RequestTrace) bool { return true }

func (r *countingReporter) ReportRequestTrace(*RequestTrace) error {
	r.count.Add(1)
	return nil
}
