package requestmonitor

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RequestMonitor is the core engine: it owns the per-execution
// lifecycle, nested-request detection, timing, metric emission,
// warm-up, and reporter dispatch.
type RequestMonitor struct {
	config   Configuration
	registry Registry
	profiler *Profiler
	register *currentRequestRegister
	reporters *reporterList
	dispatcher *dispatcher
	session  sessionBootstrap
	logger   *zap.Logger

	warmupRequests int64
	endOfWarmup    time.Time
	noOfRequests   atomic.Int64
	warmedUp       atomic.Bool

	startupStarted atomic.Bool
	startupDone    chan struct{}

	callbackMu      sync.Mutex
	beforeCallbacks []func()
	afterCallbacks  []func()

	closed atomic.Bool
}

// New builds a RequestMonitor wired to config and registry. The
// warm-up deadline starts counting from construction.
func New(config Configuration, registry Registry, logger *zap.Logger) *RequestMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NopRegistry{}
	}
	warmupSeconds := config.Int(KeyWarmupSeconds, 0)
	reporters := newReporterList()
	m := &RequestMonitor{
		config:         config,
		registry:       registry,
		profiler:       NewProfiler(logger),
		register:       newCurrentRequestRegister(),
		reporters:      reporters,
		dispatcher:     newDispatcher(config.Int(KeyThreadPoolQueueCapacity, 100), reporters, logger),
		logger:         logger,
		warmupRequests: int64(config.Int(KeyWarmupRequests, 0)),
		endOfWarmup:    time.Now().Add(time.Duration(warmupSeconds) * time.Second),
		startupDone:    make(chan struct{}),
	}
	m.reporters.add(NewLogReporter(logger))

	if source, ok := registry.(gaugeSource); ok {
		source.AddGaugeFunc("reporter_queue_depth", m.dispatcher.queueDepth)
		source.AddGaugeFunc("active_requests", m.register.count)
	}

	return m
}

// gaugeSource is an optional capability a Registry implementation may
// expose to accept caller-owned gauges (MetricRegistryBacking does, by
// forwarding to its metricregistry.Registry's system collector). A
// Registry without it, such as a test stub, simply isn't offered these
// gauges.
type gaugeSource interface {
	AddGaugeFunc(name string, fn func() float64)
}

// AddRequestTraceReporter prepends r, making it the first reporter
// inspected for subsequent traces.
func (m *RequestMonitor) AddRequestTraceReporter(r RequestTraceReporter) {
	m.reporters.add(r)
}

// AddOnBeforeRequestCallback registers fn to run during monitorStart,
// after admission passes and before execution. Failures are logged
// and swallowed.
func (m *RequestMonitor) AddOnBeforeRequestCallback(fn func()) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.beforeCallbacks = append(m.beforeCallbacks, fn)
}

// AddOnAfterRequestCallback registers fn to run during monitorStop.
func (m *RequestMonitor) AddOnAfterRequestCallback(fn func()) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.afterCallbacks = append(m.afterCallbacks, fn)
}

// GetCurrentRequest returns the trace of the innermost active
// monitored request on the calling goroutine, or nil.
func (m *RequestMonitor) GetCurrentRequest() *RequestTrace {
	frame := m.register.top()
	if frame == nil {
		return nil
	}
	return frame.trace
}

// Close requests dispatcher shutdown (drain-then-stop) and clears the
// current goroutine's register entry. In-flight workloads on other
// goroutines complete naturally; it is not this call's job to wait
// for them.
func (m *RequestMonitor) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.dispatcher.close()
	m.register.clear()
}

// Monitor runs adapter's workload under the engine: it combines
// monitorStart, Execute, and monitorStop behind a single call, using
// defer so the per-goroutine stack is popped even if Execute panics
// (P1); the panic itself is not recovered and propagates to the
// caller. The only error returned is the workload's own; engine
// failures are logged and swallowed (spec.md §7's propagation rule).
func (m *RequestMonitor) Monitor(adapter MonitoredRequest) (interface{}, error) {
	frame := m.monitorStart(adapter)
	defer m.monitorStop(frame)

	result, err := adapter.Execute()
	frame.result = result
	frame.lastErr = err
	if frame.trace != nil && err != nil {
		frame.trace.IsError = true
		frame.trace.Failure = err
	}
	return result, err
}

func (m *RequestMonitor) monitorStart(adapter MonitoredRequest) *requestFrame {
	t0 := nowNanos()
	frame := &requestFrame{
		start:    t0,
		startCPU: currentThreadCPUTime(),
		adapter:  adapter,
	}

	// Forwarding detection + push. Must happen before any early
	// return so monitorStop can always pop correctly.
	m.register.push(frame)

	if !m.config.Bool(KeyActive, true) {
		frame.overhead1 = nowNanos() - t0
		return frame
	}

	session := m.session.ensure(m.config, adapter)
	_ = session

	if m.noOfRequests.Load() == 0 {
		frame.firstRequest = true
	}

	if !m.monitorThisRequest(frame) {
		frame.overhead1 = nowNanos() - t0
		return frame
	}

	if m.startupStarted.CompareAndSwap(false, true) {
		go func() {
			// Startup work would go here; there is none beyond
			// marking completion, since this rewrite has no
			// separate agent bootstrap phase.
			close(m.startupDone)
		}()
	}
	frame.startupDone = m.startupDone

	frame.trace = adapter.CreateRequestTrace()
	if frame.trace != nil && m.profileThisRequest(frame) {
		frame.trace.CallStack = m.profiler.ActivateProfiling("total")
	}

	m.runCallbacks(m.snapshotCallbacks(true))

	frame.overhead1 = nowNanos() - t0
	return frame
}

func (m *RequestMonitor) monitorStop(frame *requestFrame) {
	t1 := nowNanos()
	m.register.pop(frame)

	// monitorThisRequest is re-evaluated here, not reused from
	// monitorStart: isForwarding() can flip from false to true between
	// the two calls once a nested call pushes a child onto this frame
	// during Execute, which is exactly how an outer forwarding
	// execution ends up excluded while its forwarded child is kept
	// (scenarios 5 and 6). isWarmedUp() is consequently invoked again
	// here too, incrementing noOfRequests a second time per request —
	// accepted, see spec.md §9's warm-up counter note.
	admitted := m.monitorThisRequest(frame)

	if admitted && frame.trace != nil && frame.trace.HasName() {
		if frame.startupDone != nil {
			<-frame.startupDone
		}

		frame.trace.ExecutionTime = time.Duration(nowNanos() - frame.start)
		frame.trace.CPUTime = time.Duration(currentThreadCPUTime() - frame.startCPU)

		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Warn("onPostExecute panicked", zap.Any("recover", r))
				}
			}()
			frame.adapter.OnPostExecute(&ExecutionContext{
				Trace:         frame.trace,
				ExecutionTime: frame.trace.ExecutionTime,
				CPUTime:       frame.trace.CPUTime,
				Result:        frame.result,
				Err:           frame.lastErr,
			})
		}()

		if frame.trace.CallStack != nil {
			root := m.profiler.Stop()
			if root != nil {
				root.Signature = frame.trace.Name()
				if percent := m.config.Float64(KeyProfilerMinExecPercent, 0); percent > 0 {
					root.RemoveCallsFasterThan(minExecThreshold(root.Total, percent))
				}
			}
		}

		m.dispatcher.submit(frame.trace)
		m.emitMetrics(frame)
	} else if frame.timerCreated {
		timerName := Name("response_time_server").Tag("request_name", frame.trace.Name()).Layer("All").Build()
		if m.registry.Timer(timerName).Count() == 0 {
			m.registry.Remove(timerName)
		}
	}

	if frame.trace != nil {
		m.profiler.ClearMethodCallParent()
	}

	if !frame.firstRequest && m.config.Bool(KeyInternalMonitoring, false) {
		overhead := frame.overhead1 + (nowNanos() - t1)
		m.registry.Timer(Name("internal_overhead_request_monitor").Build()).Update(time.Duration(overhead))
	}

	m.runCallbacks(m.snapshotCallbacks(false))
}

func (m *RequestMonitor) snapshotCallbacks(before bool) []func() {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	if before {
		out := make([]func(), len(m.beforeCallbacks))
		copy(out, m.beforeCallbacks)
		return out
	}
	out := make([]func(), len(m.afterCallbacks))
	copy(out, m.afterCallbacks)
	return out
}

func (m *RequestMonitor) runCallbacks(callbacks []func()) {
	for _, cb := range callbacks {
		m.runCallback(cb)
	}
}

func (m *RequestMonitor) runCallback(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("request callback panicked", zap.Any("recover", r))
		}
	}()
	cb()
}

// monitorThisRequest is the admission predicate: disabled collection
// or a failed warm-up check vetoes monitoring outright; otherwise the
// forwarding table in spec.md §4.D decides.
func (m *RequestMonitor) monitorThisRequest(frame *requestFrame) bool {
	if !m.config.Bool(KeyCollectRequestStats, true) {
		return false
	}
	if !m.isWarmedUp() {
		return false
	}

	isForwarded := frame.isForwarded()
	isForwarding := frame.isForwarding()
	switch {
	case !isForwarded && !isForwarding:
		return true
	case isForwarded && isForwarding:
		return false
	case isForwarded && !isForwarding:
		return frame.adapter.MonitorForwardedExecutions()
	default: // !isForwarded && isForwarding
		return !frame.adapter.MonitorForwardedExecutions()
	}
}

// isWarmedUp mirrors the original's atomic check: once true it stays
// true; otherwise it increments the request counter and recomputes.
// Only the not-yet-warm path increments the counter; calls made after
// warm-up is true return early without touching it. The race between
// this counter and the firstRequest check in monitorStart is
// tolerated.
func (m *RequestMonitor) isWarmedUp() bool {
	if m.warmedUp.Load() {
		return true
	}
	n := m.noOfRequests.Add(1)
	warm := n > m.warmupRequests && time.Now().After(m.endOfWarmup)
	if warm {
		m.warmedUp.Store(true)
	}
	return warm
}

// minExecThreshold converts the configured minExecutionTimePercent
// (a double in [0, 100], per the documented configuration type) into
// an absolute duration of a call tree's total. Computed in floating
// point so sub-1% thresholds, such as 0.5, are not truncated to zero.
func minExecThreshold(total time.Duration, percent float64) time.Duration {
	return time.Duration(float64(total) * percent / 100)
}

// profileThisRequest decides whether to pay for call-stack capture:
// only if the profiler is enabled, grouping is configured sanely, the
// per-request cadence divides evenly, and at least one reporter would
// actually consume the result.
func (m *RequestMonitor) profileThisRequest(frame *requestFrame) bool {
	if !m.config.Bool(KeyProfilerActive, false) {
		return false
	}
	groupEvery := m.config.Int(KeyProfilerGroupEveryX, 1)
	if groupEvery < 1 {
		return false
	}
	if groupEvery > 1 {
		// Touching the timer here can materialise a zero-observation
		// series for a request that ends up not monitored (e.g. its
		// name resolves empty); monitorStop cleans that up via
		// frame.timerCreated.
		frame.timerCreated = true
		prior := m.registry.Timer(Name("response_time_server").Tag("request_name", frame.trace.Name()).Layer("All").Build()).Count()
		if prior == 0 || prior%int64(groupEvery) != 0 {
			return false
		}
	}
	for _, r := range m.reporters.all() {
		if r.IsActive(frame.trace) {
			return true
		}
	}
	return false
}

func (m *RequestMonitor) emitMetrics(frame *requestFrame) {
	trace := frame.trace
	name := trace.Name()

	m.registry.Timer(Name("response_time_server").Tag("request_name", name).Layer("All").Build()).Update(trace.ExecutionTime)
	m.registry.Timer(Name("response_time_server").Tag("request_name", "All").Layer("All").Build()).Update(trace.ExecutionTime)

	if m.config.Bool(KeyCollectCPUTime, false) {
		m.registry.Timer(Name("response_time_cpu").Tag("request_name", name).Layer("All").Build()).Update(trace.CPUTime)
		m.registry.Timer(Name("response_time_cpu").Tag("request_name", "All").Layer("All").Build()).Update(trace.CPUTime)
	}

	if trace.IsError {
		m.registry.Meter(Name("error_rate_server").Tag("request_name", name).Layer("All").Build()).Mark(1)
		m.registry.Meter(Name("error_rate_server").Tag("request_name", "All").Layer("All").Build()).Mark(1)
	}

	if trace.StatusCode > 0 {
		httpCode := strconv.Itoa(trace.StatusCode)
		m.registry.Meter(Name("request_throughput").Tag("http_code", httpCode).Build()).Mark(1)
	}

	if trace.ExecutionCountDb > 0 {
		m.registry.Timer(Name("response_time_server").Tag("layer", "jdbc").Tag("request_name", "All").Build()).Update(trace.ExecutionTimeDb)
		if m.config.Bool(KeyCollectDbTimePerRequest, false) {
			m.registry.Timer(Name("response_time_server").Tag("layer", "jdbc").Tag("request_name", name).Build()).Update(trace.ExecutionTimeDb)
		}
		m.registry.Meter(Name("jdbc_query_rate").Tag("request_name", name).Build()).Mark(trace.ExecutionCountDb)
	}
}

func nowNanos() int64 {
	return time.Now().UnixNano()
}

// currentThreadCPUTime always returns 0: Go exposes no portable,
// per-goroutine CPU-time API (runtime.MemStats and pprof both report
// process/thread-pool aggregates, not per-goroutine cost), so CPU
// timing is the one capability this rewrite cannot probe. Collection
// stays gated behind requestmonitor.collectCpuTime so callers who
// enable it get zeros rather than a wrong number.
func currentThreadCPUTime() int64 {
	return 0
}
