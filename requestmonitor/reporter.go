package requestmonitor

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// RequestTraceReporter drains finished traces to an external
// destination. isActive is checked before every report; an inactive
// reporter is never invoked for that trace.
type RequestTraceReporter interface {
	IsActive(trace *RequestTrace) bool
	ReportRequestTrace(trace *RequestTrace) error
}

// reporterList is an ordered, copy-on-write list of reporters.
// Registration prepends; iteration takes a stable snapshot with no
// read-path locking.
type reporterList struct {
	snapshot atomic.Pointer[[]RequestTraceReporter]
}

func newReporterList() *reporterList {
	l := &reporterList{}
	empty := []RequestTraceReporter{}
	l.snapshot.Store(&empty)
	return l
}

// add prepends r so the most recently added reporter is inspected
// first, preserving the original's registration order semantics.
func (l *reporterList) add(r RequestTraceReporter) {
	for {
		old := l.snapshot.Load()
		next := make([]RequestTraceReporter, 0, len(*old)+1)
		next = append(next, r)
		next = append(next, *old...)
		if l.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (l *reporterList) all() []RequestTraceReporter {
	return *l.snapshot.Load()
}

// dispatcher is the single-worker bounded-queue executor traces are
// submitted to. A full queue makes submission a non-blocking drop;
// the producing goroutine never blocks or fails because of it. mu
// also guards against submitting on a closed queue: close() takes the
// write lock before closing the channel, so any submit already past
// the read-lock gate finishes its send first, and any submit arriving
// after sees closed and drops instead of racing the close.
type dispatcher struct {
	mu        sync.RWMutex
	closed    bool
	queue     chan *RequestTrace
	reporters *reporterList
	logger    *zap.Logger
	done      chan struct{}
}

func newDispatcher(capacity int, reporters *reporterList, logger *zap.Logger) *dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 1
	}
	d := &dispatcher{
		queue:     make(chan *RequestTrace, capacity),
		reporters: reporters,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for trace := range d.queue {
		d.report(trace)
	}
	close(d.done)
}

func (d *dispatcher) report(trace *RequestTrace) {
	for _, reporter := range d.reporters.all() {
		if !reporter.IsActive(trace) {
			continue
		}
		if err := reporter.ReportRequestTrace(trace); err != nil {
			d.logger.Warn("reporter failed", zap.Error(err), zap.String("trace_id", trace.ID))
		}
	}
}

// submit enqueues trace without blocking the caller. If the queue is
// full, or the dispatcher has already been closed, trace is dropped
// and a warning is logged instead of panicking on a closed channel.
func (d *dispatcher) submit(trace *RequestTrace) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("reporter queue closed, dropping trace", zap.String("trace_id", trace.ID))
		return
	}
	select {
	case d.queue <- trace:
	default:
		d.logger.Warn("reporter queue full, dropping trace", zap.String("trace_id", trace.ID))
	}
}

// close drains in-flight submissions then stops the worker. Traces
// submitted before close is called are not dropped by shutdown
// itself; only overflow causes rejection (P6).
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

// queueDepth reports the number of traces currently buffered, for the
// engine's reporter_queue_depth gauge.
func (d *dispatcher) queueDepth() float64 {
	return float64(len(d.queue))
}
