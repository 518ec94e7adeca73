package requestmonitor

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Profiler builds a per-request call-time tree. Go has no thread-local
// storage, so the per-goroutine "current call node" pointer the
// original implementation keeps in a ThreadLocal is modeled here with
// a goroutine-ID-keyed map guarded by a mutex.
type Profiler struct {
	logger *zap.Logger

	mu      sync.Mutex
	current map[int64]*profileFrame
}

type profileFrame struct {
	node  *CallStackElement
	start time.Time
}

// NewProfiler creates a profiler. A nil logger disables profiling-
// failure logging (falls back to zap.NewNop()).
func NewProfiler(logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{logger: logger, current: make(map[int64]*profileFrame)}
}

// ActivateProfiling creates a root node named rootSignature and
// installs it as this goroutine's current parent.
func (p *Profiler) ActivateProfiling(rootSignature string) *CallStackElement {
	root := newCallStackElement(rootSignature)
	p.setCurrent(goroutineID(), &profileFrame{node: root, start: time.Now()})
	return root
}

// Enter pushes a new child node named signature under the current
// parent and makes it the new current parent. Returns a function to
// call on exit, which pops the node and records its elapsed time.
// Any internal failure is swallowed and logged; profiling failures
// never abort the monitored workload.
func (p *Profiler) Enter(signature string) func() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("profiler enter failed", zap.Any("recover", r))
		}
	}()

	gid := goroutineID()
	parent := p.getCurrent(gid)
	if parent == nil {
		return func() {}
	}

	child := newCallStackElement(signature)
	parent.node.addChild(child)
	frame := &profileFrame{node: child, start: time.Now()}
	p.setCurrent(gid, frame)

	return func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Warn("profiler exit failed", zap.Any("recover", r))
			}
		}()
		child.Total = time.Since(frame.start)
		child.Self = child.Total
		for _, c := range child.Children {
			child.Self -= c.Total
		}
		p.setCurrent(gid, parent)
	}
}

// Stop closes the active root for this goroutine, recording its total
// elapsed time, and returns it.
func (p *Profiler) Stop() *CallStackElement {
	gid := goroutineID()
	frame := p.getCurrent(gid)
	if frame == nil {
		return nil
	}
	frame.node.Total = time.Since(frame.start)
	frame.node.Self = frame.node.Total
	for _, c := range frame.node.Children {
		frame.node.Self -= c.Total
	}
	return frame.node
}

// ClearMethodCallParent resets this goroutine's current-node pointer.
// Idempotent; safe to call on exceptional unwinds.
func (p *Profiler) ClearMethodCallParent() {
	gid := goroutineID()
	p.mu.Lock()
	delete(p.current, gid)
	p.mu.Unlock()
}

func (p *Profiler) getCurrent(gid int64) *profileFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[gid]
}

func (p *Profiler) setCurrent(gid int64, frame *profileFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current[gid] = frame
}

// goroutineID extracts the calling goroutine's numeric id by parsing
// the header line of runtime.Stack's output ("goroutine 123 [running]:
// ..."). Go offers no public API for this; it is the standard trick
// used when code needs a stable per-goroutine key and cannot thread a
// context.Context through the call chain it instruments.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	const prefix = "goroutine "
	buf = bytes.TrimPrefix(buf, []byte(prefix))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(buf[:idx]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
