package requestmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// P6: close drains what's already queued.
func TestDispatcherCloseDrainsQueue(t *testing.T) {
	reporters := newReporterList()
	recorder := &recordingReporter{}
	reporters.add(recorder)

	d := newDispatcher(4, reporters, nil)
	d.submit(&RequestTrace{ID: "a"})
	d.submit(&RequestTrace{ID: "b"})
	d.close()

	assert.Equal(t, []string{"a", "b"}, recorder.ids)
}

// Submitting after close must drop-and-log, not panic on a send to a
// closed channel.
func TestDispatcherSubmitAfterCloseDropsInsteadOfPanicking(t *testing.T) {
	reporters := newReporterList()
	d := newDispatcher(4, reporters, nil)
	d.close()

	assert.NotPanics(t, func() {
		d.submit(&RequestTrace{ID: "late"})
	})
}

func TestDispatcherQueueDepthReflectsBacklog(t *testing.T) {
	release := make(chan struct{})
	reporters := newReporterList()
	reporters.add(&blockingReporter{release: release})
	d := newDispatcher(4, reporters, nil)

	d.submit(&RequestTrace{ID: "a"})
	d.submit(&RequestTrace{ID: "b"})

	assert.Eventually(t, func() bool {
		return d.queueDepth() >= 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	d.close()
}

type recordingReporter struct {
	ids []string
}

func (r *recordingReporter) IsActive(trace *RequestTrace) bool { return true }

func (r *recordingReporter) ReportRequestTrace(trace *RequestTrace) error {
	r.ids = append(r.ids, trace.ID)
	return nil
}

// blockingReporter holds the dispatcher's single worker goroutine busy
// until release is closed, so a test can observe a nonzero queue depth
// deterministically instead of racing the worker.
type blockingReporter struct {
	release chan struct{}
	done    bool
}

func (r *blockingReporter) IsActive(trace *RequestTrace) bool { return true }

func (r *blockingReporter) ReportRequestTrace(trace *RequestTrace) error {
	if !r.done {
		r.done = true
		<-r.release
	}
	return nil
}
