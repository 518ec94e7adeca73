package requestmonitor

import (
	"crypto/rand"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestTrace is an immutable-after-publish record of one monitored
// execution. Callers do not retain references after it is handed to
// the reporter pipeline.
type RequestTrace struct {
	ID   string
	name *TraceName

	ExecutionTime   time.Duration
	CPUTime         time.Duration
	ExecutionTimeDb time.Duration
	ExecutionCountDb int64

	IsError bool
	Failure error

	CallStack *CallStackElement

	// HTTP domain extension.
	URL           string
	Method        string
	StatusCode    int
	BytesWritten  int64
	ClientIP      string
	Username      string
	Headers       map[string]string
	Parameters    map[string]string
	SessionID     string
	ConnectionID  string
	WidgetVisible bool
}

// NewRequestTrace builds a trace. An empty id is minted as a ULID, so
// adapters may pass "" the way the original's MonitoredMethodRequest
// passes null and relies on the constructor to mint one.
func NewRequestTrace(id string, name *TraceName) *RequestTrace {
	if id == "" {
		id = newULID()
	}
	return &RequestTrace{
		ID:         id,
		name:       name,
		Headers:    make(map[string]string),
		Parameters: make(map[string]string),
	}
}

func newULID() string {
	return ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
}

// Name returns the memoized, resolved trace name. An empty result
// means "do not monitor" per spec.md §3.
func (t *RequestTrace) Name() string {
	return t.name.Resolve()
}

// HasName reports whether the resolved name is non-empty.
func (t *RequestTrace) HasName() bool {
	return t.Name() != ""
}

func msOf(d time.Duration) float64 {
	return math.Round(float64(d) / float64(time.Millisecond) * 100) / 100
}
