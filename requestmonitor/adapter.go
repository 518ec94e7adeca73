package requestmonitor

import (
	"fmt"
	"strconv"
	"time"
)

// ExecutionContext is handed to OnPostExecute after timing stops and
// before reporting, the hook where adapters populate post-hoc fields
// (e.g. an HTTP status code only known once the handler has run).
type ExecutionContext struct {
	Trace         *RequestTrace
	ExecutionTime time.Duration
	CPUTime       time.Duration
	Result        interface{}
	Err           error
}

// MonitoredRequest is the contract the caller implements to describe
// one unit of work to the engine.
type MonitoredRequest interface {
	// InstanceName is used once to name the process instance if not
	// already configured. May return "".
	InstanceName() string

	// CreateRequestTrace is called after admission checks, before
	// execution.
	CreateRequestTrace() *RequestTrace

	// Execute runs the actual workload.
	Execute() (interface{}, error)

	// OnPostExecute runs after timing stops, before reporting.
	OnPostExecute(ctx *ExecutionContext)

	// MonitorForwardedExecutions is the nested-call policy: HTTP
	// adapters return true (monitor the innermost dispatched
	// handler); method-call adapters return false (monitor the
	// outermost).
	MonitorForwardedExecutions() bool
}

// MethodRequest wraps a plain Go function call, recovered from
// MonitoredMethodRequest.java. It numbers its positional arguments
// into the trace's parameter map ("0", "1", ...), names the trace
// eagerly from the call signature, and monitors the outermost call
// only: given monitored1() calling monitored2(), only monitored1
// produces a sample (scenario 6).
type MethodRequest struct {
	Signature string
	Args      []interface{}
	Fn        func() (interface{}, error)
}

// NewMethodRequest builds a MethodRequest for fn, named signature,
// with args recorded positionally in the resulting trace's
// parameter map.
func NewMethodRequest(signature string, fn func() (interface{}, error), args ...interface{}) *MethodRequest {
	return &MethodRequest{Signature: signature, Args: args, Fn: fn}
}

func (m *MethodRequest) InstanceName() string { return "" }

func (m *MethodRequest) CreateRequestTrace() *RequestTrace {
	trace := NewRequestTrace("", EagerName(m.Signature))
	for i, arg := range m.Args {
		trace.Parameters[strconv.Itoa(i)] = toParamString(arg)
	}
	return trace
}

func (m *MethodRequest) Execute() (interface{}, error) {
	return m.Fn()
}

func (m *MethodRequest) OnPostExecute(ctx *ExecutionContext) {}

func (m *MethodRequest) MonitorForwardedExecutions() bool { return false }

func toParamString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}
