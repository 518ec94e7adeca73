package requestmonitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPRequest(m *RequestMonitor, name, path string, handler http.HandlerFunc) *HTTPRequest {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	return NewHTTPRequest(name, WrapResponseWriter(rec), req, handler, false)
}

// Scenario 5: an outer filter-chain invocation at /a forwards to an
// inner handler at /b. Both set MonitorForwardedExecutions=true
// (HTTPRequest's policy); only the innermost produces a sample.
func TestForwardedHTTPMonitorsInnermostOnly(t *testing.T) {
	reg := newCountingRegistry()
	m := New(activeConfig(), reg, nil)
	defer m.Close()

	_, err := m.Monitor(newHTTPRequest(m, "GET /a", "/a", func(w http.ResponseWriter, r *http.Request) {
		_, innerErr := m.Monitor(newHTTPRequest(m, "GET /b", "/b", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		require.NoError(t, innerErr)
	}))
	require.NoError(t, err)

	outer := Name("response_time_server").Tag("request_name", "GET /a").Layer("All").Build()
	inner := Name("response_time_server").Tag("request_name", "GET /b").Layer("All").Build()
	assert.EqualValues(t, 0, reg.Timer(outer).Count())
	assert.EqualValues(t, 1, reg.Timer(inner).Count())
}

// A feature restored from the original's onPostExecute: every
// completed HTTP request marks a request_throughput meter tagged by
// its status code.
func TestHTTPRequestMarksThroughputMeterByStatusCode(t *testing.T) {
	reg := newCountingRegistry()
	m := New(activeConfig(), reg, nil)
	defer m.Close()

	_, err := m.Monitor(newHTTPRequest(m, "GET /created", "/created", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	require.NoError(t, err)

	key := Name("request_throughput").Tag("http_code", "201").Build()
	assert.EqualValues(t, 1, reg.Meter(key).Count())
}

func TestClientIPHeaderChain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:5555"

	h := NewHTTPRequest("GET /orders", WrapResponseWriter(httptest.NewRecorder()), req, nil, false)
	assert.Equal(t, "203.0.113.7", h.clientIP())
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.RemoteAddr = "192.0.2.9:5555"

	h := NewHTTPRequest("GET /orders", WrapResponseWriter(httptest.NewRecorder()), req, nil, false)
	assert.Equal(t, "192.0.2.9", h.clientIP())
}

func TestAnonymizeIPMasksLastOctet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-Real-IP", "198.51.100.42")

	h := NewHTTPRequest("GET /orders", WrapResponseWriter(httptest.NewRecorder()), req, nil, true)
	assert.Equal(t, "198.51.100.0", h.clientIP())
}

func TestConfidentialParamsAreRedacted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/login?username=alice&password=hunter2", nil)
	h := NewHTTPRequest("POST /login", WrapResponseWriter(httptest.NewRecorder()), req, nil, false)

	trace := h.CreateRequestTrace()
	assert.Equal(t, "alice", trace.Parameters["username"])
	assert.Equal(t, redactedValue, trace.Parameters["password"])
}

func TestStatusCodeRecordedOnPostExecute(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	h := NewHTTPRequest("GET /missing", WrapResponseWriter(rec), req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, false)

	_, err := h.Execute()
	require.NoError(t, err)

	trace := newTrace("GET /missing")
	ctx := &ExecutionContext{Trace: trace}
	h.OnPostExecute(ctx)

	assert.Equal(t, http.StatusNotFound, trace.StatusCode)
	assert.True(t, trace.IsError)
}
