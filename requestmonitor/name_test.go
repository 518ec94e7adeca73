package requestmonitor

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEagerNameResolvesToGivenString(t *testing.T) {
	n := EagerName("GET /orders")
	assert.Equal(t, "GET /orders", n.Resolve())
}

func TestDeferredNameIsEvaluatedAtMostOnce(t *testing.T) {
	var calls atomic.Int64
	n := DeferredName(func() string {
		calls.Add(1)
		return "computed"
	})

	assert.Equal(t, "computed", n.Resolve())
	assert.Equal(t, "computed", n.Resolve())
	assert.EqualValues(t, 1, calls.Load())
}

func TestNilNameResolvesEmpty(t *testing.T) {
	var n *TraceName
	assert.Equal(t, "", n.Resolve())
}
