package requestmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallStackElementSelfExcludesChildren(t *testing.T) {
	root := newCallStackElement("total")
	root.Total = 100 * time.Millisecond
	child := newCallStackElement("db")
	child.Total = 40 * time.Millisecond
	root.addChild(child)
	root.Self = root.Total - child.Total

	assert.Equal(t, 60*time.Millisecond, root.Self)
	assert.Len(t, root.Children, 1)
}

func TestRemoveCallsFasterThanNeverElidesRoot(t *testing.T) {
	root := newCallStackElement("total")
	root.Total = time.Microsecond

	root.RemoveCallsFasterThan(time.Second)
	assert.Equal(t, "total", root.Signature)
}
