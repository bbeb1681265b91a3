package openai

import (
	"testing"

	"github.com/l0run/l0/events"
	"github.com/stretchr/testify/assert"
)

func TestDetectRejectsForeignType(t *testing.T) {
	a := New()
	assert.False(t, a.Detect("not a stream"))
	assert.False(t, a.Detect(nil))
}

func TestWrapOnWrongTypeYieldsSingleErrorEvent(t *testing.T) {
	a := New()
	it := a.Wrap("not a stream", nil)

	evt, ok := it.Next()
	assert.True(t, ok)
	assert.Equal(t, events.KindError, evt.Kind)
	assert.Error(t, evt.Err)

	_, ok = it.Next()
	assert.False(t, ok)
}
