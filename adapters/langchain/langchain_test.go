package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/l0run/l0/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStreamFeedsTokensThenCompletes(t *testing.T) {
	s := NewChunkStream()
	a := New()
	assert.True(t, a.Detect(s))

	go func() {
		_ = s.StreamingFunc(context.Background(), []byte("hello "))
		_ = s.StreamingFunc(context.Background(), []byte("world"))
		s.Close(nil)
	}()

	it := a.Wrap(s, nil)

	evt, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, events.KindToken, evt.Kind)
	assert.Equal(t, "hello ", evt.Value)

	evt, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, "world", evt.Value)

	evt, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, events.KindComplete, evt.Kind)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestChunkStreamSurfacesTerminalError(t *testing.T) {
	s := NewChunkStream()
	a := New()

	go func() {
		_ = s.StreamingFunc(context.Background(), []byte("partial"))
		s.Close(errors.New("upstream failed"))
	}()

	it := a.Wrap(s, nil)

	evt, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, events.KindToken, evt.Kind)

	evt, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, events.KindError, evt.Kind)
	assert.EqualError(t, evt.Err, "upstream failed")
}

func TestDetectModelFamily(t *testing.T) {
	assert.Equal(t, "openai", DetectModelFamily("gpt-4o"))
	assert.Equal(t, "anthropic", DetectModelFamily("claude-3-5-sonnet"))
	assert.Equal(t, "unknown", DetectModelFamily("some-custom-model"))
}
