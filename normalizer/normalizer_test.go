package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l0run/l0/errs"
	"github.com/l0run/l0/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceIterator struct {
	evts []events.CanonicalEvent
	i    int
	// delay, if set, is applied before each Next returns, simulating a
	// slow/stalled adapter.
	delay time.Duration
}

func (s *sliceIterator) Next() (events.CanonicalEvent, bool) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.i >= len(s.evts) {
		return events.CanonicalEvent{}, false
	}
	e := s.evts[s.i]
	s.i++
	return e, true
}

func TestNormalizerAccumulatesAndReportsUsage(t *testing.T) {
	now := time.Now()
	usage := &events.Usage{TotalTokens: 3}
	src := &sliceIterator{evts: []events.CanonicalEvent{
		events.Token("hel", now),
		events.Token("lo", now),
		events.Complete(now, usage),
	}}

	var seen []events.CanonicalEvent
	n := &Normalizer{CheckpointInterval: 1, OnEvent: func(e events.CanonicalEvent) { seen = append(seen, e) }}

	res := n.Run(context.Background(), "stream-1", src)

	require.Nil(t, res.Err)
	assert.True(t, res.Completed)
	assert.Equal(t, "hello", res.AccumulatedContent)
	assert.Equal(t, 2, res.TokenCount)
	assert.Same(t, usage, res.Usage)
	assert.Len(t, seen, 3)
}

func TestNormalizerSynthesizesCompleteOnStarvedSequence(t *testing.T) {
	now := time.Now()
	src := &sliceIterator{evts: []events.CanonicalEvent{events.Token("a", now)}}

	n := &Normalizer{CheckpointInterval: 10}
	res := n.Run(context.Background(), "stream-2", src)

	require.Nil(t, res.Err)
	assert.True(t, res.Completed)
	assert.Equal(t, "a", res.AccumulatedContent)
}

func TestNormalizerEmitsCheckpointAtInterval(t *testing.T) {
	now := time.Now()
	src := &sliceIterator{evts: []events.CanonicalEvent{
		events.Token("a", now),
		events.Token("b", now),
		events.Complete(now, nil),
	}}

	var checkpoints []string
	n := &Normalizer{CheckpointInterval: 2, OnCheckpoint: func(content string, tokenCount int) {
		checkpoints = append(checkpoints, content)
	}}

	res := n.Run(context.Background(), "stream-3", src)
	require.Nil(t, res.Err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, "ab", checkpoints[0])
}

func TestNormalizerWrapsCanonicalErrorEventAsStreamError(t *testing.T) {
	now := time.Now()
	src := &sliceIterator{evts: []events.CanonicalEvent{
		events.Token("a", now),
		events.Error(errors.New("boom"), now),
	}}

	n := &Normalizer{CheckpointInterval: 10}
	res := n.Run(context.Background(), "stream-4", src)

	require.NotNil(t, res.Err)
	assert.Equal(t, errs.KindStreamError, res.Err.Kind)
	assert.Equal(t, "a", res.AccumulatedContent)
}

func TestNormalizerCancellationIsNonRecoverableAbort(t *testing.T) {
	src := &sliceIterator{delay: 200 * time.Millisecond, evts: []events.CanonicalEvent{events.Token("a", time.Now())}}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Normalizer{CheckpointInterval: 10}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := n.Run(ctx, "stream-5", src)
	require.NotNil(t, res.Err)
	assert.True(t, res.Aborted)
	assert.Equal(t, errs.KindAbort, res.Err.Kind)
	assert.False(t, errs.IsRetryable(res.Err.Kind))
}

func TestNormalizerInitialTokenTimeout(t *testing.T) {
	src := &sliceIterator{delay: 100 * time.Millisecond, evts: []events.CanonicalEvent{events.Token("late", time.Now())}}

	n := &Normalizer{Timeouts: Timeouts{InitialToken: 10 * time.Millisecond}, CheckpointInterval: 10}
	res := n.Run(context.Background(), "stream-6", src)

	require.NotNil(t, res.Err)
	assert.Equal(t, errs.KindInitialTimeout, res.Err.Kind)
}

func TestNormalizerInterTokenTimeout(t *testing.T) {
	now := time.Now()
	stepped := &steppedIterator{steps: []step{
		{evt: events.Token("a", now)},
		{delay: 50 * time.Millisecond, evt: events.Token("b", now)},
	}}

	n := &Normalizer{Timeouts: Timeouts{InterToken: 10 * time.Millisecond}, CheckpointInterval: 10}
	res := n.Run(context.Background(), "stream-7", stepped)

	require.NotNil(t, res.Err)
	assert.Equal(t, errs.KindInterTokenTimeout, res.Err.Kind)
	assert.Equal(t, "a", res.AccumulatedContent)
}

type step struct {
	evt   events.CanonicalEvent
	delay time.Duration
}

type steppedIterator struct {
	steps []step
	i     int
}

func (s *steppedIterator) Next() (events.CanonicalEvent, bool) {
	if s.i >= len(s.steps) {
		return events.CanonicalEvent{}, false
	}
	st := s.steps[s.i]
	if st.delay > 0 {
		time.Sleep(st.delay)
	}
	s.i++
	return st.evt, true
}
