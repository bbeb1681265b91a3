package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotentTransitionNoHistoryNoNotify(t *testing.T) {
	m := New()
	notified := 0
	m.Subscribe(func(Transition) { notified++ })

	m.Transition(Init) // already Init: no-op

	assert.Empty(t, m.History())
	assert.Equal(t, 0, notified)
}

func TestTransitionRecordsHistory(t *testing.T) {
	m := New()
	m.Transition(WaitingForToken)
	m.Transition(Streaming)
	m.Transition(Complete)

	h := m.History()
	require.Len(t, h, 3)
	assert.Equal(t, Init, h[0].From)
	assert.Equal(t, WaitingForToken, h[0].To)
	assert.Equal(t, Complete, m.Get())
	assert.True(t, IsTerminal(m.Get()))
}

func TestResetClearsHistoryAndNotifiesOnlyWhenNotAlreadyInit(t *testing.T) {
	m := New()
	m.Transition(Streaming)

	notified := 0
	m.Subscribe(func(Transition) { notified++ })
	m.Reset()
	assert.Equal(t, 1, notified)
	assert.Empty(t, m.History())
	assert.Equal(t, Init, m.Get())

	m.Reset() // already Init
	assert.Equal(t, 1, notified)
}

func TestListenerPanicIsolated(t *testing.T) {
	m := New()
	var secondCalled bool
	m.Subscribe(func(Transition) { panic("boom") })
	m.Subscribe(func(Transition) { secondCalled = true })

	assert.NotPanics(t, func() { m.Transition(Streaming) })
	assert.True(t, secondCalled)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := New()
	calls := 0
	unsub := m.Subscribe(func(Transition) { calls++ })
	m.Transition(Streaming)
	unsub()
	m.Transition(Complete)

	assert.Equal(t, 1, calls)
}
