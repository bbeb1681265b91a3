package dispatcher

import (
	"sync"
	"testing"

	"github.com/l0run/l0/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroSubscriberEmitIsNoOp(t *testing.T) {
	d := New(nil, nil, nil)
	assert.Equal(t, 0, d.GetHandlerCount())
	d.EmitSync(events.TypeSessionStart, nil) // must not panic even with zero handlers
}

func TestEmitSyncStampsBaseFields(t *testing.T) {
	d := New(events.FrozenContext{"k": "v"}, events.FrozenContext{"user": "alice"}, nil)

	var got events.ObservabilityEvent
	d.OnEvent(func(e events.ObservabilityEvent) { got = e })
	d.EmitSync(events.TypeAttemptStart, map[string]interface{}{"attempt": 1})

	assert.Equal(t, events.TypeAttemptStart, got.Type)
	assert.Equal(t, d.GetStreamID(), got.StreamID)
	assert.Equal(t, "alice", got.Context["user"])
	assert.Equal(t, 1, got.Payload["attempt"])
	assert.False(t, got.Ts.IsZero())
}

func TestHandlerOrderAndIsolation(t *testing.T) {
	d := New(nil, nil, nil)
	var mu sync.Mutex
	var order []int

	d.OnEvent(func(events.ObservabilityEvent) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		panic("handler 1 blew up")
	})
	d.OnEvent(func(events.ObservabilityEvent) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	d.EmitSync(events.TypeToken, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, []int{1, 2}, order)
}

func TestSnapshotDispatchExcludesLateRegistration(t *testing.T) {
	d := New(nil, nil, nil)
	var secondFired bool

	d.OnEvent(func(events.ObservabilityEvent) {
		d.OnEvent(func(events.ObservabilityEvent) { secondFired = true })
	})

	d.EmitSync(events.TypeComplete, nil)
	assert.False(t, secondFired, "handler registered during dispatch must not see the in-flight event")

	d.EmitSync(events.TypeComplete, nil)
	assert.True(t, secondFired)
}

func TestTimestampsNonDecreasing(t *testing.T) {
	d := New(nil, nil, nil)
	var timestamps []int64
	d.OnEvent(func(e events.ObservabilityEvent) {
		timestamps = append(timestamps, e.Ts.UnixNano())
	})

	for i := 0; i < 5; i++ {
		d.EmitSync(events.TypeToken, nil)
	}

	for i := 1; i < len(timestamps); i++ {
		assert.GreaterOrEqual(t, timestamps[i], timestamps[i-1])
	}
}
