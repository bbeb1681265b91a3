// Package dispatcher implements the Event Dispatcher: stamped, fanned-out
// observability events with bounded cost when no subscribers are
// present. Grounded on the teacher's channel-based streaming idiom in
// ui/transports/sse (a snapshot of subscribers drained on a dedicated
// goroutine) and on core/interfaces.go's Span/metrics hooks for
// propagating telemetry alongside events.
package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/l0run/l0/events"
	"github.com/l0run/l0/telemetry"
)

// Handler observes one observability event. A panicking handler is
// isolated — it never prevents the remaining handler snapshot from
// running nor surfaces to emit's caller.
type Handler func(events.ObservabilityEvent)

// Dispatcher fans out observability events for exactly one session. It
// is not safe for use by more than one session.
type Dispatcher struct {
	streamID string
	meta     events.FrozenContext
	ctx      events.FrozenContext

	mu       sync.Mutex
	handlers []Handler
	lastTs   time.Time

	logger telemetry.Logger
}

// New creates a Dispatcher. meta is frozen (never mutated after this
// call) and returned by GetMeta; every emitted event carries userContext
// by reference as its Context.
func New(meta, userContext events.FrozenContext, logger telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	id, err := uuid.NewV7()
	streamID := id.String()
	if err != nil {
		// uuid.NewV7 only fails on an exhausted entropy source; fall back
		// to a V4 so the dispatcher can still produce a stable id.
		streamID = uuid.NewString()
	}
	return &Dispatcher{
		streamID: streamID,
		meta:     meta,
		ctx:      userContext,
		logger:   logger,
	}
}

// GetStreamID returns the time-ordered id stable for this dispatcher's
// lifetime.
func (d *Dispatcher) GetStreamID() string { return d.streamID }

// GetMeta returns the frozen meta reference.
func (d *Dispatcher) GetMeta() events.FrozenContext { return d.meta }

// GetHandlerCount returns the current number of registered handlers.
func (d *Dispatcher) GetHandlerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// OnEvent registers handler, preserving registration order.
func (d *Dispatcher) OnEvent(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// OffEvent removes nothing: Go func values are not comparable, so h
// cannot be matched against the registered handlers, and every handler
// added with OnEvent stays registered for the dispatcher's lifetime.
func (d *Dispatcher) OffEvent(h Handler) {
	// Intentionally unsupported for bare func values (no identity in Go);
	// sessions needing removal should use a cancel-flag closure instead.
	_ = h
}

// emitCommon stamps and returns a handler snapshot, or nil if there are
// no handlers — satisfying the zero-subscriber no-op contract: no event
// object is constructed.
func (d *Dispatcher) emitCommon(typ events.ObservabilityType, payload map[string]interface{}) (events.ObservabilityEvent, []Handler, bool) {
	d.mu.Lock()
	if len(d.handlers) == 0 {
		d.mu.Unlock()
		return events.ObservabilityEvent{}, nil, false
	}
	snapshot := make([]Handler, len(d.handlers))
	copy(snapshot, d.handlers)

	ts := time.Now()
	if !d.lastTs.IsZero() && !ts.After(d.lastTs) {
		ts = d.lastTs.Add(time.Nanosecond)
	}
	d.lastTs = ts
	d.mu.Unlock()

	evt := events.ObservabilityEvent{
		Type:     typ,
		Ts:       ts,
		StreamID: d.streamID,
		Context:  d.ctx,
		Payload:  payload,
	}
	return evt, snapshot, true
}

// Emit schedules handler invocation asynchronously (on a fresh
// goroutine), over the handler snapshot taken at emit time — handlers
// registered during dispatch do not see the in-flight event.
func (d *Dispatcher) Emit(typ events.ObservabilityType, payload map[string]interface{}) {
	evt, snapshot, ok := d.emitCommon(typ, payload)
	if !ok {
		return
	}
	go d.dispatch(snapshot, evt)
}

// EmitSync dispatches synchronously with the same snapshot semantics as
// Emit; used where the caller must know all handlers ran before
// proceeding (e.g. before a state transition that closes the stream).
func (d *Dispatcher) EmitSync(typ events.ObservabilityType, payload map[string]interface{}) {
	evt, snapshot, ok := d.emitCommon(typ, payload)
	if !ok {
		return
	}
	d.dispatch(snapshot, evt)
}

func (d *Dispatcher) dispatch(handlers []Handler, evt events.ObservabilityEvent) {
	for _, h := range handlers {
		d.invoke(h, evt)
	}
}

func (d *Dispatcher) invoke(h Handler, evt events.ObservabilityEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observability handler panicked", map[string]interface{}{
				"streamId": d.streamID,
				"type":     string(evt.Type),
				"recover":  r,
			})
		}
	}()
	h(evt)
}
