// Package normalizer converts an adapter's canonical-event iterator into
// the runtime's internal event form: it enforces initial/inter-token
// timeouts, maintains rolling accumulated text, and snapshots periodic
// checkpoints. Grounded on the teacher's context-raced execution idiom in
// resilience.circuit_breaker (select over a done channel and a timer) and
// on ui's channel-based streaming pull model.
package normalizer

import (
	"context"
	"time"

	"github.com/l0run/l0/errs"
	"github.com/l0run/l0/events"
	"github.com/l0run/l0/registry"
)

// Timeouts configures the composable timeout wrapper. A zero value
// disables the corresponding check.
type Timeouts struct {
	InitialToken time.Duration
	InterToken   time.Duration
}

// Result is what Normalizer.Run reports back once the underlying
// iterator is exhausted or fails.
type Result struct {
	Aborted            bool
	Err                *errs.RuntimeError
	AccumulatedContent string
	TokenCount         int
	Completed          bool
	Usage              *events.Usage
}

// CheckpointFunc is invoked every checkpointInterval tokens with the
// accumulated content snapshot.
type CheckpointFunc func(content string, tokenCount int)

// EventFunc receives each canonical event the normalizer forwards to the
// consumer, in adapter order.
type EventFunc func(events.CanonicalEvent)

// Normalizer drives one attempt's canonical-event pull loop.
type Normalizer struct {
	Timeouts           Timeouts
	CheckpointInterval int
	OnCheckpoint       CheckpointFunc
	OnEvent            EventFunc
}

// Run pulls from source until it ends, a canonical error event arrives,
// a timeout fires, or ctx is canceled. It never blocks the caller past
// these suspension points, matching the single-threaded cooperative
// scheduling model: the only concurrency here is the one goroutine
// feeding the iterator's blocking Next() so a stall can still be timed
// out from the caller's goroutine.
func (n *Normalizer) Run(ctx context.Context, streamID string, source registry.CanonicalIterator) Result {
	type pulled struct {
		evt events.CanonicalEvent
		ok  bool
	}
	ch := make(chan pulled, 1)

	pull := func() {
		evt, ok := source.Next()
		ch <- pulled{evt, ok}
	}
	go pull()

	var (
		accumulated     string
		tokenCount      int
		sinceCheckpoint int
		firstToken      bool
	)

	armTimer := func() *time.Timer {
		if !firstToken {
			if n.Timeouts.InitialToken > 0 {
				return time.NewTimer(n.Timeouts.InitialToken)
			}
			return nil
		}
		if n.Timeouts.InterToken > 0 {
			return time.NewTimer(n.Timeouts.InterToken)
		}
		return nil
	}

	for {
		timer := armTimer()
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Result{
				Aborted:            true,
				Err:                errs.New("normalizer.run", errs.KindAbort, streamID, errs.ErrAborted),
				AccumulatedContent: accumulated,
				TokenCount:         tokenCount,
			}

		case <-timerC:
			kind := errs.KindInitialTimeout
			if firstToken {
				kind = errs.KindInterTokenTimeout
			}
			return Result{
				Err:                errs.New("normalizer.run", kind, streamID, context.DeadlineExceeded),
				AccumulatedContent: accumulated,
				TokenCount:         tokenCount,
			}

		case p := <-ch:
			if timer != nil {
				timer.Stop()
			}
			if !p.ok {
				// Underlying sequence ended without an explicit complete:
				// synthesize one.
				return Result{
					AccumulatedContent: accumulated,
					TokenCount:         tokenCount,
					Completed:          true,
				}
			}

			switch p.evt.Kind {
			case events.KindToken:
				firstToken = true
				accumulated += p.evt.Value
				tokenCount++
				sinceCheckpoint++
				if n.OnEvent != nil {
					n.OnEvent(p.evt)
				}
				interval := n.CheckpointInterval
				if interval <= 0 {
					interval = 10
				}
				if sinceCheckpoint >= interval {
					sinceCheckpoint = 0
					if n.OnCheckpoint != nil {
						n.OnCheckpoint(accumulated, tokenCount)
					}
				}
				go pull()

			case events.KindMessage:
				if n.OnEvent != nil {
					n.OnEvent(p.evt)
				}
				go pull()

			case events.KindComplete:
				if n.OnEvent != nil {
					n.OnEvent(p.evt)
				}
				return Result{
					AccumulatedContent: accumulated,
					TokenCount:         tokenCount,
					Completed:          true,
					Usage:              p.evt.Usage,
				}

			case events.KindError:
				if n.OnEvent != nil {
					n.OnEvent(p.evt)
				}
				return Result{
					Err:                errs.New("normalizer.run", errs.KindStreamError, streamID, p.evt.Err),
					AccumulatedContent: accumulated,
					TokenCount:         tokenCount,
				}
			}
		}
	}
}
