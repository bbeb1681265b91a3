package l0

import (
	"sync"
	"time"

	"github.com/l0run/l0/continuation"
	"github.com/l0run/l0/errs"
	"github.com/l0run/l0/statemachine"
)

// Session is the mutable runtime record for one streaming session. It is
// guarded by an internal mutex; callers never receive a *Session
// directly — only the mutex-free SessionView snapshots produced by View,
// matching the copying-a-struct-with-a-mutex anti-pattern the teacher
// avoids throughout core/agent.go.
type Session struct {
	mu sync.Mutex

	id                 string
	startedAt          time.Time
	state              statemachine.State
	attempt            int
	fallbackIndex      int
	accumulatedContent string
	tokenCount         int
	lastCheckpoint     *continuation.Checkpoint
	err                error
}

// SessionView is a point-in-time, mutex-free copy of a Session, safe to
// hand to consumers and to read from concurrently.
type SessionView struct {
	ID                 string
	StartedAt          time.Time
	State              statemachine.State
	Attempt            int
	FallbackIndex      int
	AccumulatedContent string
	TokenCount         int
	LastCheckpoint     *continuation.Checkpoint
	Err                error
}

func newSession(id string) *Session {
	return &Session{id: id, startedAt: time.Now(), state: statemachine.Init}
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		ID:                 s.id,
		StartedAt:          s.startedAt,
		State:              s.state,
		Attempt:            s.attempt,
		FallbackIndex:      s.fallbackIndex,
		AccumulatedContent: s.accumulatedContent,
		TokenCount:         s.tokenCount,
		LastCheckpoint:     s.lastCheckpoint,
		Err:                s.err,
	}
}

func (s *Session) setState(st statemachine.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setAttempt(attempt, fallbackIndex int) {
	s.mu.Lock()
	s.attempt, s.fallbackIndex = attempt, fallbackIndex
	s.mu.Unlock()
}

// appendToken records delta against the accumulated content and returns
// the token count after incrementing — the count the guardrail engine
// and checkpoint cadence key off of.
func (s *Session) appendToken(delta string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulatedContent += delta
	s.tokenCount++
	return s.tokenCount
}

func (s *Session) setCheckpoint(cp continuation.Checkpoint) {
	s.mu.Lock()
	s.lastCheckpoint = &cp
	s.mu.Unlock()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// RetryPolicy mirrors orchestrator.Policy at the public API surface so
// callers of Run never need to import the orchestrator package directly.
type RetryPolicy struct {
	Attempts        int
	MaxRetries      int
	Backoff         string
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RetryOn         []errs.Kind
	ErrorTypeDelays map[errs.Kind]time.Duration
}

// DefaultRetryPolicy matches the spec's documented defaults: 2 attempts
// (retries per provider), fixed-jitter backoff, 1s base / 5s max delay.
// RetryOn is left empty, so no error kind is retried until the caller
// lists the kinds it wants retried.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  2,
		Backoff:   "fixed-jitter",
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	}
}
