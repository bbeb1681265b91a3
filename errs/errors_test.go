package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeErrorWrapping(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New("orchestrator.attempt", KindNetworkError, "stream-123", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stream-123")
	assert.Contains(t, err.Error(), "orchestrator.attempt")
}

func TestRuntimeErrorWithoutOp(t *testing.T) {
	err := &RuntimeError{Kind: KindZeroOutput, Message: "empty stream"}
	assert.Equal(t, "empty stream", err.Error())
}

func TestIsRetryableIsTerminal(t *testing.T) {
	assert.True(t, IsRetryable(KindNetworkError))
	assert.False(t, IsRetryable(KindAbort))

	assert.True(t, IsTerminal(KindAbort))
	assert.False(t, IsTerminal(KindNetworkError))
}

func TestSentinelErrorsComparable(t *testing.T) {
	wrapped := New("registry.detect", KindUnknown, "", ErrNoMatchingAdapter)
	assert.True(t, errors.Is(wrapped, ErrNoMatchingAdapter))
}
