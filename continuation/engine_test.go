package continuation

import (
	"context"
	"testing"
	"time"

	"github.com/l0run/l0/errs"
	"github.com/l0run/l0/guardrail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareResumeVetoesOnFatalViolation(t *testing.T) {
	store := NewMemoryCheckpointStore()
	cp := Checkpoint{SessionID: "s1", Content: "partial output", TokenCount: 10, TakenAt: time.Now()}
	require.NoError(t, store.Save(context.Background(), cp))

	e := New(DedupConfig{MinOverlap: 1, MaxOverlap: 32}, store, nil)

	plan, err := e.PrepareResume(context.Background(), "s1", []guardrail.Violation{
		{Rule: "policy", Severity: guardrail.SeverityFatal, Message: "disallowed content", Recoverable: false},
	})

	require.NoError(t, err)
	assert.True(t, plan.Vetoed)
	assert.Equal(t, "disallowed content", plan.VetoReason)
}

func TestPrepareResumeBuildsPromptAndDedupOnClearViolations(t *testing.T) {
	store := NewMemoryCheckpointStore()
	cp := Checkpoint{SessionID: "s2", Content: "the answer is forty-two", TokenCount: 5, TakenAt: time.Now()}
	require.NoError(t, store.Save(context.Background(), cp))

	e := New(DedupConfig{MinOverlap: 1, MaxOverlap: 32}, store, nil)

	plan, err := e.PrepareResume(context.Background(), "s2", []guardrail.Violation{
		{Rule: "json-balance", Severity: guardrail.SeverityWarning, Message: "minor"},
	})

	require.NoError(t, err)
	assert.False(t, plan.Vetoed)
	require.NotNil(t, plan.Dedup)
	assert.Contains(t, plan.Prompt, cp.Content)
}

func TestPrepareResumeMissingCheckpointReturnsSentinel(t *testing.T) {
	store := NewMemoryCheckpointStore()
	e := New(DedupConfig{}, store, nil)

	_, err := e.PrepareResume(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCheckpointUnavailable)
}

func TestCustomPromptBuilderIsUsed(t *testing.T) {
	store := NewMemoryCheckpointStore()
	cp := Checkpoint{SessionID: "s3", Content: "x"}
	require.NoError(t, store.Save(context.Background(), cp))

	e := New(DedupConfig{}, store, func(c Checkpoint) string { return "custom:" + c.Content })
	plan, err := e.PrepareResume(context.Background(), "s3", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom:x", plan.Prompt)
}
