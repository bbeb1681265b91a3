package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name    string
	matches bool
}

func (s *stubAdapter) Name() string                   { return s.name }
func (s *stubAdapter) Detect(interface{}) bool         { return s.matches }
func (s *stubAdapter) Wrap(RawStream, map[string]interface{}) CanonicalIterator { return nil }

// panicsOnDetect simulates an adapter whose Detect isn't nil-safe, to
// exercise the registration-time probe.
type panicsOnDetect struct{ name string }

func (p *panicsOnDetect) Name() string { return p.name }
func (p *panicsOnDetect) Detect(input interface{}) bool {
	return input.(string) == "x"
}
func (p *panicsOnDetect) Wrap(RawStream, map[string]interface{}) CanonicalIterator { return nil }

type warnRecorder struct{ warnings []string }

func (w *warnRecorder) Info(string, map[string]interface{})  {}
func (w *warnRecorder) Error(string, map[string]interface{}) {}
func (w *warnRecorder) Warn(msg string, _ map[string]interface{}) {
	w.warnings = append(w.warnings, msg)
}
func (w *warnRecorder) Debug(string, map[string]interface{}) {}

func (w *warnRecorder) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (w *warnRecorder) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (w *warnRecorder) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (w *warnRecorder) DebugWithContext(context.Context, string, map[string]interface{}) {}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubAdapter{name: "openai"}, RegisterOptions{}))
	err := r.Register(&stubAdapter{name: "openai"}, RegisterOptions{})
	assert.Error(t, err)
}

func TestDetectPicksHighestPriority(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubAdapter{name: "low", matches: true}, RegisterOptions{Priority: 1}))
	require.NoError(t, r.Register(&stubAdapter{name: "high", matches: true}, RegisterOptions{Priority: 10}))

	a, err := r.Detect("anything")
	require.NoError(t, err)
	assert.Equal(t, "high", a.Name())
}

func TestDetectNoMatchReturnsDescriptiveError(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubAdapter{name: "openai", matches: false}, RegisterOptions{}))

	_, err := r.Detect("anything")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

func TestRegisterLogsWarningWhenDetectPanics(t *testing.T) {
	r := New()
	logger := &warnRecorder{}
	r.SetLogger(logger)

	require.NoError(t, r.Register(&panicsOnDetect{name: "brittle"}, RegisterOptions{}))

	require.Len(t, logger.warnings, 1)
	assert.Contains(t, logger.warnings[0], "no working detect()")
}

func TestRegisterSilentSuppressesWarning(t *testing.T) {
	r := New()
	logger := &warnRecorder{}
	r.SetLogger(logger)

	require.NoError(t, r.Register(&panicsOnDetect{name: "brittle"}, RegisterOptions{Silent: true}))

	assert.Empty(t, logger.warnings)
}

func TestDetectExcludesAdapterThatFailedProbe(t *testing.T) {
	r := New()
	r.SetLogger(&warnRecorder{})
	require.NoError(t, r.Register(&panicsOnDetect{name: "brittle"}, RegisterOptions{}))

	// GetAdapter still works; only auto-detection excludes it.
	_, ok := r.GetAdapter("brittle")
	assert.True(t, ok)

	_, err := r.Detect("anything")
	assert.Error(t, err)
}

func TestUnregisterAllExceptKeepsListed(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubAdapter{name: "a"}, RegisterOptions{}))
	require.NoError(t, r.Register(&stubAdapter{name: "b"}, RegisterOptions{}))

	r.UnregisterAllExcept("a")

	_, aOK := r.GetAdapter("a")
	_, bOK := r.GetAdapter("b")
	assert.True(t, aOK)
	assert.False(t, bOK)
}
