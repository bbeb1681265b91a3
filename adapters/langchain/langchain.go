// Package langchain adapts a github.com/tmc/langchaingo streaming
// completion into the runtime's canonical event sequence. langchaingo
// drives streaming through a caller-supplied StreamingFunc callback
// rather than a pull-based reader, so ChunkStream bridges the two: the
// caller passes its StreamingFunc to llms.WithStreamingFunc, and this
// adapter pulls from the channel it feeds. The provider-detection
// heuristic on model name is grounded on diagnyx-sdk's
// callbacks/langchaingo.go detectProvider.
package langchain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/l0run/l0/events"
	"github.com/l0run/l0/registry"
)

// ChunkStream bridges langchaingo's callback-based streaming to the
// registry's pull-based CanonicalIterator contract.
type ChunkStream struct {
	chunks chan []byte
	errCh  chan error

	mu     sync.Mutex
	closed bool
}

// NewChunkStream returns a stream ready to receive langchaingo chunks.
func NewChunkStream() *ChunkStream {
	return &ChunkStream{
		chunks: make(chan []byte, 16),
		errCh:  make(chan error, 1),
	}
}

// StreamingFunc is passed directly as llms.WithStreamingFunc's argument.
func (s *ChunkStream) StreamingFunc(ctx context.Context, chunk []byte) error {
	select {
	case s.chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals the end of generation. err is the terminal error from
// the langchaingo call that drove this stream, or nil on success. Close
// is idempotent; only the first call has any effect.
func (s *ChunkStream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err != nil {
		s.errCh <- err
	}
	close(s.chunks)
}

// Adapter recognizes and wraps a *ChunkStream.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (Adapter) Name() string { return "langchain" }

func (Adapter) Detect(input interface{}) bool {
	_, ok := input.(*ChunkStream)
	return ok
}

func (Adapter) Wrap(rawStream registry.RawStream, _ map[string]interface{}) registry.CanonicalIterator {
	stream, ok := rawStream.(*ChunkStream)
	if !ok {
		return &errorIterator{err: errors.New("langchain adapter: rawStream is not *langchain.ChunkStream")}
	}
	return &iterator{stream: stream}
}

type iterator struct {
	stream *ChunkStream
	done   bool
}

func (it *iterator) Next() (events.CanonicalEvent, bool) {
	if it.done {
		return events.CanonicalEvent{}, false
	}

	chunk, ok := <-it.stream.chunks
	if !ok {
		it.done = true
		select {
		case err := <-it.stream.errCh:
			return events.Error(err, time.Now()), true
		default:
			return events.Complete(time.Now(), nil), true
		}
	}
	return events.Token(string(chunk), time.Now()), true
}

type errorIterator struct {
	err  error
	sent bool
}

func (e *errorIterator) Next() (events.CanonicalEvent, bool) {
	if e.sent {
		return events.CanonicalEvent{}, false
	}
	e.sent = true
	return events.Error(e.err, time.Now()), true
}

// modelFamilyPrefixes mirrors diagnyx-sdk's provider-prefix table,
// generalized from tracking-provider labels to a model-family tag
// useful for guardrail/observability metadata keyed on family rather
// than exact model string.
var modelFamilyPrefixes = map[string]string{
	"gpt-":    "openai",
	"o1-":     "openai",
	"claude-": "anthropic",
	"gemini-": "google",
	"command": "cohere",
	"mistral": "mistral",
	"mixtral": "mistral",
	"llama":   "meta",
}

// DetectModelFamily returns a coarse provider family tag for model,
// falling back to "unknown" when no known prefix matches.
func DetectModelFamily(model string) string {
	lower := strings.ToLower(model)
	for prefix, family := range modelFamilyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return family
		}
	}
	return "unknown"
}
