// Package openai adapts github.com/sashabaranov/go-openai's chat
// completion stream into the runtime's canonical event sequence. The
// wrap-and-translate shape is grounded on diagnyx-sdk's OpenAIWrapper
// (wrappers.go): take the provider's native type, pull out content and
// usage, never swallow a provider error.
package openai

import (
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/l0run/l0/events"
	"github.com/l0run/l0/registry"
)

// Adapter recognizes and wraps a *openai.ChatCompletionStream.
type Adapter struct{}

// New returns the OpenAI adapter. It carries no state, so one instance
// may be shared across every session in the process and registered once
// at init time.
func New() *Adapter { return &Adapter{} }

func (Adapter) Name() string { return "openai" }

func (Adapter) Detect(input interface{}) bool {
	_, ok := input.(*openai.ChatCompletionStream)
	return ok
}

// Wrap returns an iterator driving stream.Recv() until io.EOF or a
// populated Usage field (the go-openai convention for the final chunk
// when usage reporting is requested via StreamOptions.IncludeUsage).
func (Adapter) Wrap(rawStream registry.RawStream, _ map[string]interface{}) registry.CanonicalIterator {
	stream, ok := rawStream.(*openai.ChatCompletionStream)
	if !ok {
		return &errorIterator{err: errors.New("openai adapter: rawStream is not *openai.ChatCompletionStream")}
	}
	return &iterator{stream: stream}
}

type iterator struct {
	stream *openai.ChatCompletionStream
	done   bool
}

func (it *iterator) Next() (events.CanonicalEvent, bool) {
	for {
		if it.done {
			return events.CanonicalEvent{}, false
		}

		resp, err := it.stream.Recv()
		if errors.Is(err, io.EOF) {
			it.done = true
			return events.Complete(time.Now(), nil), true
		}
		if err != nil {
			it.done = true
			return events.Error(err, time.Now()), true
		}

		if resp.Usage != nil {
			it.done = true
			return events.Complete(time.Now(), &events.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}), true
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return events.Token(delta, time.Now()), true
	}
}

// errorIterator surfaces a single wrap-time failure as one in-band error
// event, matching the contract that Adapter.Wrap must never panic.
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
