// Package registry implements the Adapter contract and a process-wide,
// priority-ordered adapter registry, grounded on the teacher's
// ai.ProviderRegistry (name-keyed map, RWMutex, priority-sorted
// detection) — generalized from AI-provider factories to streaming
// adapters and stripped of the Vercel-style re-registration dance per
// the resolved Open Question (see DESIGN.md).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/l0run/l0/events"
	"github.com/l0run/l0/telemetry"
)

// RawStream is the provider-specific stream handed to Adapter.Wrap. It is
// an opaque interface{} because the registry and core runtime never
// interpret it — only the matching adapter does.
type RawStream = interface{}

// CanonicalIterator is a lazy pull-based sequence of canonical events,
// matching the single-threaded cooperative scheduling model: Next blocks
// until the next event is available or the stream ends.
type CanonicalIterator interface {
	Next() (events.CanonicalEvent, bool)
}

// Adapter translates a provider-specific raw stream into canonical
// events. Wrap must never panic/throw: adapter-level failures are
// surfaced as in-band error events from the returned iterator.
type Adapter interface {
	Name() string
	Detect(input interface{}) bool
	Wrap(rawStream RawStream, options map[string]interface{}) CanonicalIterator
}

// entry pairs an adapter with its registration priority and whether its
// Detect survived the registration-time probe.
type entry struct {
	adapter   Adapter
	priority  int
	hasDetect bool
}

// RegisterOptions configures one Register call.
type RegisterOptions struct {
	// Silent suppresses the "no detect()" warning log when the adapter's
	// Detect panics on the registration-time probe; it never changes
	// duplicate-registration behavior, which is always an error.
	Silent bool
	// Priority; higher wins ties during auto-detect.
	Priority int
}

// Registry is the process-wide adapter registry. Zero value is usable;
// writes (Register/Unregister/Clear) are expected to happen at init time
// and are not safe under concurrent writers, matching the Shared-Resource
// policy in §5 — concurrent reads (Detect, GetAdapter) are always safe.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]entry
	logger   telemetry.Logger
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{adapters: make(map[string]entry)}
}

// SetLogger attaches a logger used to warn about adapters whose Detect
// fails its registration-time probe. Nil disables warnings.
func (r *Registry) SetLogger(logger telemetry.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// probeDetect calls adapter.Detect(nil) once, recovering a panic so a
// broken adapter can't take the whole registry down later during
// auto-detection. Returns false if Detect panicked.
func probeDetect(adapter Adapter) (ok bool) {
	ok = true
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	adapter.Detect(nil)
	return ok
}

// Register adds adapter under its own Name(). Duplicate registration
// under the same name is always an error — Silent only suppresses the
// "no detect()" warning, never the duplicate-name error. An adapter whose
// Detect panics on the nil probe is still registered (GetAdapter always
// works) but is excluded from Detect's auto-detection candidates.
func (r *Registry) Register(adapter Adapter, opts RegisterOptions) error {
	if adapter == nil {
		return fmt.Errorf("registry: adapter cannot be nil")
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("registry: adapter.Name() cannot be empty")
	}

	hasDetect := probeDetect(adapter)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.adapters == nil {
		r.adapters = make(map[string]entry)
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("registry: adapter %q already registered", name)
	}

	if !hasDetect && !opts.Silent && r.logger != nil {
		r.logger.Warn("adapter registered with no working detect()", map[string]interface{}{
			"adapter": name,
		})
	}

	r.adapters[name] = entry{adapter: adapter, priority: opts.Priority, hasDetect: hasDetect}
	return nil
}

// Unregister removes the adapter under name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
}

// UnregisterAllExcept clears every adapter whose name is not in keep.
// Required by §9's testing helper contract.
func (r *Registry) UnregisterAllExcept(keep ...string) {
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.adapters {
		if !keepSet[name] {
			delete(r.adapters, name)
		}
	}
}

// Clear removes every registered adapter.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]entry)
}

// GetAdapter returns the adapter registered under name, if any.
func (r *Registry) GetAdapter(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.adapters[name]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// GetRegisteredStreamAdapters returns every registered adapter's name,
// sorted for deterministic output.
func (r *Registry) GetRegisteredStreamAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMatchingAdapter reports whether Detect would succeed for input,
// without raising on a miss.
func (r *Registry) HasMatchingAdapter(input interface{}) bool {
	_, err := r.detect(input)
	return err == nil
}

// Detect returns the highest-priority adapter whose Detect(input) is
// true. Ties break by name for determinism. Zero matches is a
// descriptive error listing every detectable adapter name.
func (r *Registry) Detect(input interface{}) (Adapter, error) {
	return r.detect(input)
}

func (r *Registry) detect(input interface{}) (Adapter, error) {
	r.mu.RLock()
	candidates := make([]entry, 0, len(r.adapters))
	detectable := make([]string, 0, len(r.adapters))
	for _, e := range r.adapters {
		if !e.hasDetect {
			continue
		}
		detectable = append(detectable, e.adapter.Name())
		if e.adapter.Detect(input) {
			candidates = append(candidates, e)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		sort.Strings(detectable)
		return nil, fmt.Errorf("registry: no matching adapter for input (detectable: %v)", detectable)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].adapter.Name() < candidates[j].adapter.Name()
	})

	return candidates[0].adapter, nil
}
