// Package detector runs named pattern detectors over a read-only session
// handle. Detectors are pure functions registered statically at startup; any
// detector can be added without touching the engine. The registry enforces
// the caller-side policy the engine itself must not defeat: a per-detector
// timeout and disabling after repeated consecutive failures.
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/session"
)

// Suggestion is one detector finding.
type Suggestion struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	NoteIDs  []string `json:"note_ids"`
	Detector string   `json:"detector"`
}

// Func is a pure detector. It may call the handle repeatedly and
// concurrently; it must not mutate anything it reads.
type Func func(ctx context.Context, h *session.Handle) ([]Suggestion, error)

var (
	regMu    sync.RWMutex
	registry = make(map[string]Func)
)

// Register adds a detector under a stable name. Call from init; duplicate
// names panic since they indicate a build-time mistake.
func Register(name string, fn Func) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("detector %q registered twice", name))
	}
	registry[name] = fn
}

// Names lists the registered detectors, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy is the per-detector execution policy.
type Policy struct {
	Timeout     time.Duration
	MaxFailures int
}

// Engine runs detectors under the policy, tracking consecutive failures per
// detector across runs within one process.
type Engine struct {
	policy Policy

	mu       sync.Mutex
	failures map[string]int
	disabled map[string]bool
}

// NewEngine builds an Engine with the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{
		policy:   policy,
		failures: make(map[string]int),
		disabled: make(map[string]bool),
	}
}

// Run invokes every enabled registered detector against the handle and
// collects suggestions. A failing detector is logged and skipped, and after
// MaxFailures consecutive failures it is disabled for the rest of the
// process. Detector order is name-sorted so output order is stable.
func (e *Engine) Run(ctx context.Context, h *session.Handle) []Suggestion {
	var out []Suggestion
	for _, name := range Names() {
		if e.isDisabled(name) {
			continue
		}
		regMu.RLock()
		fn := registry[name]
		regMu.RUnlock()

		suggestions, err := e.invoke(ctx, name, fn, h)
		if err != nil {
			logging.Warn("detector", "%s failed on %s: %v", name, h.Date, err)
			e.recordFailure(name)
			continue
		}
		e.recordSuccess(name)
		out = append(out, suggestions...)
	}
	return out
}

func (e *Engine) invoke(ctx context.Context, name string, fn Func, h *session.Handle) ([]Suggestion, error) {
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}

	type result struct {
		suggestions []Suggestion
		err         error
	}
	done := make(chan result, 1)
	go func() {
		s, err := fn(ctx, h)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		for i := range r.suggestions {
			if r.suggestions[i].ID == "" {
				r.suggestions[i].ID = uuid.NewString()
			}
			r.suggestions[i].Detector = name
		}
		return r.suggestions, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("detector %s: %w", name, ctx.Err())
	}
}

func (e *Engine) isDisabled(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled[name]
}

func (e *Engine) recordFailure(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[name]++
	if e.policy.MaxFailures > 0 && e.failures[name] >= e.policy.MaxFailures {
		e.disabled[name] = true
		logging.Warn("detector", "%s disabled after %d consecutive failures", name, e.failures[name])
	}
}

func (e *Engine) recordSuccess(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[name] = 0
}

// Disabled lists detectors disabled by the failure policy, sorted.
func (e *Engine) Disabled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for name := range e.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
