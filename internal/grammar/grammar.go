// Package grammar hosts the function registry and expansion helper consumed
// by the provocation templates. Every function is deterministic given the
// session date: randomness comes from a rand.Rand seeded by FNV-1a of the
// date string, so replaying a date regenerates identical text.
package grammar

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/notedrift/geist/internal/session"
)

// Func produces candidate strings from a read-only session handle. args are
// primitive values from the template; implementations must be deterministic
// given the same handle, rng state and args.
type Func func(h *session.Handle, rng *rand.Rand, args []string) ([]string, error)

var (
	regMu    sync.RWMutex
	registry = make(map[string]Func)
)

// Register adds a grammar function under a stable name. Call from init.
func Register(name string, fn Func) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("grammar function %q registered twice", name))
	}
	registry[name] = fn
}

// Names lists registered functions, sorted.
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

// Seed derives the per-session seed from the ISO date string with FNV-1a.
func Seed(date string) int64 {
	h := fnv.New64a()
	h.Write([]byte(date))
	return int64(h.Sum64())
}

// MaxDepth is the hard ceiling on expansion passes. A template still holding
// placeholders after this many passes is cyclic or malformed.
const MaxDepth = 16

// tokenRe matches {rule} and {name(arg,arg)} placeholders.
var tokenRe = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)(?:\(([^){}]*)\))?\}`)

// Expand rewrites template against the grammar rules and function registry
// until no placeholders remain. {name} picks one alternative of rule name
// seeded by the session date; {name(args)} calls the registered function
// name and picks one of its results. Expansion is iterative with an explicit
// depth counter and fails on cycles rather than recursing unboundedly.
func Expand(template string, rules map[string][]string, h *session.Handle, maxDepth int) (string, error) {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}
	rng := rand.New(rand.NewSource(Seed(h.Date)))

	current := template
	for depth := 0; depth < maxDepth; depth++ {
		if !tokenRe.MatchString(current) {
			return current, nil
		}
		var expandErr error
		current = tokenRe.ReplaceAllStringFunc(current, func(tok string) string {
			if expandErr != nil {
				return tok
			}
			out, err := expandToken(tok, rules, h, rng)
			if err != nil {
				expandErr = err
				return tok
			}
			return out
		})
		if expandErr != nil {
			return "", expandErr
		}
	}
	return "", fmt.Errorf("template still expanding after %d passes (cyclic grammar?): %q",
		maxDepth, template)
}

func expandToken(tok string, rules map[string][]string, h *session.Handle, rng *rand.Rand) (string, error) {
	m := tokenRe.FindStringSubmatch(tok)
	name := m[1]

	// Function call form.
	if m[2] != "" || strings.Contains(tok, "(") {
		regMu.RLock()
		fn, ok := registry[name]
		regMu.RUnlock()
		if !ok {
			return "", fmt.Errorf("unknown grammar function %q", name)
		}
		var args []string
		if m[2] != "" {
			for _, a := range strings.Split(m[2], ",") {
				args = append(args, strings.TrimSpace(a))
			}
		}
		results, err := fn(h, rng, args)
		if err != nil {
			return "", fmt.Errorf("grammar function %s: %w", name, err)
		}
		if len(results) == 0 {
			return "", nil
		}
		return results[rng.Intn(len(results))], nil
	}

	alternatives, ok := rules[name]
	if !ok || len(alternatives) == 0 {
		return "", fmt.Errorf("unknown grammar rule %q", name)
	}
	return alternatives[rng.Intn(len(alternatives))], nil
}
