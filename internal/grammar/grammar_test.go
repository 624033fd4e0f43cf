package grammar

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/note"
	"github.com/notedrift/geist/internal/session"
	"github.com/notedrift/geist/internal/simgraph"
	"github.com/notedrift/geist/internal/store"
)

func testHandle(date string) *session.Handle {
	embeddings := map[string][]float64{
		"hub":    {1, 0},
		"spoke1": {0.9, 0.1},
		"spoke2": {0.8, 0.2},
		"loner":  {0, 1},
	}
	links := []note.Link{
		{Source: "spoke1", Target: "hub"},
		{Source: "spoke2", Target: "hub"},
	}
	records := make(map[string]store.Record, len(embeddings))
	for id, v := range embeddings {
		records[id] = store.Record{NoteID: id, Vector: v, ClusterID: store.Noise}
	}
	return &session.Handle{
		Date:     date,
		Session:  &store.Session{Date: date, Records: records, Links: links},
		Graph:    simgraph.New(date, embeddings, links),
		Analysis: config.Default().Analysis,
	}
}

func TestSeedIsStablePerDate(t *testing.T) {
	if Seed("2025-01-01") != Seed("2025-01-01") {
		t.Error("Seed must be a pure function of the date")
	}
	if Seed("2025-01-01") == Seed("2025-01-02") {
		t.Error("Different dates should seed differently")
	}
}

func TestExpandDeterministicPerDate(t *testing.T) {
	rules := map[string][]string{
		"opener":  {"What if", "Consider that", "Notice how"},
		"subject": {"{hub-note()}", "{orphan-note()}"},
	}
	h := testHandle("2025-01-01")

	first, err := Expand("{opener} {subject} keeps coming back?", rules, h, 0)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	second, err := Expand("{opener} {subject} keeps coming back?", rules, h, 0)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if first != second {
		t.Errorf("Same date must expand identically: %q vs %q", first, second)
	}
	if strings.Contains(first, "{") {
		t.Errorf("Placeholders left unexpanded: %q", first)
	}
}

func TestExpandFunctionCall(t *testing.T) {
	h := testHandle("2025-01-01")
	out, err := Expand("{hub-note()}", nil, h, 0)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	linked := map[string]bool{"hub": true, "spoke1": true, "spoke2": true}
	if !linked[out] {
		t.Errorf("hub-note should yield a linked note, got %q", out)
	}
	again, err := Expand("{hub-note()}", nil, h, 0)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if out != again {
		t.Errorf("Function expansion not deterministic per date: %q vs %q", out, again)
	}
}

func TestHubNoteHonorsConfiguredCount(t *testing.T) {
	h := testHandle("2025-01-01")
	h.Analysis.HubCount = 1

	rng := rand.New(rand.NewSource(Seed(h.Date)))
	hubs, err := hubNote(h, rng, nil)
	if err != nil {
		t.Fatalf("hub-note failed: %v", err)
	}
	if len(hubs) != 1 || hubs[0] != "hub" {
		t.Errorf("Expected the single highest-degree note, got %v", hubs)
	}
}

func TestExpandUnknownRule(t *testing.T) {
	h := testHandle("2025-01-01")
	if _, err := Expand("{no-such-rule}", nil, h, 0); err == nil {
		t.Error("Expected error for unknown rule")
	}
	if _, err := Expand("{no-such-fn()}", nil, h, 0); err == nil {
		t.Error("Expected error for unknown function")
	}
}

func TestExpandCyclicGrammarHitsCeiling(t *testing.T) {
	rules := map[string][]string{
		"a": {"{b}"},
		"b": {"{a}"},
	}
	h := testHandle("2025-01-01")
	if _, err := Expand("{a}", rules, h, 4); err == nil {
		t.Error("Cyclic grammar must error at the depth ceiling, not recurse forever")
	}
}

func TestRegisteredFunctionsAreDeterministic(t *testing.T) {
	h := testHandle("2025-01-01")
	rng := rand.New(rand.NewSource(Seed(h.Date)))

	for _, name := range Names() {
		regMu.RLock()
		fn := registry[name]
		regMu.RUnlock()

		a, err := fn(h, rng, nil)
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
		b, err := fn(h, rand.New(rand.NewSource(Seed(h.Date))), nil)
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
		if len(a) != len(b) {
			t.Errorf("%s returned different result sizes: %d vs %d", name, len(a), len(b))
			continue
		}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("%s result %d differs: %q vs %q", name, i, a[i], b[i])
			}
		}
	}
}
