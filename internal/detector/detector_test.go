package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/note"
	"github.com/notedrift/geist/internal/session"
	"github.com/notedrift/geist/internal/simgraph"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/trajectory"
)

func testHandle(t *testing.T) *session.Handle {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "detector-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	db, err := store.Open(filepath.Join(tmpDir, "sessions.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(tmpDir)
	})

	embeddings := map[string][]float64{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0, 1},
	}
	links := []note.Link{{Source: "a", Target: "b"}}
	records := make(map[string]store.Record, len(embeddings))
	for id, v := range embeddings {
		records[id] = store.Record{NoteID: id, Vector: v, ClusterID: store.Noise}
	}
	return &session.Handle{
		Date:       "2025-01-01",
		Session:    &store.Session{Date: "2025-01-01", Records: records, Links: links},
		Graph:      simgraph.New("2025-01-01", embeddings, links),
		Trajectory: trajectory.New(db, trajectory.Params{VelocityWindow: 3}),
		Analysis:   config.Default().Analysis,
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Duplicate registration must panic")
		}
	}()
	Register("dup-test", func(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
		return nil, nil
	})
	Register("dup-test", func(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
		return nil, nil
	})
}

func TestEngineFillsSuggestionMetadata(t *testing.T) {
	Register("meta-test", func(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
		return []Suggestion{{Text: "found something", NoteIDs: []string{"a"}}}, nil
	})

	engine := NewEngine(Policy{Timeout: time.Second, MaxFailures: 3})
	suggestions := engine.Run(context.Background(), testHandle(t))

	var found *Suggestion
	for i := range suggestions {
		if suggestions[i].Detector == "meta-test" {
			found = &suggestions[i]
		}
	}
	if found == nil {
		t.Fatal("meta-test suggestion missing from run output")
	}
	if found.ID == "" {
		t.Error("Engine must assign suggestion ids")
	}
}

func TestFailingDetectorIsDisabled(t *testing.T) {
	calls := 0
	Register("flaky-test", func(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
		calls++
		return nil, errors.New("boom")
	})

	engine := NewEngine(Policy{Timeout: time.Second, MaxFailures: 2})
	h := testHandle(t)

	engine.Run(context.Background(), h) // failure 1
	engine.Run(context.Background(), h) // failure 2: disabled
	engine.Run(context.Background(), h) // skipped

	if calls != 2 {
		t.Errorf("Expected 2 invocations before disable, got %d", calls)
	}
	disabled := engine.Disabled()
	found := false
	for _, name := range disabled {
		if name == "flaky-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("flaky-test should be disabled, got %v", disabled)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	fail := true
	Register("recovering-test", func(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return nil, nil
	})

	engine := NewEngine(Policy{Timeout: time.Second, MaxFailures: 2})
	h := testHandle(t)

	engine.Run(context.Background(), h) // failure 1
	fail = false
	engine.Run(context.Background(), h) // success resets
	fail = true
	engine.Run(context.Background(), h) // failure 1 again, not disabled

	for _, name := range engine.Disabled() {
		if name == "recovering-test" {
			t.Error("A success between failures must reset the consecutive count")
		}
	}
}

func TestSlowDetectorTimesOut(t *testing.T) {
	Register("slow-test", func(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
		select {
		case <-time.After(5 * time.Second):
			return []Suggestion{{Text: "too late"}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	engine := NewEngine(Policy{Timeout: 50 * time.Millisecond, MaxFailures: 3})
	start := time.Now()
	suggestions := engine.Run(context.Background(), testHandle(t))
	if time.Since(start) > 2*time.Second {
		t.Fatal("Engine did not enforce the detector timeout")
	}
	for _, s := range suggestions {
		if s.Detector == "slow-test" {
			t.Error("Timed-out detector must contribute no suggestions")
		}
	}
}

func TestOrphanNotesBuiltin(t *testing.T) {
	h := testHandle(t)

	suggestions, err := orphanNotes(context.Background(), h)
	if err != nil {
		t.Fatalf("orphan-notes failed: %v", err)
	}
	if len(suggestions) != 1 || len(suggestions[0].NoteIDs) != 1 || suggestions[0].NoteIDs[0] != "c" {
		t.Errorf("Expected c flagged as the orphan, got %+v", suggestions)
	}
}

func TestOrphanNotesHonorsConfiguredCount(t *testing.T) {
	embeddings := map[string][]float64{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0, 1},
		"d": {0.1, 0.9},
	}
	links := []note.Link{{Source: "a", Target: "b"}}
	h := &session.Handle{
		Date:     "2025-01-01",
		Session:  &store.Session{Date: "2025-01-01", Links: links},
		Graph:    simgraph.New("2025-01-01", embeddings, links),
		Analysis: config.Default().Analysis,
	}
	h.Analysis.OrphanCount = 1

	suggestions, err := orphanNotes(context.Background(), h)
	if err != nil {
		t.Fatalf("orphan-notes failed: %v", err)
	}
	if len(suggestions) != 1 || len(suggestions[0].NoteIDs) != 1 {
		t.Fatalf("Expected the configured count of 1 orphan, got %+v", suggestions)
	}
}
