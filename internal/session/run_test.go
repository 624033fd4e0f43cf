package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/embedding"
	"github.com/notedrift/geist/internal/note"
	"github.com/notedrift/geist/internal/profiling"
	"github.com/notedrift/geist/internal/semcache"
	"github.com/notedrift/geist/internal/store"
)

// fixedSource serves a static corpus.
type fixedSource struct {
	corpus *note.Corpus
}

func (s *fixedSource) Load() (*note.Corpus, error) { return s.corpus, nil }

// hashProvider derives a deterministic vector from the text; optionally fails
// for texts containing a marker.
type hashProvider struct {
	calls    int64
	failWord string
}

func (p *hashProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	atomic.AddInt64(&p.calls, 1)
	if p.failWord != "" && strings.Contains(text, p.failWord) {
		return nil, embedding.ErrUnavailable
	}
	vec := make([]float64, 4)
	for i, b := range []byte(note.HashContent(text))[:4] {
		vec[i] = float64(b) / 255.0
	}
	return vec, nil
}

func (p *hashProvider) Dimensions() int { return 4 }

func testCorpus() *note.Corpus {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var notes []note.Note
	for _, pair := range [][2]string{
		{"garden/tomatoes", "Tomato seedlings need hardening off before transplant. See [[garden/compost]]."},
		{"garden/compost", "Compost pile needs turning weekly through summer."},
		{"reading/raft", "Raft reaches consensus through leader election and log replication."},
		{"reading/paxos", "Paxos notes, related to [[reading/raft]]."},
		{"inbox/loose-thought", "A loose thought with no links anywhere."},
	} {
		notes = append(notes, note.New(pair[0], pair[1], created, created))
	}
	return &note.Corpus{
		Notes: notes,
		Links: []note.Link{
			{Source: "garden/tomatoes", Target: "garden/compost"},
			{Source: "reading/paxos", Target: "reading/raft"},
		},
	}
}

func setupRunner(t *testing.T, provider embedding.Provider, corpus *note.Corpus) (*Runner, *store.DB, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "session-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	db, err := store.Open(filepath.Join(tmpDir, "sessions.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open store: %v", err)
	}
	cache, err := semcache.Open(filepath.Join(tmpDir, "semcache.db"), provider, 100)
	if err != nil {
		db.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open cache: %v", err)
	}
	prof, _ := profiling.New(profiling.LevelOff, "")

	cfg := config.Default()
	cfg.Cluster.MinClusterSize = 2
	runner := NewRunner(cfg, &fixedSource{corpus: corpus}, cache, db, prof)

	return runner, db, func() {
		cache.Close()
		db.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestRunWritesSession(t *testing.T) {
	provider := &hashProvider{}
	runner, db, cleanup := setupRunner(t, provider, testCorpus())
	defer cleanup()

	res, err := runner.Run(context.Background(), "2025-03-01", false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Embedded != 5 || len(res.Failures) != 0 {
		t.Fatalf("Expected 5 embedded and no failures, got %+v", res)
	}

	sess, err := db.ReadSession("2025-03-01")
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	if len(sess.Records) != 5 {
		t.Errorf("Expected 5 records, got %d", len(sess.Records))
	}
	if len(sess.Links) != 2 {
		t.Errorf("Expected 2 links persisted, got %d", len(sess.Links))
	}
	// 4 semantic dims + 3 temporal features.
	for id, r := range sess.Records {
		if len(r.Vector) != 7 {
			t.Errorf("Note %s has %d dims, want 7", id, len(r.Vector))
		}
	}
}

func TestReplayIsDeterministicAndWarm(t *testing.T) {
	provider := &hashProvider{}
	runner, db, cleanup := setupRunner(t, provider, testCorpus())
	defer cleanup()

	if _, err := runner.Run(context.Background(), "2025-03-01", false); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first, err := db.ReadSession("2025-03-01")
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	callsAfterFirst := atomic.LoadInt64(&provider.calls)

	if _, err := runner.Run(context.Background(), "2025-03-01", true); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	second, err := db.ReadSession("2025-03-01")
	if err != nil {
		t.Fatalf("ReadSession after replay failed: %v", err)
	}

	// Fully warm cache: zero additional provider calls.
	if got := atomic.LoadInt64(&provider.calls); got != callsAfterFirst {
		t.Errorf("Replay made %d extra provider calls", got-callsAfterFirst)
	}

	// Same corpus, same date: identical vectors and assignments.
	for id, r := range first.Records {
		got, ok := second.Records[id]
		if !ok {
			t.Fatalf("Note %s missing from replay", id)
		}
		for i := range r.Vector {
			if got.Vector[i] != r.Vector[i] {
				t.Errorf("Note %s dim %d differs across replay: %v vs %v",
					id, i, r.Vector[i], got.Vector[i])
			}
		}
		if got.ClusterID != r.ClusterID {
			t.Errorf("Note %s cluster differs across replay: %d vs %d",
				id, r.ClusterID, got.ClusterID)
		}
	}
}

func TestRewriteWithoutOverwriteFails(t *testing.T) {
	runner, _, cleanup := setupRunner(t, &hashProvider{}, testCorpus())
	defer cleanup()

	if _, err := runner.Run(context.Background(), "2025-03-01", false); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	_, err := runner.Run(context.Background(), "2025-03-01", false)
	if !errors.Is(err, store.ErrSessionExists) {
		t.Fatalf("Expected ErrSessionExists, got %v", err)
	}
}

func TestPerNoteFailureDoesNotAbortRun(t *testing.T) {
	provider := &hashProvider{failWord: "Paxos"}
	runner, db, cleanup := setupRunner(t, provider, testCorpus())
	defer cleanup()

	res, err := runner.Run(context.Background(), "2025-03-01", false)
	if err != nil {
		t.Fatalf("Run should survive a per-note failure: %v", err)
	}
	if res.Embedded != 4 {
		t.Errorf("Expected 4 embedded notes, got %d", res.Embedded)
	}
	if len(res.Failures) != 1 || res.Failures[0].NoteID != "reading/paxos" {
		t.Fatalf("Expected exactly reading/paxos to fail, got %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, embedding.ErrUnavailable) {
		t.Errorf("Failure should carry ErrUnavailable, got %v", res.Failures[0].Err)
	}

	// The failed note is simply absent from the session.
	sess, err := db.ReadSession("2025-03-01")
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	if _, ok := sess.Records["reading/paxos"]; ok {
		t.Error("Failed note must be absent from the session")
	}
	if len(sess.Records) != 4 {
		t.Errorf("Expected 4 records, got %d", len(sess.Records))
	}
}

func TestCancelledContextAbortsRun(t *testing.T) {
	runner, _, cleanup := setupRunner(t, &hashProvider{}, testCorpus())
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(ctx, "2025-03-01", false); err == nil {
		t.Error("Cancelled context should abort the run")
	}
}

// tripwireProvider embeds normally, then fires a callback once the expected
// number of calls has succeeded.
type tripwireProvider struct {
	hashProvider
	after int64
	fire  func()
}

func (p *tripwireProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := p.hashProvider.Embed(ctx, text)
	if err == nil && atomic.LoadInt64(&p.calls) >= p.after {
		p.fire()
	}
	return vec, err
}

func TestCancelAfterEmbedLeavesNoSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &tripwireProvider{after: 5, fire: cancel}
	runner, db, cleanup := setupRunner(t, provider, testCorpus())
	defer cleanup()

	if _, err := runner.Run(ctx, "2025-03-01", false); err == nil {
		t.Fatal("Run should surface the cancellation")
	}

	// All embeds succeeded, but nothing was committed: a reader must never
	// see a session without its cluster assignments.
	exists, err := db.HasSession("2025-03-01")
	if err != nil {
		t.Fatalf("HasSession errored: %v", err)
	}
	if exists {
		t.Error("Aborted run left a committed session behind")
	}
	if _, err := db.ReadSession("2025-03-01"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after aborted run, got %v", err)
	}
}

func TestHandleAnalysisIDsSampleLimit(t *testing.T) {
	runner, db, cleanup := setupRunner(t, &hashProvider{}, testCorpus())
	defer cleanup()

	if _, err := runner.Run(context.Background(), "2025-03-01", false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	cfg := config.Default()
	h, err := NewHandle(db, cfg, "2025-03-01")
	if err != nil {
		t.Fatalf("NewHandle failed: %v", err)
	}
	if got := len(h.AnalysisIDs()); got != 5 {
		t.Errorf("Sample limit 0 must cover the full corpus, got %d of 5", got)
	}

	cfg.Analysis.SampleLimit = 2
	capped, err := NewHandle(db, cfg, "2025-03-01")
	if err != nil {
		t.Fatalf("NewHandle failed: %v", err)
	}
	ids := capped.AnalysisIDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 sampled ids, got %d", len(ids))
	}
	// Deterministic prefix of the sorted ids, not a random sample.
	if ids[0] != "garden/compost" || ids[1] != "garden/tomatoes" {
		t.Errorf("Sampled ids not the sorted prefix: %v", ids)
	}
}
