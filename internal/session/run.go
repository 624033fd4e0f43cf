// Package session orchestrates one dated analysis pass: load the corpus,
// embed through the semantic cache, compose temporal features, cluster, write
// the session atomically, and cache aggregate metrics.
package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notedrift/geist/internal/cluster"
	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/metrics"
	"github.com/notedrift/geist/internal/note"
	"github.com/notedrift/geist/internal/profiling"
	"github.com/notedrift/geist/internal/semcache"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/temporal"
)

// Runner wires the engine components for session runs. Construct once per
// process; Run may be called for any date, including past dates for replay.
type Runner struct {
	cfg   config.Config
	src   note.Source
	cache *semcache.Cache
	db    *store.DB
	prof  *profiling.Profiler
}

// NewRunner builds a Runner. prof may be a LevelOff profiler but not nil.
func NewRunner(cfg config.Config, src note.Source, cache *semcache.Cache, db *store.DB, prof *profiling.Profiler) *Runner {
	return &Runner{cfg: cfg, src: src, cache: cache, db: db, prof: prof}
}

// NoteFailure records one note whose embedding or composition failed. The
// run continues; the note is simply absent from the session.
type NoteFailure struct {
	NoteID string
	Err    error
}

// Result summarizes one session run for the CLI's end-of-run report.
type Result struct {
	Date       string
	NoteCount  int
	Embedded   int
	Failures   []NoteFailure
	Clusters   int
	Noise      int
	Degenerate bool
	CacheStats semcache.Stats
}

// Run executes one full analysis session for the given date. Re-running an
// existing date requires overwrite; a past date with an unchanged corpus
// replays deterministically.
func (r *Runner) Run(ctx context.Context, date string, overwrite bool) (*Result, error) {
	sessionTime, err := time.Parse(store.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("bad session date %q: %w", date, err)
	}

	if !overwrite {
		exists, err := r.db.HasSession(date)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("session %s: %w", date, store.ErrSessionExists)
		}
	}

	stopLoad := r.prof.Start(date, "load")
	corpus, err := r.src.Load()
	stopLoad()
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	res := &Result{Date: date, NoteCount: len(corpus.Notes)}
	logging.Info("session", "run %s: %d notes, %d links", date, len(corpus.Notes), len(corpus.Links))

	records, failures, err := r.embedAll(ctx, date, sessionTime, corpus)
	if err != nil {
		return nil, err
	}
	res.Failures = failures
	res.Embedded = len(records)

	// Clustering is the most expensive single step; honor the caller's
	// deadline before starting it. Nothing has been committed yet, so a
	// cancellation here leaves no trace of the session.
	if err := ctx.Err(); err != nil {
		return res, err
	}

	r.clusterRecords(date, corpus, records, res)

	// Cluster assignments ride in the same transaction as the embeddings: a
	// concurrent reader sees either the whole session, clusters included, or
	// nothing.
	stopWrite := r.prof.Start(date, "write")
	err = r.db.WriteSession(date, corpus.Notes, records, corpus.Links, overwrite)
	stopWrite()
	if err != nil {
		return nil, fmt.Errorf("write session %s: %w", date, err)
	}

	stopMetrics := r.prof.Start(date, "metrics")
	if _, err := metrics.ForSession(r.db, date); err != nil {
		logging.Warn("session", "metrics for %s failed: %v", date, err)
	}
	stopMetrics()

	res.CacheStats = r.cache.Stats()
	logging.Info("session", "run %s done: %d embedded, %d failed, %d clusters, %d noise",
		date, res.Embedded, len(res.Failures), res.Clusters, res.Noise)
	return res, nil
}

// embedAll computes every note's full embedding through the semantic cache
// with a bounded worker pool. Provider failures are collected per note, never
// aborting the run; only context cancellation stops early.
func (r *Runner) embedAll(ctx context.Context, date string, sessionTime time.Time, corpus *note.Corpus) ([]store.Record, []NoteFailure, error) {
	byID := corpus.ByID()
	ids := corpus.SortedIDs()

	stop := r.prof.StartWithMetadata(date, "embed", map[string]any{"notes": len(ids)})
	defer stop()

	type slot struct {
		record  *store.Record
		failure *NoteFailure
	}
	slots := make([]slot, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Embedding.Workers)
	for i, id := range ids {
		g.Go(func() error {
			n := byID[id]
			semantic, err := r.cache.GetOrCompute(gctx, n.Hash, n.Content)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slots[i] = slot{failure: &NoteFailure{NoteID: id, Err: err}}
				return nil
			}
			full, err := temporal.Compose(semantic, n.Created, sessionTime, r.cfg.Trajectory.AgeToleranceDays)
			if err != nil {
				slots[i] = slot{failure: &NoteFailure{NoteID: id, Err: err}}
				return nil
			}
			slots[i] = slot{record: &store.Record{NoteID: id, Vector: full, ClusterID: store.Noise}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Slots are indexed by sorted position, so output order is deterministic
	// regardless of worker scheduling.
	var records []store.Record
	var failures []NoteFailure
	for _, s := range slots {
		if s.record != nil {
			records = append(records, *s.record)
		} else if s.failure != nil {
			failures = append(failures, *s.failure)
			logging.Warn("session", "note %s skipped: %v", s.failure.NoteID, s.failure.Err)
		}
	}
	return records, failures, nil
}

// clusterRecords runs the cluster engine over the in-memory records and fills
// their assignment and label fields before anything is persisted.
func (r *Runner) clusterRecords(date string, corpus *note.Corpus, records []store.Record, res *Result) {
	embeddings := make(map[string][]float64, len(records))
	for _, rec := range records {
		embeddings[rec.NoteID] = rec.Vector
	}
	texts := make(map[string]string, len(records))
	for id, n := range corpus.ByID() {
		if _, ok := embeddings[id]; ok {
			texts[id] = n.Content
		}
	}

	stop := r.prof.Start(date, "cluster")
	cr := cluster.Run(date, embeddings, texts, cluster.Params{
		MinClusterSize: r.cfg.Cluster.MinClusterSize,
		Epsilon:        r.cfg.Cluster.Epsilon,
		LabelTerms:     r.cfg.Cluster.LabelTerms,
		LabelDiversity: r.cfg.Cluster.LabelDiversity,
	})
	stop()

	for i := range records {
		if c, ok := cr.Assignments[records[i].NoteID]; ok {
			records[i].ClusterID = c
			if c != cluster.Noise {
				records[i].ClusterLabel = cr.Labels[c]
			}
		}
	}

	res.Degenerate = cr.Degenerate
	res.Clusters = len(cr.Labels)
	for _, c := range cr.Assignments {
		if c == cluster.Noise {
			res.Noise++
		}
	}
}
