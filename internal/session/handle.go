package session

import (
	"sort"

	"github.com/notedrift/geist/internal/config"
	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/simgraph"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/trajectory"
)

// Handle is the read-only view of one session handed to detectors and
// grammar functions. It owns the run-scoped similarity cache: every consumer
// of one invocation shares it, and it is dropped with the Handle. Safe for
// concurrent use.
type Handle struct {
	Date       string
	Session    *store.Session
	Graph      *simgraph.Service
	Trajectory *trajectory.Analyzer
	// Analysis carries the configured sampling limit, hub/orphan counts and
	// suggestion thresholds so detectors and grammar functions never
	// hard-code them.
	Analysis config.AnalysisConfig
}

// NewHandle builds the per-invocation handle for one session date.
func NewHandle(db *store.DB, cfg config.Config, date string) (*Handle, error) {
	sess, err := db.ReadSession(date)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Date:    date,
		Session: sess,
		Graph:   simgraph.FromSession(sess),
		Trajectory: trajectory.New(db, trajectory.Params{
			VelocityWindow:         cfg.Trajectory.VelocityWindow,
			ReversalSimilarityHigh: cfg.Trajectory.ReversalSimilarityHigh,
			ReversalSimilarityLow:  cfg.Trajectory.ReversalSimilarityLow,
			ReversalAlignment:      cfg.Trajectory.ReversalAlignment,
			CorrelationDecoupled:   cfg.Trajectory.CorrelationDecoupled,
			CorrelationOpposing:    cfg.Trajectory.CorrelationOpposing,
			CorrelationStrong:      cfg.Trajectory.CorrelationStrong,
		}),
		Analysis: cfg.Analysis,
	}, nil
}

// AnalysisIDs returns the note ids pairwise analyses should cover. A sample
// limit of zero means the full corpus; a nonzero limit takes a deterministic
// prefix of the sorted ids and logs how much it dropped, so a cap can never
// silently shrink coverage.
func (h *Handle) AnalysisIDs() []string {
	ids := h.Graph.NoteIDs()
	limit := h.Analysis.SampleLimit
	if limit <= 0 || len(ids) <= limit {
		return ids
	}
	logging.Warn("session", "%s: sample limit %d drops %d of %d notes from pairwise analysis",
		h.Date, limit, len(ids)-limit, len(ids))
	return ids[:limit]
}

// ClusterMembers groups the session's notes by cluster id, noise excluded.
// Member lists are sorted.
func (h *Handle) ClusterMembers() map[int][]string {
	members := make(map[int][]string)
	for id, rec := range h.Session.Records {
		if rec.ClusterID == store.Noise {
			continue
		}
		members[rec.ClusterID] = append(members[rec.ClusterID], id)
	}
	for c := range members {
		sort.Strings(members[c])
	}
	return members
}
