package detector

import (
	"context"
	"fmt"

	"github.com/notedrift/geist/internal/session"
	"github.com/notedrift/geist/internal/trajectory"
)

// The built-in detectors. Each is a small worked example of the query API;
// the interesting ones live outside the engine and register the same way.

func init() {
	Register("orphan-notes", orphanNotes)
	Register("drifting-notes", driftingNotes)
	Register("reversal-pairs", reversalPairs)
}

// orphanNotes surfaces unlinked notes so they can be woven into the graph.
func orphanNotes(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
	orphans := h.Graph.Orphans(h.Analysis.OrphanCount)
	if len(orphans) == 0 {
		return nil, nil
	}
	return []Suggestion{{
		Text:    fmt.Sprintf("%d notes have no links at all; consider connecting them", len(orphans)),
		NoteIDs: orphans,
	}}, nil
}

// driftingNotes flags notes whose meaning has moved the most since their
// first session.
func driftingNotes(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
	var out []Suggestion
	for _, id := range h.AnalysisIDs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		drift, ok, err := h.Trajectory.Drift(id, "", h.Date)
		if err != nil {
			return nil, err
		}
		if ok && drift > h.Analysis.DriftThreshold {
			out = append(out, Suggestion{
				Text:    fmt.Sprintf("%s has drifted %.2f since it first appeared", id, drift),
				NoteIDs: []string{id},
			})
		}
	}
	return out, nil
}

// reversalPairs flags linked pairs that are currently close but moving apart
// (or the inverse). Restricted to linked pairs to keep the pair count linear
// in the link set rather than quadratic in the corpus.
func reversalPairs(ctx context.Context, h *session.Handle) ([]Suggestion, error) {
	var out []Suggestion
	for _, l := range h.Session.Links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, ok, err := h.Trajectory.Reversal(l.Source, l.Target, "", h.Date)
		if err != nil {
			return nil, err
		}
		if !ok || kind == trajectory.ReversalNone {
			continue
		}
		sim, err := h.Graph.Similarity(l.Source, l.Target)
		if err != nil {
			// A link endpoint whose embedding failed is absent from the
			// session; nothing to report for that pair.
			continue
		}
		out = append(out, Suggestion{
			Text: fmt.Sprintf("%s and %s are %s (similarity %.2f)",
				l.Source, l.Target, kind, sim),
			NoteIDs: []string{l.Source, l.Target},
		})
	}
	return out, nil
}
