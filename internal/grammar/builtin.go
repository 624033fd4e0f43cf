package grammar

import (
	"math/rand"

	"github.com/notedrift/geist/internal/session"
)

func init() {
	Register("hub-note", hubNote)
	Register("orphan-note", orphanNote)
	Register("cluster-label", clusterLabel)
}

// hubNote yields the most linked notes of the session.
func hubNote(h *session.Handle, rng *rand.Rand, args []string) ([]string, error) {
	return h.Graph.Hubs(h.Analysis.HubCount), nil
}

// orphanNote yields unlinked notes.
func orphanNote(h *session.Handle, rng *rand.Rand, args []string) ([]string, error) {
	return h.Graph.Orphans(h.Analysis.OrphanCount), nil
}

// clusterLabel yields the session's cluster labels, sorted by cluster id.
func clusterLabel(h *session.Handle, rng *rand.Rand, args []string) ([]string, error) {
	seen := make(map[string]bool)
	var labels []string
	for _, id := range h.Graph.NoteIDs() {
		rec := h.Session.Records[id]
		if rec.ClusterLabel != "" && !seen[rec.ClusterLabel] {
			seen[rec.ClusterLabel] = true
			labels = append(labels, rec.ClusterLabel)
		}
	}
	return labels, nil
}
