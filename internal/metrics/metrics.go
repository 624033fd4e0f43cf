// Package metrics computes per-session aggregate statistics over the
// embedding point-cloud. Both metrics are expensive relative to how often
// read-only tools ask for them, so results are persisted in the store's
// metrics cache keyed by session date.
package metrics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/vecmath"
)

// SessionMetrics summarizes one session's embedding geometry.
type SessionMetrics struct {
	Date      string  `json:"date"`
	NoteCount int     `json:"note_count"`
	// Diversity is the mean pairwise cosine distance across all notes.
	Diversity float64 `json:"diversity"`
	// IntrinsicDim is the participation ratio of the point-cloud's singular
	// values: (Σσ²)² / Σσ⁴, an estimate of how many directions the corpus
	// actually occupies.
	IntrinsicDim float64 `json:"intrinsic_dim"`
}

// ForSession returns the session's metrics, computing and caching them on
// first request. A cache read failure falls back to recomputation.
func ForSession(db *store.DB, date string) (*SessionMetrics, error) {
	var cached SessionMetrics
	if ok, err := db.GetMetrics(date, &cached); err != nil {
		logging.Debug("metrics", "cache read for %s failed: %v", date, err)
	} else if ok {
		return &cached, nil
	}

	sess, err := db.ReadSession(date)
	if err != nil {
		return nil, err
	}

	m := Compute(date, sess)
	if err := db.PutMetrics(date, m); err != nil {
		logging.Debug("metrics", "cache write for %s failed: %v", date, err)
	}
	return m, nil
}

// Compute derives the metrics from a session without touching the cache.
func Compute(date string, sess *store.Session) *SessionMetrics {
	ids := make([]string, 0, len(sess.Records))
	for id := range sess.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	vectors := make([][]float64, len(ids))
	for i, id := range ids {
		vectors[i] = sess.Records[id].Vector
	}

	return &SessionMetrics{
		Date:         date,
		NoteCount:    len(ids),
		Diversity:    diversity(vectors),
		IntrinsicDim: intrinsicDim(vectors),
	}
}

// diversity is the mean pairwise cosine distance. 0 for fewer than two notes.
func diversity(vectors [][]float64) float64 {
	n := len(vectors)
	if n < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += vecmath.CosineDistance(vectors[i], vectors[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// intrinsicDim estimates the effective dimensionality of the point-cloud as
// the participation ratio of its singular values after mean-centering.
func intrinsicDim(vectors [][]float64) float64 {
	n := len(vectors)
	if n < 2 || len(vectors[0]) == 0 {
		return 0
	}
	dims := len(vectors[0])

	centroid := make([]float64, dims)
	for _, v := range vectors {
		for i, x := range v {
			centroid[i] += x
		}
	}
	for i := range centroid {
		centroid[i] /= float64(n)
	}

	data := make([]float64, 0, n*dims)
	for _, v := range vectors {
		for i, x := range v {
			data = append(data, x-centroid[i])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(n, dims, data), mat.SVDNone) {
		logging.Debug("metrics", "SVD did not converge for %d x %d matrix", n, dims)
		return 0
	}

	var sumSq, sumQuad float64
	for _, s := range svd.Values(nil) {
		sq := s * s
		sumSq += sq
		sumQuad += sq * sq
	}
	if sumQuad == 0 {
		return 0
	}
	return sumSq * sumSq / sumQuad
}

// Summary formats the metrics for CLI output.
func (m *SessionMetrics) Summary() string {
	return fmt.Sprintf("%s: %d notes, diversity %.3f, intrinsic dim %.1f",
		m.Date, m.NoteCount, m.Diversity, m.IntrinsicDim)
}
