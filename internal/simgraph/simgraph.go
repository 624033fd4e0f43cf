// Package simgraph answers similarity and graph queries for one session.
//
// A Service is the read-only handle handed to every detector in a run. All
// pairwise similarity results are memoized in a run-scoped cache shared by
// every consumer of the invocation, including the batch path: a vectorized
// path that bypassed the cache once discarded the warm-cache benefit built up
// by earlier calls and made the whole run measurably slower. The cache dies
// with the Service; it is never reused across sessions, because the
// embeddings it memoizes are session-specific.
package simgraph

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/notedrift/geist/internal/note"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/vecmath"
)

// Unreachable is the shortest-path result for disconnected pairs. Unreachable
// pairs are common and expected, so this is a value, not an error.
const Unreachable = -1

// pairKey is an order-independent similarity cache key.
type pairKey struct {
	lo, hi string
}

func canonical(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Service answers similarity and graph queries over one session. Safe for
// concurrent use by parallel detectors.
type Service struct {
	date       string
	embeddings map[string][]float64
	out        map[string][]string // directed adjacency
	in         map[string][]string

	mu       sync.RWMutex
	cache    map[pairKey]float64
	computes uint64 // cache-miss similarity computations, for tests and stats
}

// New builds a Service from raw session data. The run-scoped cache starts
// empty and lives exactly as long as the Service.
func New(date string, embeddings map[string][]float64, links []note.Link) *Service {
	s := &Service{
		date:       date,
		embeddings: embeddings,
		out:        make(map[string][]string),
		in:         make(map[string][]string),
		cache:      make(map[pairKey]float64),
	}
	for _, l := range links {
		s.out[l.Source] = append(s.out[l.Source], l.Target)
		s.in[l.Target] = append(s.in[l.Target], l.Source)
	}
	return s
}

// FromSession builds a Service over a session read back from the store.
func FromSession(sess *store.Session) *Service {
	embeddings := make(map[string][]float64, len(sess.Records))
	for id, r := range sess.Records {
		embeddings[id] = r.Vector
	}
	return New(sess.Date, embeddings, sess.Links)
}

// Date returns the session date this handle is bound to.
func (s *Service) Date() string {
	return s.date
}

// NoteIDs returns every note in the session, sorted.
func (s *Service) NoteIDs() []string {
	ids := make([]string, 0, len(s.embeddings))
	for id := range s.embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Embedding returns the full embedding for one note.
func (s *Service) Embedding(id string) ([]float64, bool) {
	v, ok := s.embeddings[id]
	return v, ok
}

// Similarity returns the cosine similarity of two notes' full embeddings,
// clamped to [0, 1]. Symmetric: the cache key is the canonicalized pair, so
// (a,b) and (b,a) are one entry.
func (s *Service) Similarity(a, b string) (float64, error) {
	key := canonical(a, b)

	s.mu.RLock()
	if sim, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return sim, nil
	}
	s.mu.RUnlock()

	va, ok := s.embeddings[a]
	if !ok {
		return 0, fmt.Errorf("note %s not in session %s", a, s.date)
	}
	vb, ok := s.embeddings[b]
	if !ok {
		return 0, fmt.Errorf("note %s not in session %s", b, s.date)
	}

	atomic.AddUint64(&s.computes, 1)
	sim := vecmath.CosineSimilarity(va, vb)
	if sim < 0 {
		sim = 0
	} else if sim > 1 {
		sim = 1
	}

	s.mu.Lock()
	s.cache[key] = sim
	s.mu.Unlock()
	return sim, nil
}

// BatchSimilarity returns the similarity matrix for setA x setB. Every cell
// goes through the same run-scoped cache as Similarity; entries already warm
// from earlier point queries are reused, and everything computed here is
// available to later callers.
func (s *Service) BatchSimilarity(setA, setB []string) ([][]float64, error) {
	matrix := make([][]float64, len(setA))
	for i, a := range setA {
		row := make([]float64, len(setB))
		for j, b := range setB {
			sim, err := s.Similarity(a, b)
			if err != nil {
				return nil, err
			}
			row[j] = sim
		}
		matrix[i] = row
	}
	return matrix, nil
}

// ShortestPathLength returns the number of directed hops from a to b, 0 for
// a == b, or Unreachable when no path exists (or either note is unknown).
// Plain breadth-first search; the graphs are small and sparse.
func (s *Service) ShortestPathLength(a, b string) int {
	if _, ok := s.embeddings[a]; !ok {
		return Unreachable
	}
	if _, ok := s.embeddings[b]; !ok {
		return Unreachable
	}
	if a == b {
		return 0
	}

	visited := map[string]bool{a: true}
	frontier := []string{a}
	depth := 0
	for len(frontier) > 0 {
		depth++
		var next []string
		for _, id := range frontier {
			for _, target := range s.out[id] {
				if visited[target] {
					continue
				}
				if target == b {
					return depth
				}
				visited[target] = true
				next = append(next, target)
			}
		}
		frontier = next
	}
	return Unreachable
}

// Degree returns the total degree (in + out) of one note in this session.
func (s *Service) Degree(a string) int {
	return len(s.out[a]) + len(s.in[a])
}

// Neighbors returns the distinct notes directly linked to or from a, sorted.
func (s *Service) Neighbors(a string) []string {
	seen := make(map[string]bool)
	for _, t := range s.out[a] {
		seen[t] = true
	}
	for _, t := range s.in[a] {
		seen[t] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Hubs returns up to k note ids with the highest degree, descending, ties
// broken by id for deterministic output.
func (s *Service) Hubs(k int) []string {
	return s.rankByDegree(k, func(d int) bool { return d > 0 }, true)
}

// Orphans returns up to k notes with no links at all, sorted by id.
func (s *Service) Orphans(k int) []string {
	return s.rankByDegree(k, func(d int) bool { return d == 0 }, false)
}

func (s *Service) rankByDegree(k int, keep func(int) bool, byDegree bool) []string {
	type ranked struct {
		id     string
		degree int
	}
	var all []ranked
	for _, id := range s.NoteIDs() {
		d := s.Degree(id)
		if keep(d) {
			all = append(all, ranked{id: id, degree: d})
		}
	}
	if byDegree {
		sort.Slice(all, func(i, j int) bool {
			if all[i].degree != all[j].degree {
				return all[i].degree > all[j].degree
			}
			return all[i].id < all[j].id
		})
	}
	if k < 0 {
		k = 0
	}
	if k > len(all) {
		k = len(all)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].id
	}
	return out
}

// CacheStats reports the run-scoped cache size and how many similarities were
// actually computed (as opposed to served warm).
func (s *Service) CacheStats() (entries int, computes uint64) {
	s.mu.RLock()
	entries = len(s.cache)
	s.mu.RUnlock()
	return entries, atomic.LoadUint64(&s.computes)
}
