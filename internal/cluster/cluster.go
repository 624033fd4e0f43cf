// Package cluster groups one session's notes by density in embedding space.
//
// The algorithm is mutual-reachability single-linkage over cosine distance:
// each note's core distance is its distance to the MinClusterSize-th nearest
// neighbor, edge weights are max(core(a), core(b), dist(a,b)), a minimum
// spanning tree is built and cut at epsilon, and components smaller than
// MinClusterSize become noise. Notes the density model can't place are marked
// Noise rather than forced into a cluster.
package cluster

import (
	"sort"

	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/vecmath"
)

// Noise marks a note not confidently assigned to any cluster.
const Noise = -1

// Params are the tunable clustering knobs, set from config.
type Params struct {
	MinClusterSize int
	Epsilon        float64
	LabelTerms     int
	LabelDiversity float64
}

// Result is one session's clustering.
type Result struct {
	// Assignments maps note id to cluster id, or Noise.
	Assignments map[string]int
	// Labels maps cluster id to a short human-readable descriptor.
	Labels map[int]string
	// Degenerate is set when the corpus was below the minimum viable count
	// and everything was marked noise. Logged, never an error.
	Degenerate bool
}

// Run clusters the given embeddings. texts supplies member content for
// labeling and may omit entries (those notes contribute nothing to labels).
// Deterministic: cluster ids are assigned in order of each cluster's smallest
// member note id.
func Run(date string, embeddings map[string][]float64, texts map[string]string, p Params) *Result {
	ids := sortedIDs(embeddings)
	res := &Result{
		Assignments: make(map[string]int, len(ids)),
		Labels:      make(map[int]string),
	}

	if len(ids) < p.MinClusterSize {
		for _, id := range ids {
			res.Assignments[id] = Noise
		}
		res.Degenerate = true
		logging.Info("cluster", "%s: %d notes below minimum %d, all noise",
			date, len(ids), p.MinClusterSize)
		return res
	}

	n := len(ids)
	dist := pairwiseDistances(ids, embeddings)
	core := coreDistances(n, dist, p.MinClusterSize)

	labels := cut(n, mst(n, dist, core), p)

	// Renumber components so ids follow each cluster's smallest member.
	renumber(ids, labels, res.Assignments)

	clusters := 0
	noise := 0
	for _, c := range res.Assignments {
		if c == Noise {
			noise++
		} else if c+1 > clusters {
			clusters = c + 1
		}
	}
	if clusters == 0 {
		res.Degenerate = true
		logging.Info("cluster", "%s: no dense region at epsilon %.2f, all %d notes noise",
			date, p.Epsilon, n)
	} else {
		logging.Info("cluster", "%s: %d clusters, %d noise of %d notes",
			date, clusters, noise, n)
	}

	labelClusters(res, texts, p)
	return res
}

func sortedIDs(embeddings map[string][]float64) []string {
	ids := make([]string, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pairwiseDistances returns the full cosine-distance matrix, indexed by
// position in the sorted id slice.
func pairwiseDistances(ids []string, embeddings map[string][]float64) [][]float64 {
	n := len(ids)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := vecmath.CosineDistance(embeddings[ids[i]], embeddings[ids[j]])
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its k-th nearest
// neighbor (k = minPts-1 other points, itself excluded).
func coreDistances(n int, dist [][]float64, minPts int) []float64 {
	k := minPts - 1
	if k < 1 {
		k = 1
	}
	core := make([]float64, n)
	row := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		row = row[:0]
		for j := 0; j < n; j++ {
			if j != i {
				row = append(row, dist[i][j])
			}
		}
		sort.Float64s(row)
		idx := k - 1
		if idx >= len(row) {
			idx = len(row) - 1
		}
		core[i] = row[idx]
	}
	return core
}

type edge struct {
	a, b   int
	weight float64
}

// mst builds a minimum spanning tree over mutual-reachability distances with
// Prim's algorithm. O(n^2), fine for session-sized corpora.
func mst(n int, dist [][]float64, core []float64) []edge {
	reach := func(i, j int) float64 {
		w := dist[i][j]
		if core[i] > w {
			w = core[i]
		}
		if core[j] > w {
			w = core[j]
		}
		return w
	}

	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = -1
	}

	edges := make([]edge, 0, n-1)
	cur := 0
	inTree[0] = true
	for len(edges) < n-1 {
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			w := reach(cur, j)
			if best[j] < 0 || w < best[j] {
				best[j] = w
				from[j] = cur
			}
		}
		next := -1
		for j := 0; j < n; j++ {
			if !inTree[j] && (next == -1 || best[j] < best[next]) {
				next = j
			}
		}
		edges = append(edges, edge{a: from[next], b: next, weight: best[next]})
		inTree[next] = true
		cur = next
	}
	return edges
}

// cut drops MST edges above epsilon, takes connected components, and marks
// components smaller than MinClusterSize as noise. Returns provisional
// component labels (renumbered by the caller).
func cut(n int, edges []edge, p Params) []int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, e := range edges {
		if e.weight <= p.Epsilon {
			parent[find(e.a)] = find(e.b)
		}
	}

	size := make(map[int]int)
	for i := 0; i < n; i++ {
		size[find(i)]++
	}
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		root := find(i)
		if size[root] < p.MinClusterSize {
			labels[i] = Noise
		} else {
			labels[i] = root
		}
	}
	return labels
}

// renumber maps provisional component roots to dense cluster ids ordered by
// each component's smallest member note id.
func renumber(ids []string, labels []int, out map[string]int) {
	next := 0
	mapping := make(map[int]int)
	for i, id := range ids { // ids sorted, so first sight of a root is its smallest member
		if labels[i] == Noise {
			out[id] = Noise
			continue
		}
		c, ok := mapping[labels[i]]
		if !ok {
			c = next
			mapping[labels[i]] = c
			next++
		}
		out[id] = c
	}
}
