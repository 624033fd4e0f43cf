package cluster

import (
	"sort"
	"strings"

	"github.com/tsawler/prose/v3"

	"github.com/notedrift/geist/internal/logging"
)

// stopTerms are content words too generic to describe a cluster.
var stopTerms = map[string]bool{
	"thing": true, "things": true, "note": true, "notes": true,
	"way": true, "ways": true, "time": true, "times": true,
	"day": true, "days": true, "people": true, "something": true,
	"someone": true, "anything": true, "lot": true, "kind": true,
	"part": true, "idea": true, "ideas": true,
}

// labelClusters derives a short descriptor per cluster from member text:
// nouns and adjectives weighted by in-cluster frequency scaled down by how
// many clusters share the term, then filtered so the chosen terms are
// mutually diverse.
func labelClusters(res *Result, texts map[string]string, p Params) {
	members := make(map[int][]string)
	for id, c := range res.Assignments {
		if c == Noise {
			continue
		}
		if text, ok := texts[id]; ok {
			members[c] = append(members[c], text)
		}
	}
	if len(members) == 0 {
		return
	}

	// Term frequency per cluster, and the number of clusters each term
	// appears in (generic vocabulary should not win any label).
	freq := make(map[int]map[string]int)
	spread := make(map[string]int)
	for c, bodies := range members {
		tf := make(map[string]int)
		for _, body := range bodies {
			for _, term := range contentTerms(body) {
				tf[term]++
			}
		}
		freq[c] = tf
		for term := range tf {
			spread[term]++
		}
	}

	for c, tf := range freq {
		type scored struct {
			term   string
			weight float64
		}
		candidates := make([]scored, 0, len(tf))
		for term, count := range tf {
			candidates = append(candidates, scored{
				term:   term,
				weight: float64(count) / float64(spread[term]),
			})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].weight != candidates[j].weight {
				return candidates[i].weight > candidates[j].weight
			}
			return candidates[i].term < candidates[j].term
		})

		var picked []string
		for _, cand := range candidates {
			if len(picked) == p.LabelTerms {
				break
			}
			if !diverse(cand.term, picked, p.LabelDiversity) {
				continue
			}
			picked = append(picked, cand.term)
		}
		if len(picked) == 0 {
			picked = []string{"(unlabeled)"}
		}
		res.Labels[c] = strings.Join(picked, " / ")
	}
}

// contentTerms extracts lowercased nouns and adjectives from text.
func contentTerms(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		logging.Debug("cluster", "tokenize failed: %v", err)
		return nil
	}
	var terms []string
	for _, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "NN") && !strings.HasPrefix(tok.Tag, "JJ") {
			continue
		}
		term := strings.ToLower(strings.Trim(tok.Text, ".,;:!?'\"()[]"))
		if len(term) < 3 || stopTerms[term] {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// diverse rejects a candidate too similar to an already-picked term, so the
// label isn't three spellings of the same word. Similarity is the Dice
// coefficient over character bigrams.
func diverse(candidate string, picked []string, threshold float64) bool {
	for _, prev := range picked {
		if strings.Contains(prev, candidate) || strings.Contains(candidate, prev) {
			return false
		}
		if bigramDice(candidate, prev) > threshold {
			return false
		}
	}
	return true
}

func bigramDice(a, b string) float64 {
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	shared := 0
	for g := range ba {
		if bb[g] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ba)+len(bb))
}

func bigrams(s string) map[string]bool {
	out := make(map[string]bool)
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = true
	}
	return out
}
