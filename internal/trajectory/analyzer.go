package trajectory

import (
	"fmt"

	"github.com/notedrift/geist/internal/simgraph"
	"github.com/notedrift/geist/internal/store"
	"github.com/notedrift/geist/internal/temporal"
	"github.com/notedrift/geist/internal/vecmath"
)

// Dimension names one of the spaces a pair's movement can be measured in.
type Dimension string

const (
	DimSemantic   Dimension = "semantic"   // cosine of semantic sub-vectors
	DimTemporal   Dimension = "temporal"   // cosine of temporal feature vectors
	DimGraph      Dimension = "graph"      // closeness from shortest-path length
	DimStructural Dimension = "structural" // closeness of link degree
	DimStaleness  Dimension = "staleness"  // closeness of note age
)

// Analyzer reads session history from the store and runs the pure trajectory
// functions over it. Analyzers are cheap; construct one per query scope.
type Analyzer struct {
	db *store.DB
	p  Params
}

// New binds an Analyzer to a store.
func New(db *store.DB, p Params) *Analyzer {
	return &Analyzer{db: db, p: p}
}

// History is one note's embeddings across the sessions it appears in.
type History struct {
	NoteID  string
	Dates   []string
	Vectors [][]float64
}

// NoteHistory loads a note's embeddings for every session in [start, end]
// where the note is present. Sessions without the note are skipped rather
// than interpolated.
func (a *Analyzer) NoteHistory(noteID, start, end string) (*History, error) {
	dates, err := a.db.SessionsBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	h := &History{NoteID: noteID}
	for _, date := range dates {
		sess, err := a.db.ReadSession(date)
		if err != nil {
			return nil, fmt.Errorf("read session %s: %w", date, err)
		}
		if r, ok := sess.Records[noteID]; ok {
			h.Dates = append(h.Dates, date)
			h.Vectors = append(h.Vectors, r.Vector)
		}
	}
	return h, nil
}

// Drift runs Drift over a note's stored history.
func (a *Analyzer) Drift(noteID, start, end string) (float64, bool, error) {
	h, err := a.NoteHistory(noteID, start, end)
	if err != nil {
		return 0, false, err
	}
	d, ok := Drift(h.Vectors)
	return d, ok, nil
}

// Velocity runs Velocity over a note's stored history with the configured
// window.
func (a *Analyzer) Velocity(noteID, start, end string) (float64, bool, error) {
	h, err := a.NoteHistory(noteID, start, end)
	if err != nil {
		return 0, false, err
	}
	v, ok := Velocity(h.Vectors, a.p.VelocityWindow)
	return v, ok, nil
}

// Acceleration runs Acceleration over a note's stored history.
func (a *Analyzer) Acceleration(noteID, start, end string) (float64, bool, error) {
	h, err := a.NoteHistory(noteID, start, end)
	if err != nil {
		return 0, false, err
	}
	v, ok := Acceleration(h.Vectors, a.p.VelocityWindow)
	return v, ok, nil
}

// Reversal runs Reversal over two notes' stored histories, aligned to the
// sessions where both are present.
func (a *Analyzer) Reversal(noteA, noteB, start, end string) (ReversalKind, bool, error) {
	histA, histB, err := a.alignedHistories(noteA, noteB, start, end)
	if err != nil {
		return ReversalNone, false, err
	}
	kind, ok := Reversal(histA, histB, a.p)
	return kind, ok, nil
}

// CorrelatedMovement builds the pair's per-session similarity series in two
// dimensional spaces and correlates their movement.
func (a *Analyzer) CorrelatedMovement(noteA, noteB string, dimX, dimY Dimension, start, end string) (Movement, bool, error) {
	dates, err := a.db.SessionsBetween(start, end)
	if err != nil {
		return Movement{}, false, err
	}

	var seriesX, seriesY []float64
	for _, date := range dates {
		sess, err := a.db.ReadSession(date)
		if err != nil {
			return Movement{}, false, fmt.Errorf("read session %s: %w", date, err)
		}
		if _, ok := sess.Records[noteA]; !ok {
			continue
		}
		if _, ok := sess.Records[noteB]; !ok {
			continue
		}
		x, err := pairSimilarity(sess, noteA, noteB, dimX)
		if err != nil {
			return Movement{}, false, err
		}
		y, err := pairSimilarity(sess, noteA, noteB, dimY)
		if err != nil {
			return Movement{}, false, err
		}
		seriesX = append(seriesX, x)
		seriesY = append(seriesY, y)
	}

	m, ok := CorrelatedMovement(seriesX, seriesY, a.p)
	return m, ok, nil
}

// pairSimilarity measures pair closeness in one dimensional space for one
// session, normalized to [0, 1] in every space so series are comparable.
func pairSimilarity(sess *store.Session, a, b string, dim Dimension) (float64, error) {
	ra := sess.Records[a]
	rb := sess.Records[b]

	switch dim {
	case DimSemantic:
		return clamp01(vecmath.CosineSimilarity(
			temporal.SemanticPart(ra.Vector), temporal.SemanticPart(rb.Vector))), nil

	case DimTemporal:
		return clamp01(vecmath.CosineSimilarity(
			temporal.Features(ra.Vector), temporal.Features(rb.Vector))), nil

	case DimGraph:
		svc := simgraph.FromSession(sess)
		hops := svc.ShortestPathLength(a, b)
		if hops == simgraph.Unreachable {
			return 0, nil
		}
		return 1 / (1 + float64(hops)), nil

	case DimStructural:
		svc := simgraph.FromSession(sess)
		da := float64(svc.Degree(a))
		db := float64(svc.Degree(b))
		return 1 / (1 + abs(da-db)), nil

	case DimStaleness:
		return 1 / (1 + abs(temporal.Age(ra.Vector)-temporal.Age(rb.Vector))), nil

	default:
		return 0, fmt.Errorf("unknown dimension %q", dim)
	}
}

// alignedHistories loads both notes' vectors restricted to the sessions where
// both appear, so drift vectors cover the same span.
func (a *Analyzer) alignedHistories(noteA, noteB, start, end string) ([][]float64, [][]float64, error) {
	dates, err := a.db.SessionsBetween(start, end)
	if err != nil {
		return nil, nil, err
	}
	var histA, histB [][]float64
	for _, date := range dates {
		sess, err := a.db.ReadSession(date)
		if err != nil {
			return nil, nil, fmt.Errorf("read session %s: %w", date, err)
		}
		ra, okA := sess.Records[noteA]
		rb, okB := sess.Records[noteB]
		if okA && okB {
			histA = append(histA, ra.Vector)
			histB = append(histB, rb.Vector)
		}
	}
	return histA, histB, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
