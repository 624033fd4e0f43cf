// Package trajectory computes drift, velocity, acceleration and cross-space
// movement statistics for notes across an ordered sequence of sessions.
//
// Everything here is a pure function over session history. Insufficient
// history is a normal, frequent condition for callers, so it is reported as
// an explicit result flag, never an error.
package trajectory

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/notedrift/geist/internal/vecmath"
)

// Params are the classification thresholds, set from config rather than
// hard-coded. The defaults were tuned empirically and are preserved as-is.
type Params struct {
	VelocityWindow         int
	ReversalSimilarityHigh float64
	ReversalSimilarityLow  float64
	ReversalAlignment      float64
	CorrelationDecoupled   float64
	CorrelationOpposing    float64
	CorrelationStrong      float64
}

// Drift is one minus the cosine similarity between a note's earliest and
// latest session embeddings. A single-session history has first == last and
// drifts exactly 0. Returns ok=false when the history is empty.
func Drift(history [][]float64) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	if len(history) == 1 {
		return 0, true
	}
	d := 1 - vecmath.CosineSimilarity(history[0], history[len(history)-1])
	if d < 0 {
		// Float rounding can push the cosine a hair past 1.
		d = 0
	}
	return d, true
}

// DriftVector is the raw displacement from a note's first to last embedding.
func DriftVector(history [][]float64) []float64 {
	if len(history) < 2 {
		return nil
	}
	return vecmath.Sub(history[len(history)-1], history[0])
}

// Velocity is the mean per-session-step magnitude of embedding change over
// the most recent window steps. Needs at least two sessions.
func Velocity(history [][]float64, window int) (float64, bool) {
	steps := stepMagnitudes(history)
	if len(steps) == 0 {
		return 0, false
	}
	if window > 0 && len(steps) > window {
		steps = steps[len(steps)-window:]
	}
	return mean(steps), true
}

// Acceleration is late-window velocity minus early-window velocity. A sign
// flip relative to velocity indicates asymmetric speed-up or slow-down.
// Needs at least two steps (three sessions).
func Acceleration(history [][]float64, window int) (float64, bool) {
	steps := stepMagnitudes(history)
	if len(steps) < 2 {
		return 0, false
	}
	if window < 1 {
		window = 1
	}
	early := steps
	if len(early) > window {
		early = early[:window]
	}
	late := steps
	if len(late) > window {
		late = late[len(late)-window:]
	}
	return mean(late) - mean(early), true
}

func stepMagnitudes(history [][]float64) []float64 {
	if len(history) < 2 {
		return nil
	}
	steps := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		steps = append(steps, vecmath.Norm(vecmath.Sub(history[i], history[i-1])))
	}
	return steps
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// ReversalKind classifies a pair's current position against its motion.
type ReversalKind int

const (
	ReversalNone ReversalKind = iota
	// ReversalCloseDiverging: currently similar but each note's drift vector
	// points strongly away from the other's.
	ReversalCloseDiverging
	// ReversalDistantConverging: currently dissimilar but drifting together.
	ReversalDistantConverging
)

func (k ReversalKind) String() string {
	switch k {
	case ReversalCloseDiverging:
		return "close-diverging"
	case ReversalDistantConverging:
		return "distant-converging"
	default:
		return "none"
	}
}

// Reversal flags a pair whose current similarity contradicts the alignment of
// their drift vectors: close but moving apart, or distant but converging.
// Both histories must cover at least two sessions.
func Reversal(histA, histB [][]float64, p Params) (ReversalKind, bool) {
	if len(histA) < 2 || len(histB) < 2 {
		return ReversalNone, false
	}
	current := vecmath.CosineSimilarity(histA[len(histA)-1], histB[len(histB)-1])
	alignment := vecmath.CosineSimilarity(DriftVector(histA), DriftVector(histB))

	switch {
	case current >= p.ReversalSimilarityHigh && alignment <= -p.ReversalAlignment:
		return ReversalCloseDiverging, true
	case current <= p.ReversalSimilarityLow && alignment >= p.ReversalAlignment:
		return ReversalDistantConverging, true
	default:
		return ReversalNone, true
	}
}

// MovementClass buckets a Pearson correlation of direction sequences.
type MovementClass int

const (
	MovementWeak MovementClass = iota
	MovementDecoupled
	MovementOpposing
	MovementStrong
)

func (c MovementClass) String() string {
	switch c {
	case MovementDecoupled:
		return "decoupled"
	case MovementOpposing:
		return "opposing"
	case MovementStrong:
		return "strongly-correlated"
	default:
		return "weak"
	}
}

// Movement is the result of CorrelatedMovement.
type Movement struct {
	Correlation float64
	Class       MovementClass
}

// CorrelatedMovement measures whether a pair's similarity in two dimensional
// spaces moves together. Each series is the pair's per-session similarity in
// one space; movement is reduced to per-step direction signs (+1/-1/0) and
// the two sign sequences are Pearson-correlated. Needs at least three
// sessions (two steps) in both series.
func CorrelatedMovement(simX, simY []float64, p Params) (Movement, bool) {
	dx := directionSigns(simX)
	dy := directionSigns(simY)
	if len(dx) < 2 || len(dx) != len(dy) {
		return Movement{}, false
	}

	r := stat.Correlation(dx, dy, nil)
	if math.IsNaN(r) {
		// A constant sign sequence has zero variance; no co-movement signal.
		r = 0
	}

	m := Movement{Correlation: r}
	switch {
	case math.Abs(r) < p.CorrelationDecoupled:
		m.Class = MovementDecoupled
	case r < p.CorrelationOpposing:
		m.Class = MovementOpposing
	case r > p.CorrelationStrong:
		m.Class = MovementStrong
	default:
		m.Class = MovementWeak
	}
	return m, true
}

// directionSigns reduces a similarity series to the sign of each step.
func directionSigns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	signs := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		switch {
		case series[i] > series[i-1]:
			signs = append(signs, 1)
		case series[i] < series[i-1]:
			signs = append(signs, -1)
		default:
			signs = append(signs, 0)
		}
	}
	return signs
}
