// Package temporal appends the time-derived features to a semantic vector.
// This is the one deliberately non-cached path in the engine: the features
// encode when the analysis happens, not what the note says, so they are
// recomputed for every session even when content is unchanged.
package temporal

import (
	"fmt"
	"math"
	"time"
)

// FeatureCount is how many scalars Compose appends to the semantic vector.
const FeatureCount = 3

const daysPerYear = 365.0

// Compose returns a new full embedding: the semantic vector followed by
//
//	age              (sessionDate - created) in days / 365, linear, unbounded
//	creation season  sin(2π · dayOfYear(created) / 365)
//	session season   sin(2π · dayOfYear(sessionDate) / 365)
//
// The input is not modified. A note created after the session date beyond
// toleranceDays indicates clock skew and is an error rather than a silently
// negative age.
func Compose(semantic []float64, created, sessionDate time.Time, toleranceDays float64) ([]float64, error) {
	ageDays := sessionDate.Sub(created).Hours() / 24.0
	if ageDays < -toleranceDays {
		return nil, fmt.Errorf("note created %.1f days after session date (tolerance %.1f): clock skew",
			-ageDays, toleranceDays)
	}
	if ageDays < 0 {
		ageDays = 0
	}

	full := make([]float64, len(semantic), len(semantic)+FeatureCount)
	copy(full, semantic)
	full = append(full,
		ageDays/daysPerYear,
		seasonOf(created),
		seasonOf(sessionDate),
	)
	return full, nil
}

// seasonOf maps a date onto a yearly sine wave.
func seasonOf(t time.Time) float64 {
	return math.Sin(2 * math.Pi * float64(t.YearDay()) / daysPerYear)
}

// SemanticPart slices the semantic sub-vector back out of a full embedding.
func SemanticPart(full []float64) []float64 {
	if len(full) <= FeatureCount {
		return nil
	}
	return full[:len(full)-FeatureCount]
}

// Features slices the temporal sub-vector out of a full embedding.
func Features(full []float64) []float64 {
	if len(full) < FeatureCount {
		return nil
	}
	return full[len(full)-FeatureCount:]
}

// Age returns the age feature (years) from a full embedding.
func Age(full []float64) float64 {
	f := Features(full)
	if f == nil {
		return 0
	}
	return f[0]
}
