package temporal

import (
	"math"
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComposeDeterministic(t *testing.T) {
	semantic := []float64{0.1, 0.2, 0.3}
	created := date("2024-03-15")
	session := date("2025-03-15")

	a, err := Compose(semantic, created, session, 2)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	b, err := Compose(semantic, created, session, 2)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if len(a) != len(semantic)+FeatureCount {
		t.Fatalf("Expected %d dims, got %d", len(semantic)+FeatureCount, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Dim %d differs across identical invocations: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestComposeDoesNotMutateInput(t *testing.T) {
	semantic := []float64{0.5, 0.5}
	_, err := Compose(semantic, date("2024-01-01"), date("2024-06-01"), 2)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if semantic[0] != 0.5 || semantic[1] != 0.5 {
		t.Errorf("Input semantic vector was mutated: %v", semantic)
	}
}

func TestAgeMonotonicity(t *testing.T) {
	semantic := []float64{1, 0}
	created := date("2023-01-01")

	var prev float64 = -1
	for _, session := range []string{"2023-06-01", "2024-01-01", "2024-06-01", "2025-01-01"} {
		full, err := Compose(semantic, created, date(session), 2)
		if err != nil {
			t.Fatalf("Compose(%s) failed: %v", session, err)
		}
		age := Age(full)
		if age <= prev {
			t.Errorf("Age not increasing at %s: %v <= %v", session, age, prev)
		}
		prev = age
	}
}

func TestComposeClockSkew(t *testing.T) {
	semantic := []float64{1, 0}

	// Within tolerance: clamped to zero age, not an error.
	full, err := Compose(semantic, date("2025-01-02"), date("2025-01-01"), 2)
	if err != nil {
		t.Fatalf("Small skew should be tolerated: %v", err)
	}
	if Age(full) != 0 {
		t.Errorf("Skewed age should clamp to 0, got %v", Age(full))
	}

	// Beyond tolerance: error.
	if _, err := Compose(semantic, date("2025-02-01"), date("2025-01-01"), 2); err == nil {
		t.Error("Expected error for creation a month after session date")
	}
}

func TestSeasonFeatures(t *testing.T) {
	semantic := []float64{1}
	full, err := Compose(semantic, date("2024-01-01"), date("2024-07-01"), 2)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	features := Features(full)
	if len(features) != FeatureCount {
		t.Fatalf("Expected %d features, got %d", FeatureCount, len(features))
	}
	for i, f := range features[1:] {
		if math.Abs(f) > 1 {
			t.Errorf("Season feature %d out of [-1,1]: %v", i+1, f)
		}
	}
	if sem := SemanticPart(full); len(sem) != 1 || sem[0] != 1 {
		t.Errorf("SemanticPart mangled: %v", sem)
	}
}
