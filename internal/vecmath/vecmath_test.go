package vecmath

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
		{"length mismatch", []float64{1, 0}, []float64{1}, 0},
	}
	for _, tc := range cases {
		if got := CosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float64{3, 4})
	if math.Abs(Norm(v)-1) > 1e-12 {
		t.Errorf("Normalized vector has norm %v", Norm(v))
	}
	if math.Abs(v[0]-0.6) > 1e-12 || math.Abs(v[1]-0.8) > 1e-12 {
		t.Errorf("Unexpected normalized components: %v", v)
	}

	zero := Normalize([]float64{0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Errorf("Zero vector should normalize to itself, got %v", zero)
		}
	}
}

func TestSubAndDistance(t *testing.T) {
	d := Sub([]float64{3, 5}, []float64{1, 2})
	if d[0] != 2 || d[1] != 3 {
		t.Errorf("Sub wrong: %v", d)
	}

	if got := CosineDistance([]float64{1, 0}, []float64{1, 0}); math.Abs(got) > 1e-12 {
		t.Errorf("Distance of identical vectors should be 0, got %v", got)
	}
	if got := CosineDistance([]float64{1, 0}, []float64{0, 1}); math.Abs(got-1) > 1e-12 {
		t.Errorf("Distance of orthogonal vectors should be 1, got %v", got)
	}
}
