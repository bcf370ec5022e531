package model

import (
	"math"
	"path/filepath"
	"testing"
)

func TestSaveLoadWeightSetRoundTrip(t *testing.T) {
	ws := WeightSet{
		{0.1, 0.2, 0.3},
		{-1.5, 2.5},
	}
	path := filepath.Join(t.TempDir(), "model.weights")

	if err := SaveWeightSet(path, ws); err != nil {
		t.Fatalf("SaveWeightSet: %v", err)
	}
	loaded, err := LoadWeightSet(path)
	if err != nil {
		t.Fatalf("LoadWeightSet: %v", err)
	}
	if !ws.SameShape(loaded) {
		t.Fatalf("shape mismatch after round-trip: got %v want %v", loaded, ws)
	}
	for i := range ws {
		for j := range ws[i] {
			if ws[i][j] != loaded[i][j] {
				t.Errorf("tensor %d element %d: got %v want %v", i, j, loaded[i][j], ws[i][j])
			}
		}
	}
}

func TestStats(t *testing.T) {
	ws := WeightSet{
		{1, -1, 1, -1}, // mean abs magnitude 1
		{2, -2},        // mean abs magnitude 2
		{},             // ignored
	}
	avg, variance := ws.Stats()
	if avg != 1.5 {
		t.Errorf("avg magnitude = %v, want 1.5", avg)
	}
	if variance != 0.25 {
		t.Errorf("variance = %v, want 0.25", variance)
	}
}

func TestScanNaNInf(t *testing.T) {
	tests := []struct {
		name     string
		ws       WeightSet
		wantNaN  bool
		wantInf  bool
	}{
		{"clean", WeightSet{{1, 2, 3}}, false, false},
		{"nan", WeightSet{{1, float32(math.NaN())}}, true, false},
		{"inf", WeightSet{{float32(math.Inf(1))}}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasNaN, hasInf := tt.ws.ScanNaNInf()
			if hasNaN != tt.wantNaN || hasInf != tt.wantInf {
				t.Errorf("ScanNaNInf() = (%v, %v), want (%v, %v)", hasNaN, hasInf, tt.wantNaN, tt.wantInf)
			}
		})
	}
}

func TestWeightedAverageNormalizes(t *testing.T) {
	sets := []WeightSet{
		{{1, 1}},
		{{3, 3}},
	}
	out, err := WeightedAverage(sets, []float64{1, 1})
	if err != nil {
		t.Fatalf("WeightedAverage: %v", err)
	}
	want := Tensor{2, 2}
	for i, v := range want {
		if math.Abs(float64(out[0][i]-v)) > 1e-6 {
			t.Errorf("out[0][%d] = %v, want %v", i, out[0][i], v)
		}
	}
}

func TestWeightedAverageUniformFallback(t *testing.T) {
	sets := []WeightSet{
		{{1, 1}},
		{{3, 3}},
	}
	out, err := WeightedAverage(sets, []float64{0, 0})
	if err != nil {
		t.Fatalf("WeightedAverage: %v", err)
	}
	want := Tensor{2, 2}
	for i, v := range want {
		if math.Abs(float64(out[0][i]-v)) > 1e-6 {
			t.Errorf("uniform fallback out[0][%d] = %v, want %v", i, out[0][i], v)
		}
	}
}

func TestWeightedAverageShapeMismatch(t *testing.T) {
	sets := []WeightSet{
		{{1, 1}},
		{{1, 1, 1}},
	}
	if _, err := WeightedAverage(sets, []float64{1, 1}); err == nil {
		t.Fatal("expected error for shape mismatch")
	}
}
