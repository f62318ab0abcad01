package ml

import (
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	actual := []float64{100, 200, 300, 400}
	predicted := []float64{110, 190, 330, 370}

	m, err := Evaluate(actual, predicted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MAE != 20 {
		t.Fatalf("expected MAE 20, got %v", m.MAE)
	}
	if m.MSE != 500 {
		t.Fatalf("expected MSE 500, got %v", m.MSE)
	}
	if math.Abs(m.RMSE-math.Sqrt(500)) > 1e-9 {
		t.Fatalf("unexpected RMSE %v", m.RMSE)
	}
	// SS_res 2000, SS_tot 50000.
	if math.Abs(m.R2-0.96) > 1e-9 {
		t.Fatalf("expected R2 0.96, got %v", m.R2)
	}
	// (10% + 5% + 10% + 7.5%) / 4
	if math.Abs(m.MAPE-8.125) > 1e-9 {
		t.Fatalf("expected MAPE 8.125, got %v", m.MAPE)
	}
	if m.Samples != 4 {
		t.Fatalf("expected 4 samples, got %d", m.Samples)
	}
}

func TestEvaluateSkipsZeroActualsForMAPE(t *testing.T) {
	m, err := Evaluate([]float64{0, 100}, []float64{5, 90})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(m.MAPE-10) > 1e-9 {
		t.Fatalf("expected MAPE 10, got %v", m.MAPE)
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := Evaluate(nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := Evaluate([]float64{1}, []float64{1, 2}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
