// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"errors"
	"math"
	"testing"
)

func TestFitRecoversExactLine(t *testing.T) {
	s := newTestSession(t)

	// y = 2x exactly; the closed-form fit must recover the line up to
	// fixed-point reciprocal error.
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	ex, err := s.EncryptVector(x)
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	ey, err := s.EncryptVector(y)
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}

	model, err := s.Fit(ex, ey)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	coeffs, err := model.Reveal()
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if math.Abs(coeffs.Slope-2) > 0.02 {
		t.Errorf("slope: got %v, want 2", coeffs.Slope)
	}
	if math.Abs(coeffs.Intercept) > 0.1 {
		t.Errorf("intercept: got %v, want 0", coeffs.Intercept)
	}

	// The single decryption the fit performs is on the record.
	disc := s.Disclosures()
	if len(disc) != 1 {
		t.Fatalf("disclosures: got %d, want 1", len(disc))
	}
	if disc[0].Label != "fit/scatter_xx" {
		t.Errorf("disclosure label: got %q", disc[0].Label)
	}
	// Sxx of x=[1,2,3,4] is 4*30 - 10*10 = 20.
	if math.Abs(disc[0].Value-20) > 0.1 {
		t.Errorf("disclosed scatter: got %v, want 20", disc[0].Value)
	}
}

func TestPredict(t *testing.T) {
	s := newTestSession(t)

	ex, err := s.EncryptVector([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	ey, err := s.EncryptVector([]float64{2, 4, 6, 8})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	model, err := s.Fit(ex, ey)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	point, err := s.EncryptScalar(5, 1)
	if err != nil {
		t.Fatalf("EncryptScalar: %v", err)
	}
	pred, err := model.Predict(point)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	got, err := s.DecryptScalar(pred)
	if err != nil {
		t.Fatalf("DecryptScalar: %v", err)
	}
	if math.Abs(got-10) > 0.1 {
		t.Errorf("predict(5): got %v, want 10", got)
	}
}

func TestPredictBatchAndMSE(t *testing.T) {
	s := newTestSession(t)

	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	ex, err := s.EncryptVector(x)
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	ey, err := s.EncryptVector(y)
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	model, err := s.Fit(ex, ey)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	pred, err := model.PredictBatch(ex)
	if err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	got, err := s.DecryptVector(pred)
	if err != nil {
		t.Fatalf("DecryptVector: %v", err)
	}
	for i := range y {
		if math.Abs(got[i]-y[i]) > 0.1 {
			t.Errorf("prediction %d: got %v, want %v", i, got[i], y[i])
		}
	}

	// The squared-error metric runs on re-encrypted predictions; fitting
	// the training data exactly, it must come out near zero.
	fresh, err := s.ReencryptVector(pred)
	if err != nil {
		t.Fatalf("ReencryptVector: %v", err)
	}
	mse, err := s.MeanSquaredError(fresh, ey)
	if err != nil {
		t.Fatalf("MeanSquaredError: %v", err)
	}
	mseVal, err := s.DecryptScalar(mse)
	if err != nil {
		t.Fatalf("DecryptScalar: %v", err)
	}
	if mseVal < -0.02 || mseVal > 0.02 {
		t.Errorf("mse on training data: got %v", mseVal)
	}

	// The raw predictions carry too deep a fixed-point scale to square
	// again; the metric refuses rather than wrapping.
	if _, err := s.MeanSquaredError(pred, ey); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("mse on raw predictions: got %v, want ErrArithmeticOverflow", err)
	}
}

func TestFitShapeValidation(t *testing.T) {
	s := newTestSession(t)

	ex, err := s.EncryptVector([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	short, err := s.EncryptVector([]float64{1, 2})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	if _, err := s.Fit(ex, short); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("length mismatch: got %v, want ErrArgumentShapeMismatch", err)
	}

	one, err := s.EncryptVector([]float64{1})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	if _, err := s.Fit(one, one); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("single sample: got %v, want ErrArgumentShapeMismatch", err)
	}
}

func TestFitDegenerateFeatures(t *testing.T) {
	s := newTestSession(t)

	// Constant features have zero scatter; no reciprocal exists.
	ex, err := s.EncryptVector([]float64{3, 3, 3, 3})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	ey, err := s.EncryptVector([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	if _, err := s.Fit(ex, ey); !errors.Is(err, ErrPrecisionLoss) {
		t.Errorf("zero spread: got %v, want ErrPrecisionLoss", err)
	}
}

func TestFitOverflowNearCeiling(t *testing.T) {
	s := newTestSession(t)

	// A large dataset of values near the representable ceiling encrypts
	// fine element by element, but the pipeline's aggregation provably
	// wraps. The fit is rejected with a typed error before the backend
	// computes anything wrong.
	n := 1000
	limit := s.Parameters().MaxInput() * 0.9
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		xs[i] = limit - float64(i)
		ys[i] = limit - float64(2*i)
	}
	ex, err := s.EncryptVector(xs)
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	ey, err := s.EncryptVector(ys)
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	if _, err := s.Fit(ex, ey); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("fit near ceiling: got %v, want ErrArithmeticOverflow", err)
	}

	// The static budget check predicts the same outcome without keys or
	// ciphertexts.
	var sum, sumSq float64
	for _, x := range xs {
		sum += x
		sumSq += x * x
	}
	scat := float64(n)*sumSq - sum*sum
	if err := s.Parameters().FitBudget(n, limit, scat); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("FitBudget: got %v, want ErrArithmeticOverflow", err)
	}
}

func TestModelRebuild(t *testing.T) {
	s := newTestSession(t)

	ex, err := s.EncryptVector([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	ey, err := s.EncryptVector([]float64{3, 5, 7, 9})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	model, err := s.Fit(ex, ey)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	rebuilt, err := NewModel(s, model.Slope(), model.Intercept())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	point, err := s.EncryptScalar(10, 1)
	if err != nil {
		t.Fatalf("EncryptScalar: %v", err)
	}
	pred, err := rebuilt.Predict(point)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	got, err := s.DecryptScalar(pred)
	if err != nil {
		t.Fatalf("DecryptScalar: %v", err)
	}
	if math.Abs(got-21) > 0.2 {
		t.Errorf("rebuilt predict(10): got %v, want 21", got)
	}

	// Coefficients with the wrong scales are not model material.
	raw, err := s.EncryptScalar(1, 4)
	if err != nil {
		t.Fatalf("EncryptScalar: %v", err)
	}
	if _, err := NewModel(s, raw, raw); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("bad scales: got %v, want ErrArgumentShapeMismatch", err)
	}
}

func TestPlainRMSE(t *testing.T) {
	got, err := PlainRMSE([]float64{1, 2, 3}, []float64{1, 2, 5})
	if err != nil {
		t.Fatalf("PlainRMSE: %v", err)
	}
	want := math.Sqrt(4.0 / 3.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("rmse: got %v, want %v", got, want)
	}
	if _, err := PlainRMSE([]float64{1}, []float64{1, 2}); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("length mismatch: got %v", err)
	}
}
