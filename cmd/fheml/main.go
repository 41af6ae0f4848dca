// Command fheml runs the encrypted regression pipeline end to end: it
// generates a noisy linear dataset, encrypts it, fits a line under
// encryption, predicts on the encrypted features and reports the
// decrypted coefficients, error and every plaintext disclosure the
// pipeline made along the way.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/luxfi/fheml"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		n         = flag.Int("n", 8, "number of samples")
		slope     = flag.Float64("slope", 1.5, "true slope of the generated line")
		intercept = flag.Float64("intercept", 2.0, "true intercept of the generated line")
		noise     = flag.Float64("noise", 0.1, "uniform noise amplitude added to targets")
		seed      = flag.Int64("seed", 1, "random seed")
		profile   = flag.String("profile", "pn14", "parameter profile: pn14 or pn13")
	)
	flag.Parse()

	lit, err := profileLiteral(*profile)
	if err != nil {
		return err
	}
	params, err := fheml.NewParametersFromLiteral(lit)
	if err != nil {
		return fmt.Errorf("parameters: %w", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	xs := make([]float64, *n)
	ys := make([]float64, *n)
	for i := range xs {
		xs[i] = float64(i+1) * 0.25
		ys[i] = *slope*xs[i] + *intercept + *noise*(2*rng.Float64()-1)
	}

	if err := params.FitBudget(*n, maxAbs(xs, ys), scatter(xs)); err != nil {
		return fmt.Errorf("dataset does not fit the plaintext space: %w", err)
	}

	session, err := fheml.NewSession(params)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	defer session.Close()

	log.Printf("Encrypting %d samples (profile %s)", *n, *profile)
	encX, err := session.EncryptVector(xs)
	if err != nil {
		return fmt.Errorf("encrypt x: %w", err)
	}
	encY, err := session.EncryptVector(ys)
	if err != nil {
		return fmt.Errorf("encrypt y: %w", err)
	}

	log.Printf("Fitting under encryption")
	model, err := session.Fit(encX, encY)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	coeffs, err := model.Reveal()
	if err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	log.Printf("Fitted:  slope=%.4f intercept=%.4f", coeffs.Slope, coeffs.Intercept)
	log.Printf("Truth:   slope=%.4f intercept=%.4f (noise ±%.2f)", *slope, *intercept, *noise)

	pred, err := model.PredictBatch(encX)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	predPlain, err := session.DecryptVector(pred)
	if err != nil {
		return fmt.Errorf("decrypt predictions: %w", err)
	}

	// The mean squared error runs under encryption on re-encrypted
	// predictions; the square root happens in plaintext.
	predFresh, err := session.ReencryptVector(pred)
	if err != nil {
		return fmt.Errorf("re-encrypt predictions: %w", err)
	}
	mse, err := session.MeanSquaredError(predFresh, encY)
	if err != nil {
		return fmt.Errorf("mse: %w", err)
	}
	mseVal, err := session.DecryptScalar(mse)
	if err != nil {
		return fmt.Errorf("decrypt mse: %w", err)
	}
	rmse, err := fheml.PlainRMSE(predPlain, ys)
	if err != nil {
		return fmt.Errorf("rmse: %w", err)
	}
	log.Printf("Encrypted MSE=%.5f, plaintext RMSE=%.5f", mseVal, rmse)

	for _, d := range session.Disclosures() {
		log.Printf("Disclosed: %s = %g", d.Label, d.Value)
	}
	return nil
}

func profileLiteral(name string) (fheml.ParametersLiteral, error) {
	switch name {
	case "pn14":
		return fheml.PN14T50, nil
	case "pn13":
		return fheml.PN13T50, nil
	default:
		return fheml.ParametersLiteral{}, fmt.Errorf("unknown profile %q", name)
	}
}

func maxAbs(vecs ...[]float64) float64 {
	var m float64
	for _, v := range vecs {
		for _, x := range v {
			m = math.Max(m, math.Abs(x))
		}
	}
	return m
}

// scatter is the plaintext n*sum(x^2)-sum(x)^2 of the features, the
// spread figure the fit budget is conditioned on.
func scatter(xs []float64) float64 {
	var sum, sumSq float64
	for _, x := range xs {
		sum += x
		sumSq += x * x
	}
	return float64(len(xs))*sumSq - sum*sum
}
