package dataset

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardises every sample position independently: position t of
// every epoch is shifted by Mean[t] and divided by Scale[t]. Scale is the
// population standard deviation, or 1 where that is (close to) zero.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-position statistics over x.
func FitScaler(x [][]float64) (Scaler, error) {
	if len(x) == 0 {
		return Scaler{}, errors.New("fit scaler: no epochs")
	}
	steps := len(x[0])
	n := float64(len(x))
	s := Scaler{Mean: make([]float64, steps), Scale: make([]float64, steps)}
	col := make([]float64, len(x))
	for t := 0; t < steps; t++ {
		for i, e := range x {
			if len(e) != steps {
				return Scaler{}, fmt.Errorf("fit scaler: epoch %d has %d samples, want %d", i, len(e), steps)
			}
			col[i] = e[t]
		}
		mean, variance := stat.MeanVariance(col, nil)
		if len(x) > 1 {
			variance *= (n - 1) / n
		} else {
			variance = 0
		}
		std := math.Sqrt(variance)
		if std < 10*epsilon {
			std = 1
		}
		s.Mean[t] = mean
		s.Scale[t] = std
	}
	return s, nil
}

const epsilon = 2.220446049250313e-16

// Transform returns standardised copies of x.
func (s Scaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, e := range x {
		if len(e) != len(s.Mean) {
			return nil, fmt.Errorf("transform: epoch %d has %d samples, scaler fitted on %d", i, len(e), len(s.Mean))
		}
		z := make([]float64, len(e))
		for t, v := range e {
			z[t] = (v - s.Mean[t]) / s.Scale[t]
		}
		out[i] = z
	}
	return out, nil
}
