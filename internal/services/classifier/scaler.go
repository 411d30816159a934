package classifier

import (
	"errors"
	"fmt"
	"math"
)

var ErrNotFitted = errors.New("model is not fitted")

// StandardScaler centers each column on its mean and divides by its
// population standard deviation. Constant columns get a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return errors.New("scaler: no rows")
	}
	width := len(rows[0])
	mean := make([]float64, width)
	for _, r := range rows {
		if len(r) != width {
			return fmt.Errorf("scaler: ragged rows (%d vs %d)", len(r), width)
		}
		for j, v := range r {
			mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, r := range rows {
		for j, v := range r {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean, s.Scale = mean, scale
	return nil
}

// Transform returns scaled copies of rows.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		if len(r) != len(s.Mean) {
			return nil, fmt.Errorf("scaler: row has %d values, fitted on %d", len(r), len(s.Mean))
		}
		scaled := make([]float64, len(r))
		for j, v := range r {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) Width() int { return len(s.Mean) }
