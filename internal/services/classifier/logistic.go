package classifier

import (
	"errors"
	"fmt"
	"math"
)

const KindLogistic = "logistic"

var ErrTrainingUnsupported = errors.New("classifier does not support training")

// LogisticRegression is a class-balanced, L2-regularized binary logistic
// model fitted by batch gradient descent.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	epochs       int
	learningRate float64
	l2           float64
}

type LogisticOption func(*LogisticRegression)

func WithEpochs(n int) LogisticOption {
	return func(m *LogisticRegression) {
		if n > 0 {
			m.epochs = n
		}
	}
}

func WithLearningRate(lr float64) LogisticOption {
	return func(m *LogisticRegression) {
		if lr > 0 {
			m.learningRate = lr
		}
	}
}

func WithL2(l2 float64) LogisticOption {
	return func(m *LogisticRegression) { m.l2 = l2 }
}

func NewLogisticRegression(opts ...LogisticOption) *LogisticRegression {
	m := &LogisticRegression{epochs: 300, learningRate: 0.1, l2: 1e-3}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *LogisticRegression) Kind() string { return KindLogistic }

// Fit trains on scaled rows and 0/1 labels. Each class contributes equal
// total weight so a rare positive class is not ignored.
func (m *LogisticRegression) Fit(rows [][]float64, labels []float64) error {
	if len(rows) == 0 || len(rows) != len(labels) {
		return fmt.Errorf("logistic: %d rows for %d labels", len(rows), len(labels))
	}
	width := len(rows[0])

	var pos float64
	for _, y := range labels {
		pos += y
	}
	neg := float64(len(labels)) - pos
	if pos == 0 || neg == 0 {
		return errors.New("logistic: labels contain a single class")
	}
	n := float64(len(labels))
	wPos, wNeg := n/(2*pos), n/(2*neg)

	w := make([]float64, width)
	var b float64
	grad := make([]float64, width)

	for epoch := 0; epoch < m.epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradB float64

		for i, r := range rows {
			p := sigmoid(dot(w, r) + b)
			sw := wNeg
			if labels[i] == 1 {
				sw = wPos
			}
			diff := sw * (p - labels[i])
			for j, v := range r {
				grad[j] += diff * v
			}
			gradB += diff
		}

		for j := range w {
			w[j] -= m.learningRate * (grad[j]/n + m.l2*w[j])
		}
		b -= m.learningRate * gradB / n
	}

	m.Weights, m.Bias = w, b
	return nil
}

func (m *LogisticRegression) PredictProba(rows [][]float64) ([]float64, error) {
	if len(m.Weights) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		if len(r) != len(m.Weights) {
			return nil, fmt.Errorf("logistic: row has %d values, model has %d weights", len(r), len(m.Weights))
		}
		out[i] = sigmoid(dot(m.Weights, r) + m.Bias)
	}
	return out, nil
}

// Importances returns |w| normalized to sum to 1.
func (m *LogisticRegression) Importances() []float64 {
	out := make([]float64, len(m.Weights))
	var total float64
	for i, w := range m.Weights {
		out[i] = math.Abs(w)
		total += out[i]
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
