package classifier

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ahrav/facerec/internal/domain/face"
)

// TrainOptions holds the hyper-parameters of softmax training.
type TrainOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultTrainOptions returns the hyper-parameters used when none are configured.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Epochs: 200, LearningRate: 0.1, L2: 1e-4}
}

// Softmax is a multinomial logistic regression over face embeddings, one
// weight row per label.
type Softmax struct {
	labels  []string
	weights [][]float64
	bias    []float64
	dim     int
}

var _ Classifier = (*Softmax)(nil)

// NewSoftmax assembles a classifier from its parameters after checking that
// their shapes agree.
func NewSoftmax(labels []string, weights [][]float64, bias []float64) (*Softmax, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("softmax: no labels")
	}
	if len(weights) != len(labels) || len(bias) != len(labels) {
		return nil, fmt.Errorf("softmax: %d labels, %d weight rows, %d biases", len(labels), len(weights), len(bias))
	}
	dim := len(weights[0])
	if dim == 0 {
		return nil, fmt.Errorf("softmax: zero dimension")
	}
	for i, row := range weights {
		if len(row) != dim {
			return nil, fmt.Errorf("softmax: weight row %d has dimension %d, want %d", i, len(row), dim)
		}
		if !finite(row) {
			return nil, fmt.Errorf("softmax: weight row %d is not finite", i)
		}
	}
	if !finite(bias) {
		return nil, fmt.Errorf("softmax: bias is not finite")
	}

	return &Softmax{labels: labels, weights: weights, bias: bias, dim: dim}, nil
}

// Train fits a Softmax to the faces of one tenant, using face names as labels.
// Faces without an embedding are ignored.
func Train(faces []face.Face, opts TrainOptions) (*Softmax, error) {
	samples := make([]face.Face, 0, len(faces))
	dim := 0
	for _, f := range faces {
		if f.Embedding.Dim() == 0 {
			continue
		}
		if dim == 0 {
			dim = f.Embedding.Dim()
		}
		if f.Embedding.Dim() != dim {
			return nil, fmt.Errorf("face %s: %w: want %d, got %d", f.ID, face.ErrDimensionMismatch, dim, f.Embedding.Dim())
		}
		samples = append(samples, f)
	}
	if len(samples) == 0 {
		return nil, ErrNoTrainingData
	}
	if opts.Epochs <= 0 || opts.LearningRate <= 0 || opts.L2 < 0 {
		return nil, face.NewValidationError("train_options", "epochs and learning rate must be positive")
	}

	labelIdx := make(map[string]int)
	for _, f := range samples {
		labelIdx[f.Name] = 0
	}
	labels := make([]string, 0, len(labelIdx))
	for l := range labelIdx {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for i, l := range labels {
		labelIdx[l] = i
	}

	m := &Softmax{
		labels:  labels,
		weights: zeros(len(labels), dim),
		bias:    make([]float64, len(labels)),
		dim:     dim,
	}

	gradW := zeros(len(labels), dim)
	gradB := make([]float64, len(labels))
	probs := make([]float64, len(labels))
	n := float64(len(samples))

	for range opts.Epochs {
		for c := range labels {
			floats.Scale(0, gradW[c])
		}
		floats.Scale(0, gradB)

		for _, f := range samples {
			x := f.Embedding.Vector
			m.scores(x, probs)
			softmax(probs)
			y := labelIdx[f.Name]
			for c := range labels {
				g := probs[c]
				if c == y {
					g--
				}
				floats.AddScaled(gradW[c], g, x)
				gradB[c] += g
			}
		}

		for c := range labels {
			floats.Scale(1-opts.LearningRate*opts.L2, m.weights[c])
			floats.AddScaled(m.weights[c], -opts.LearningRate/n, gradW[c])
		}
		floats.AddScaled(m.bias, -opts.LearningRate/n, gradB)
	}

	return m, nil
}

// Labels returns the labels in probability order.
func (m *Softmax) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// Dim returns the embedding dimension the model was trained on.
func (m *Softmax) Dim() int { return m.dim }

// Probabilities returns the softmax of the per-label scores for x.
func (m *Softmax) Probabilities(x []float64) ([]float64, error) {
	if len(x) != m.dim {
		return nil, fmt.Errorf("%w: want %d, got %d", face.ErrDimensionMismatch, m.dim, len(x))
	}
	probs := make([]float64, len(m.labels))
	m.scores(x, probs)
	softmax(probs)
	return probs, nil
}

func (m *Softmax) scores(x, dst []float64) {
	for c, row := range m.weights {
		dst[c] = floats.Dot(row, x) + m.bias[c]
	}
}

func softmax(v []float64) {
	peak := floats.Max(v)
	for i, s := range v {
		v[i] = math.Exp(s - peak)
	}
	floats.Scale(1/floats.Sum(v), v)
}

func zeros(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
