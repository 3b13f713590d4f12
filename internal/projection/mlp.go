// Package projection maps pretrained text embeddings into the shared event/user
// space with a small two-layer network, one instance per tower.
package projection

import (
	"math"
	"math/rand/v2"

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/vecmath"
)

// Default layer sizes: a 384-dimensional sentence embedding projected through
// a 256-unit hidden layer to 128 dimensions.
const (
	DefaultInputDim  = 384
	DefaultHiddenDim = 256
	DefaultOutputDim = 128
)

// Fixed initialization seeds. The towers use different seeds so that an
// untrained event tower and user tower never share weights.
const (
	EventSeed uint64 = 0x45564e54 // "EVNT"
	UserSeed  uint64 = 0x55534552 // "USER"
)

// Shape is the layer geometry of a Projector.
type Shape struct {
	Input  int `koanf:"input_dim" yaml:"input_dim" validate:"gt=0"`
	Hidden int `koanf:"hidden_dim" yaml:"hidden_dim" validate:"gt=0"`
	Output int `koanf:"output_dim" yaml:"output_dim" validate:"gt=0"`
}

// DefaultShape returns the 384 -> 256 -> 128 geometry.
func DefaultShape() Shape {
	return Shape{Input: DefaultInputDim, Hidden: DefaultHiddenDim, Output: DefaultOutputDim}
}

// Projector is linear(Input->Hidden) -> ReLU -> dropout -> linear(Hidden->Output)
// followed by L2 normalization. Weights are immutable after construction, so a
// Projector is safe for concurrent use.
type Projector struct {
	shape Shape
	w1    []float32 // Hidden x Input, row-major
	b1    []float32 // Hidden
	w2    []float32 // Output x Hidden, row-major
	b2    []float32 // Output
}

// NewXavier returns a Projector with Xavier-uniform weights drawn from a PRNG
// seeded with seed, and zero biases. The same shape and seed always produce
// the same weights.
func NewXavier(shape Shape, seed uint64) *Projector {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &Projector{
		shape: shape,
		w1:    xavierUniform(rng, shape.Hidden, shape.Input),
		b1:    make([]float32, shape.Hidden),
		w2:    xavierUniform(rng, shape.Output, shape.Hidden),
		b2:    make([]float32, shape.Output),
	}
}

// xavierUniform fills a rows x cols matrix from U(-a, a) with
// a = sqrt(6 / (fan_in + fan_out)).
func xavierUniform(rng *rand.Rand, rows, cols int) []float32 {
	bound := math.Sqrt(6.0 / float64(rows+cols))
	w := make([]float32, rows*cols)
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return w
}

// Shape returns the layer geometry.
func (p *Projector) Shape() Shape {
	return p.shape
}

// InputDim returns the expected input length.
func (p *Projector) InputDim() int { return p.shape.Input }

// OutputDim returns the length of projected vectors.
func (p *Projector) OutputDim() int { return p.shape.Output }

// Project runs the network on x and returns a unit-length vector (or the
// zero vector if the network output is zero).
func (p *Projector) Project(x []float32) ([]float32, error) {
	if err := errs.CheckDim("projection input", x, p.shape.Input); err != nil {
		return nil, err
	}

	hidden := affine(p.w1, p.b1, x, p.shape.Hidden)
	for i, h := range hidden {
		if h < 0 {
			hidden[i] = 0
		}
	}
	// Dropout is the identity at inference.
	out := affine(p.w2, p.b2, hidden, p.shape.Output)
	return vecmath.Normalize(out), nil
}

// affine computes W x + b for a rows x len(x) matrix W.
func affine(w, b, x []float32, rows int) []float32 {
	cols := len(x)
	out := make([]float32, rows)
	for r := 0; r < rows; r++ {
		row := w[r*cols : (r+1)*cols]
		sum := float64(b[r])
		for c, v := range row {
			sum += float64(v) * float64(x[c])
		}
		out[r] = float32(sum)
	}
	return out
}
