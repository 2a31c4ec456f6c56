// Package nn is a small sequence-model toolkit: 1-D convolution, batch
// normalisation, pooling, dropout, LSTM and dense layers trained with Adam
// on a weighted sparse cross-entropy loss. Matrix products go through
// gonum's BLAS.
package nn

import "fmt"

// Shape is the per-example shape of a layer's input or output. Steps is
// zero for a flat vector of Features values.
type Shape struct {
	Steps    int `json:"steps"`
	Features int `json:"features"`
}

// Size is the number of values per example.
func (s Shape) Size() int {
	if s.Steps == 0 {
		return s.Features
	}
	return s.Steps * s.Features
}

// T is the time length used in a Tensor of this shape.
func (s Shape) T() int {
	if s.Steps == 0 {
		return 1
	}
	return s.Steps
}

func (s Shape) String() string {
	if s.Steps == 0 {
		return fmt.Sprintf("(None, %d)", s.Features)
	}
	return fmt.Sprintf("(None, %d, %d)", s.Steps, s.Features)
}

// Tensor is a batch of B examples of T steps by C features, row major:
// Data[(b*T+t)*C+c].
type Tensor struct {
	B, T, C int
	Data    []float64
}

// NewTensor allocates a zeroed tensor.
func NewTensor(b, t, c int) *Tensor {
	return &Tensor{B: b, T: t, C: c, Data: make([]float64, b*t*c)}
}

// Row returns the C values of example b at step t.
func (x *Tensor) Row(b, t int) []float64 {
	off := (b*x.T + t) * x.C
	return x.Data[off : off+x.C]
}

// Batch gathers the examples at idx into a tensor of the given shape. Each
// example in xs holds shape.Size() values laid out step-major.
func Batch(xs [][]float64, idx []int, shape Shape) (*Tensor, error) {
	t := NewTensor(len(idx), shape.T(), shape.Features)
	n := shape.Size()
	for i, j := range idx {
		if len(xs[j]) != n {
			return nil, fmt.Errorf("example %d has %d values, want %d", j, len(xs[j]), n)
		}
		copy(t.Data[i*n:(i+1)*n], xs[j])
	}
	return t, nil
}
