package nn

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

type dense struct {
	units      int
	activation string
	in         int
	kernel     *Param // in × units
	bias       *Param

	x *Tensor
	y *Tensor
}

// Dense is a fully connected layer over flat inputs. activation is "relu",
// "softmax" or "" for linear.
func Dense(units int, activation string) Layer {
	return &dense{units: units, activation: activation}
}

func (l *dense) Spec() LayerSpec {
	return LayerSpec{Kind: KindDense, Units: l.units, Activation: l.activation}
}

func (l *dense) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if in.Steps != 0 {
		return Shape{}, errors.Errorf("dense: needs a flat input, got %v", in)
	}
	if l.units <= 0 {
		return Shape{}, errors.Errorf("dense: units must be positive, got %d", l.units)
	}
	switch l.activation {
	case "", "relu", "softmax":
	default:
		return Shape{}, errors.Errorf("dense: unknown activation %q", l.activation)
	}
	l.in = in.Features
	l.kernel = newParam("kernel", true, l.in, l.units)
	l.bias = newParam("bias", true, l.units)
	glorotUniform(rng, l.kernel.Value, l.in, l.units)
	return Shape{Features: l.units}, nil
}

func (l *dense) Params() []*Param { return []*Param{l.kernel, l.bias} }

func (l *dense) Forward(x *Tensor, training bool) *Tensor {
	l.x = x
	y := NewTensor(x.B, 1, l.units)
	for b := 0; b < x.B; b++ {
		copy(y.Data[b*l.units:(b+1)*l.units], l.bias.Value)
	}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
		general(x.B, l.in, x.Data), general(l.in, l.units, l.kernel.Value),
		1, general(x.B, l.units, y.Data))
	switch l.activation {
	case "relu":
		for i, v := range y.Data {
			y.Data[i] = relu(v)
		}
	case "softmax":
		for b := 0; b < x.B; b++ {
			softmax(y.Data[b*l.units : (b+1)*l.units])
		}
	}
	l.y = y
	return y
}

func (l *dense) Backward(dy *Tensor) *Tensor {
	dz := NewTensor(dy.B, 1, l.units)
	switch l.activation {
	case "relu":
		for i, v := range l.y.Data {
			if v > 0 {
				dz.Data[i] = dy.Data[i]
			}
		}
	case "softmax":
		// Jacobian-vector product of softmax: p * (g - <g, p>)
		for b := 0; b < dy.B; b++ {
			p := l.y.Data[b*l.units : (b+1)*l.units]
			g := dy.Data[b*l.units : (b+1)*l.units]
			var dot float64
			for k := range p {
				dot += p[k] * g[k]
			}
			for k := range p {
				dz.Data[b*l.units+k] = p[k] * (g[k] - dot)
			}
		}
	default:
		copy(dz.Data, dy.Data)
	}
	blas64.Gemm(blas.Trans, blas.NoTrans, 1,
		general(dy.B, l.in, l.x.Data), general(dy.B, l.units, dz.Data),
		1, general(l.in, l.units, l.kernel.Grad))
	addColumnSums(l.bias.Grad, dz.Data, l.units)
	dx := &Tensor{B: l.x.B, T: l.x.T, C: l.x.C, Data: make([]float64, len(l.x.Data))}
	blas64.Gemm(blas.NoTrans, blas.Trans, 1,
		general(dy.B, l.units, dz.Data), general(l.in, l.units, l.kernel.Value),
		0, general(dy.B, l.in, dx.Data))
	return dx
}

func softmax(z []float64) {
	m := math.Inf(-1)
	for _, v := range z {
		m = math.Max(m, v)
	}
	var sum float64
	for i, v := range z {
		z[i] = math.Exp(v - m)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}

// general wraps a row-major rows×cols slice.
func general(rows, cols int, data []float64) blas64.General {
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// addColumnSums adds the column sums of the row-major matrix m (width cols)
// to dst.
func addColumnSums(dst, m []float64, cols int) {
	for i := 0; i+cols <= len(m); i += cols {
		row := m[i : i+cols]
		for j, v := range row {
			dst[j] += v
		}
	}
}
