package nn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// conv1d is a stride-1 convolution over time with "same" zero padding.
type conv1d struct {
	filters    int
	kernelSize int
	activation string
	in         Shape
	padLeft    int
	kernel     *Param // (kernelSize·channels) × filters
	bias       *Param

	x    *Tensor
	y    *Tensor
	cols []float64
}

// Conv1D returns a 1-D convolution with the given number of filters and
// kernel width. activation is "relu" or "" for linear.
func Conv1D(filters, kernelSize int, activation string) Layer {
	return &conv1d{filters: filters, kernelSize: kernelSize, activation: activation}
}

func (l *conv1d) Spec() LayerSpec {
	return LayerSpec{Kind: KindConv1D, Units: l.filters, Kernel: l.kernelSize, Activation: l.activation}
}

func (l *conv1d) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if in.Steps == 0 {
		return Shape{}, errors.Errorf("conv1d: needs a sequence input, got %v", in)
	}
	if l.filters <= 0 || l.kernelSize <= 0 {
		return Shape{}, errors.Errorf("conv1d: filters and kernel must be positive (%d, %d)", l.filters, l.kernelSize)
	}
	if l.activation != "" && l.activation != "relu" {
		return Shape{}, errors.Errorf("conv1d: unknown activation %q", l.activation)
	}
	l.in = in
	l.padLeft = (l.kernelSize - 1) / 2
	rows := l.kernelSize * in.Features
	l.kernel = newParam("kernel", true, l.kernelSize, in.Features, l.filters)
	l.bias = newParam("bias", true, l.filters)
	glorotUniform(rng, l.kernel.Value, rows, l.kernelSize*l.filters)
	return Shape{Steps: in.Steps, Features: l.filters}, nil
}

func (l *conv1d) Params() []*Param { return []*Param{l.kernel, l.bias} }

// im2col writes the receptive field of every output step of example b into
// l.cols, one row of kernelSize·C values per step.
func (l *conv1d) im2col(x *Tensor, b int) {
	c := x.C
	width := l.kernelSize * c
	if len(l.cols) != x.T*width {
		l.cols = make([]float64, x.T*width)
	}
	for t := 0; t < x.T; t++ {
		row := l.cols[t*width : (t+1)*width]
		for j := 0; j < l.kernelSize; j++ {
			s := t + j - l.padLeft
			seg := row[j*c : (j+1)*c]
			if s < 0 || s >= x.T {
				clear(seg)
				continue
			}
			copy(seg, x.Row(b, s))
		}
	}
}

func (l *conv1d) Forward(x *Tensor, training bool) *Tensor {
	l.x = x
	width := l.kernelSize * x.C
	y := NewTensor(x.B, x.T, l.filters)
	k := general(width, l.filters, l.kernel.Value)
	for b := 0; b < x.B; b++ {
		out := y.Data[b*x.T*l.filters : (b+1)*x.T*l.filters]
		for t := 0; t < x.T; t++ {
			copy(out[t*l.filters:(t+1)*l.filters], l.bias.Value)
		}
		l.im2col(x, b)
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, general(x.T, width, l.cols), k, 1, general(x.T, l.filters, out))
	}
	if l.activation == "relu" {
		for i, v := range y.Data {
			y.Data[i] = relu(v)
		}
	}
	l.y = y
	return y
}

func (l *conv1d) Backward(dy *Tensor) *Tensor {
	x := l.x
	c := x.C
	width := l.kernelSize * c
	dz := make([]float64, len(dy.Data))
	if l.activation == "relu" {
		for i, v := range l.y.Data {
			if v > 0 {
				dz[i] = dy.Data[i]
			}
		}
	} else {
		copy(dz, dy.Data)
	}
	dx := NewTensor(x.B, x.T, c)
	dcols := make([]float64, x.T*width)
	k := general(width, l.filters, l.kernel.Value)
	dk := general(width, l.filters, l.kernel.Grad)
	for b := 0; b < x.B; b++ {
		g := general(x.T, l.filters, dz[b*x.T*l.filters:(b+1)*x.T*l.filters])
		l.im2col(x, b)
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, general(x.T, width, l.cols), g, 1, dk)
		addColumnSums(l.bias.Grad, g.Data, l.filters)
		blas64.Gemm(blas.NoTrans, blas.Trans, 1, g, k, 0, general(x.T, width, dcols))
		for t := 0; t < x.T; t++ {
			row := dcols[t*width : (t+1)*width]
			for j := 0; j < l.kernelSize; j++ {
				s := t + j - l.padLeft
				if s < 0 || s >= x.T {
					continue
				}
				dst := dx.Row(b, s)
				for ch, v := range row[j*c : (j+1)*c] {
					dst[ch] += v
				}
			}
		}
	}
	return dx
}
