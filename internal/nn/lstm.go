package nn

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// lstm is a single LSTM layer with gates ordered input, forget, cell,
// output in every 4·units block.
type lstm struct {
	units     int
	returnSeq bool
	in        int
	steps     int

	kernel    *Param // in × 4·units
	recurrent *Param // units × 4·units
	bias      *Param

	x     *Tensor
	gates []float64 // B·T × 4·units activated gates, reused for their gradients
	h, c  []float64 // B·T × units
}

// LSTM returns an LSTM layer. With returnSequences the output keeps the
// time axis; otherwise only the last hidden state is returned.
func LSTM(units int, returnSequences bool) Layer {
	return &lstm{units: units, returnSeq: returnSequences}
}

func (l *lstm) Spec() LayerSpec {
	return LayerSpec{Kind: KindLSTM, Units: l.units, ReturnSequences: l.returnSeq}
}

func (l *lstm) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if in.Steps == 0 {
		return Shape{}, errors.Errorf("lstm: needs a sequence input, got %v", in)
	}
	if l.units <= 0 {
		return Shape{}, errors.Errorf("lstm: units must be positive, got %d", l.units)
	}
	l.in, l.steps = in.Features, in.Steps
	u4 := 4 * l.units
	l.kernel = newParam("kernel", true, l.in, u4)
	l.recurrent = newParam("recurrent_kernel", true, l.units, u4)
	l.bias = newParam("bias", true, u4)
	glorotUniform(rng, l.kernel.Value, l.in, u4)
	orthogonal(rng, l.recurrent.Value, l.units, u4)
	for j := l.units; j < 2*l.units; j++ {
		l.bias.Value[j] = 1 // forget gate
	}
	if l.returnSeq {
		return Shape{Steps: in.Steps, Features: l.units}, nil
	}
	return Shape{Features: l.units}, nil
}

func (l *lstm) Params() []*Param { return []*Param{l.kernel, l.recurrent, l.bias} }

// stepView addresses the rows of step t across the batch inside a
// B·T × cols buffer.
func stepView(data []float64, batch, steps, cols, t int) blas64.General {
	return blas64.General{Rows: batch, Cols: cols, Stride: steps * cols, Data: data[t*cols:]}
}

func (l *lstm) Forward(x *Tensor, training bool) *Tensor {
	B, T, U := x.B, x.T, l.units
	u4 := 4 * U
	l.x = x
	if len(l.gates) != B*T*u4 {
		l.gates = make([]float64, B*T*u4)
		l.h = make([]float64, B*T*U)
		l.c = make([]float64, B*T*U)
	}
	for r := 0; r < B*T; r++ {
		copy(l.gates[r*u4:(r+1)*u4], l.bias.Value)
	}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
		general(B*T, l.in, x.Data), general(l.in, u4, l.kernel.Value),
		1, general(B*T, u4, l.gates))

	rec := general(U, u4, l.recurrent.Value)
	for t := 0; t < T; t++ {
		if t > 0 {
			blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
				stepView(l.h, B, T, U, t-1), rec, 1, stepView(l.gates, B, T, u4, t))
		}
		for b := 0; b < B; b++ {
			r := b*T + t
			z := l.gates[r*u4 : (r+1)*u4]
			h := l.h[r*U : (r+1)*U]
			c := l.c[r*U : (r+1)*U]
			for u := 0; u < U; u++ {
				ig := sigmoid(z[u])
				fg := sigmoid(z[U+u])
				gg := math.Tanh(z[2*U+u])
				og := sigmoid(z[3*U+u])
				z[u], z[U+u], z[2*U+u], z[3*U+u] = ig, fg, gg, og
				cs := ig * gg
				if t > 0 {
					cs += fg * l.c[(r-1)*U+u]
				}
				c[u] = cs
				h[u] = og * math.Tanh(cs)
			}
		}
	}

	if l.returnSeq {
		return &Tensor{B: B, T: T, C: U, Data: l.h}
	}
	y := NewTensor(B, 1, U)
	for b := 0; b < B; b++ {
		r := b*T + T - 1
		copy(y.Data[b*U:(b+1)*U], l.h[r*U:(r+1)*U])
	}
	return y
}

func (l *lstm) Backward(dy *Tensor) *Tensor {
	x := l.x
	B, T, U := x.B, x.T, l.units
	u4 := 4 * U
	dhNext := make([]float64, B*U)
	dcNext := make([]float64, B*U)
	rec := general(U, u4, l.recurrent.Value)
	drec := general(U, u4, l.recurrent.Grad)

	for t := T - 1; t >= 0; t-- {
		for b := 0; b < B; b++ {
			r := b*T + t
			z := l.gates[r*u4 : (r+1)*u4]
			var g []float64
			switch {
			case l.returnSeq:
				g = dy.Row(b, t)
			case t == T-1:
				g = dy.Row(b, 0)
			}
			for u := 0; u < U; u++ {
				dh := dhNext[b*U+u]
				if g != nil {
					dh += g[u]
				}
				ig, fg, gg, og := z[u], z[U+u], z[2*U+u], z[3*U+u]
				tc := math.Tanh(l.c[r*U+u])
				dc := dcNext[b*U+u] + dh*og*(1-tc*tc)
				cPrev := 0.0
				if t > 0 {
					cPrev = l.c[(r-1)*U+u]
				}
				dcNext[b*U+u] = dc * fg
				z[u] = dc * gg * ig * (1 - ig)
				z[U+u] = dc * cPrev * fg * (1 - fg)
				z[2*U+u] = dc * ig * (1 - gg*gg)
				z[3*U+u] = dh * tc * og * (1 - og)
			}
		}
		dz := stepView(l.gates, B, T, u4, t)
		blas64.Gemm(blas.NoTrans, blas.Trans, 1, dz, rec, 0, general(B, U, dhNext))
		if t > 0 {
			blas64.Gemm(blas.Trans, blas.NoTrans, 1, stepView(l.h, B, T, U, t-1), dz, 1, drec)
		}
	}

	blas64.Gemm(blas.Trans, blas.NoTrans, 1,
		general(B*T, l.in, x.Data), general(B*T, u4, l.gates),
		1, general(l.in, u4, l.kernel.Grad))
	addColumnSums(l.bias.Grad, l.gates, u4)
	dx := NewTensor(B, T, l.in)
	blas64.Gemm(blas.NoTrans, blas.Trans, 1,
		general(B*T, u4, l.gates), general(l.in, u4, l.kernel.Value),
		0, general(B*T, l.in, dx.Data))
	return dx
}
