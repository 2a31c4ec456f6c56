package nn

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// batchNorm normalises each feature over the batch and time axes.
type batchNorm struct {
	momentum float64
	epsilon  float64
	features int

	gamma      *Param
	beta       *Param
	movingMean *Param
	movingVar  *Param

	xhat   []float64
	invStd []float64
}

// BatchNorm returns a batch normalisation layer with momentum 0.99 and
// epsilon 1e-3.
func BatchNorm() *batchNorm {
	return &batchNorm{momentum: 0.99, epsilon: 1e-3}
}

func (l *batchNorm) Spec() LayerSpec {
	return LayerSpec{Kind: KindBatchNorm, Momentum: l.momentum, Epsilon: l.epsilon}
}

func (l *batchNorm) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if in.Features <= 0 {
		return Shape{}, errors.Errorf("batch_normalization: bad input %v", in)
	}
	l.features = in.Features
	l.gamma = newParam("gamma", true, in.Features)
	l.beta = newParam("beta", true, in.Features)
	l.movingMean = newParam("moving_mean", false, in.Features)
	l.movingVar = newParam("moving_variance", false, in.Features)
	for i := range l.gamma.Value {
		l.gamma.Value[i] = 1
		l.movingVar.Value[i] = 1
	}
	return in, nil
}

func (l *batchNorm) Params() []*Param {
	return []*Param{l.gamma, l.beta, l.movingMean, l.movingVar}
}

func (l *batchNorm) Forward(x *Tensor, training bool) *Tensor {
	c := l.features
	y := &Tensor{B: x.B, T: x.T, C: x.C, Data: make([]float64, len(x.Data))}
	if !training {
		for i, v := range x.Data {
			f := i % c
			y.Data[i] = l.gamma.Value[f]*(v-l.movingMean.Value[f])/math.Sqrt(l.movingVar.Value[f]+l.epsilon) + l.beta.Value[f]
		}
		return y
	}
	n := float64(len(x.Data) / c)
	mean := make([]float64, c)
	variance := make([]float64, c)
	for i, v := range x.Data {
		mean[i%c] += v
	}
	for f := range mean {
		mean[f] /= n
	}
	for i, v := range x.Data {
		d := v - mean[i%c]
		variance[i%c] += d * d
	}
	if len(l.invStd) != c {
		l.invStd = make([]float64, c)
	}
	for f := range variance {
		variance[f] /= n
		l.invStd[f] = 1 / math.Sqrt(variance[f]+l.epsilon)
		l.movingMean.Value[f] = l.momentum*l.movingMean.Value[f] + (1-l.momentum)*mean[f]
		l.movingVar.Value[f] = l.momentum*l.movingVar.Value[f] + (1-l.momentum)*variance[f]
	}
	if len(l.xhat) != len(x.Data) {
		l.xhat = make([]float64, len(x.Data))
	}
	for i, v := range x.Data {
		f := i % c
		l.xhat[i] = (v - mean[f]) * l.invStd[f]
		y.Data[i] = l.gamma.Value[f]*l.xhat[i] + l.beta.Value[f]
	}
	return y
}

func (l *batchNorm) Backward(dy *Tensor) *Tensor {
	c := l.features
	n := float64(len(dy.Data) / c)
	sumG := make([]float64, c)
	sumGX := make([]float64, c)
	for i, g := range dy.Data {
		f := i % c
		sumG[f] += g
		sumGX[f] += g * l.xhat[i]
	}
	for f := 0; f < c; f++ {
		l.beta.Grad[f] += sumG[f]
		l.gamma.Grad[f] += sumGX[f]
	}
	dx := &Tensor{B: dy.B, T: dy.T, C: dy.C, Data: make([]float64, len(dy.Data))}
	for i, g := range dy.Data {
		f := i % c
		k := l.gamma.Value[f] * l.invStd[f] / n
		dx.Data[i] = k * (n*g - sumG[f] - l.xhat[i]*sumGX[f])
	}
	return dx
}
