package nn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Param is one weight array of a layer. Non-trainable params (batch-norm
// running statistics) have no gradient and are skipped by the optimiser.
type Param struct {
	Name      string
	Shape     []int
	Trainable bool
	Value     []float64
	Grad      []float64
}

func newParam(name string, trainable bool, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	p := &Param{Name: name, Shape: shape, Trainable: trainable, Value: make([]float64, n)}
	if trainable {
		p.Grad = make([]float64, n)
	}
	return p
}

// Layer is one stage of a Sequential model. Forward keeps whatever Backward
// needs; Backward accumulates parameter gradients into Param.Grad and
// returns the gradient with respect to the layer input.
type Layer interface {
	Spec() LayerSpec
	Build(in Shape, rng *rand.Rand) (Shape, error)
	Forward(x *Tensor, training bool) *Tensor
	Backward(dy *Tensor) *Tensor
	Params() []*Param
}

// LayerSpec is the serialisable description of a layer.
type LayerSpec struct {
	Kind            string  `json:"kind"`
	Units           int     `json:"units,omitempty"`
	Kernel          int     `json:"kernel,omitempty"`
	Pool            int     `json:"pool,omitempty"`
	Rate            float64 `json:"rate,omitempty"`
	Activation      string  `json:"activation,omitempty"`
	ReturnSequences bool    `json:"returnSequences,omitempty"`
	Momentum        float64 `json:"momentum,omitempty"`
	Epsilon         float64 `json:"epsilon,omitempty"`
}

const (
	KindConv1D    = "conv1d"
	KindBatchNorm = "batch_normalization"
	KindMaxPool   = "max_pooling1d"
	KindDropout   = "dropout"
	KindLSTM      = "lstm"
	KindDense     = "dense"
)

// New returns an unbuilt layer for s.
func (s LayerSpec) New() (Layer, error) {
	switch s.Kind {
	case KindConv1D:
		return Conv1D(s.Units, s.Kernel, s.Activation), nil
	case KindBatchNorm:
		bn := BatchNorm()
		if s.Momentum > 0 {
			bn.momentum = s.Momentum
		}
		if s.Epsilon > 0 {
			bn.epsilon = s.Epsilon
		}
		return bn, nil
	case KindMaxPool:
		return MaxPool1D(s.Pool), nil
	case KindDropout:
		return Dropout(s.Rate), nil
	case KindLSTM:
		return LSTM(s.Units, s.ReturnSequences), nil
	case KindDense:
		return Dense(s.Units, s.Activation), nil
	}
	return nil, errors.Errorf("unknown layer kind %q", s.Kind)
}
