package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
)

// Sequential is a stack of layers built for a fixed input shape.
type Sequential struct {
	Input  Shape
	Layers []Layer

	shapes []Shape
	names  []string
	rng    *rand.Rand
}

// NewSequential builds layers for input. seed drives weight initialisation
// and dropout masks.
func NewSequential(input Shape, seed uint64, layers ...Layer) (*Sequential, error) {
	if input.Size() <= 0 {
		return nil, errors.Errorf("input shape %v is empty", input)
	}
	m := &Sequential{Input: input, Layers: layers, rng: rand.New(rand.NewPCG(seed, 0xa11ce))}
	counts := map[string]int{}
	shape := input
	for i, l := range layers {
		out, err := l.Build(shape, m.rng)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		kind := l.Spec().Kind
		name := kind
		if n := counts[kind]; n > 0 {
			name = fmt.Sprintf("%s_%d", kind, n)
		}
		counts[kind]++
		m.shapes = append(m.shapes, out)
		m.names = append(m.names, name)
		shape = out
	}
	return m, nil
}

// Output is the per-example output shape.
func (m *Sequential) Output() Shape {
	if len(m.shapes) == 0 {
		return m.Input
	}
	return m.shapes[len(m.shapes)-1]
}

// Params returns every param of every layer in layer order.
func (m *Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range m.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (m *Sequential) Forward(x *Tensor, training bool) *Tensor {
	for _, l := range m.Layers {
		x = l.Forward(x, training)
	}
	return x
}

func (m *Sequential) Backward(dy *Tensor) {
	for i := len(m.Layers) - 1; i >= 0; i-- {
		dy = m.Layers[i].Backward(dy)
	}
}

// Predict returns the output rows for xs, computed in batches.
func (m *Sequential) Predict(xs [][]float64, batchSize int) ([][]float64, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	out := make([][]float64, 0, len(xs))
	k := m.Output().Size()
	for start := 0; start < len(xs); start += batchSize {
		idx := span(start, min(start+batchSize, len(xs)))
		xb, err := Batch(xs, idx, m.Input)
		if err != nil {
			return nil, err
		}
		y := m.Forward(xb, false)
		for b := range idx {
			out = append(out, append([]float64(nil), y.Data[b*k:(b+1)*k]...))
		}
	}
	return out, nil
}

// PredictClasses returns the argmax class of every example.
func (m *Sequential) PredictClasses(xs [][]float64, batchSize int) ([]int, error) {
	probs, err := m.Predict(xs, batchSize)
	if err != nil {
		return nil, err
	}
	pred := make([]int, len(probs))
	for i, p := range probs {
		pred[i] = argmax(p)
	}
	return pred, nil
}

// Evaluate returns the unweighted mean loss and the accuracy over xs.
func (m *Sequential) Evaluate(xs [][]float64, y []int, batchSize int) (loss, acc float64, err error) {
	if len(xs) == 0 {
		return 0, 0, errors.New("evaluate: no examples")
	}
	probs, err := m.Predict(xs, batchSize)
	if err != nil {
		return 0, 0, err
	}
	correct := 0
	for i, p := range probs {
		loss -= math.Log(math.Min(math.Max(p[y[i]], probEpsilon), 1-probEpsilon))
		if argmax(p) == y[i] {
			correct++
		}
	}
	n := float64(len(xs))
	return loss / n, float64(correct) / n, nil
}

// SummaryRow is one line of Summary.
type SummaryRow struct {
	Name   string
	Output Shape
	Params int
}

// Summary lists every layer with its output shape and parameter count, and
// the total and trainable totals.
func (m *Sequential) Summary() (rows []SummaryRow, total, trainable int) {
	for i, l := range m.Layers {
		n := 0
		for _, p := range l.Params() {
			n += len(p.Value)
			if p.Trainable {
				trainable += len(p.Value)
			}
		}
		total += n
		rows = append(rows, SummaryRow{Name: m.names[i], Output: m.shapes[i], Params: n})
	}
	return rows, total, trainable
}

// SummaryString renders Summary as an aligned table.
func (m *Sequential) SummaryString() string {
	rows, total, trainable := m.Summary()
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 3, ' ', 0)
	fmt.Fprintln(tw, "Layer\tOutput Shape\tParam #")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Name, r.Output, r.Params)
	}
	_ = tw.Flush()
	fmt.Fprintf(&b, "Total params: %d\nTrainable params: %d\nNon-trainable params: %d\n", total, trainable, total-trainable)
	return b.String()
}

// FitOptions configure Fit.
type FitOptions struct {
	Epochs    int
	BatchSize int
	// Fraction of the examples, taken from the end, held out for validation
	ValidationSplit float64
	LearningRate    float64
	// Per-class loss weights; nil weighs every example equally
	ClassWeights []float64
	// Stop after this many epochs without improvement of the monitored loss
	// and restore the best weights; 0 disables
	Patience int
	Seed     uint64
	OnEpoch  func(EpochStats)
}

// EpochStats is one entry of the training history.
type EpochStats struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	HasVal      bool    `json:"hasVal"`
	ValLoss     float64 `json:"valLoss,omitempty"`
	ValAccuracy float64 `json:"valAccuracy,omitempty"`
	Seconds     float64 `json:"seconds"`
}

// Fit trains on xs/y with Adam. The training part is reshuffled every
// epoch; the validation part is never shuffled. ctx is checked between
// batches, and a cancelled run returns the history so far with ctx.Err().
func (m *Sequential) Fit(ctx context.Context, xs [][]float64, y []int, opts FitOptions) ([]EpochStats, error) {
	if len(xs) != len(y) {
		return nil, errors.Errorf("fit: %d examples but %d labels", len(xs), len(y))
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 || opts.LearningRate <= 0 {
		return nil, errors.Errorf("fit: epochs, batch size and learning rate must be positive")
	}
	k := m.Output().Size()
	for i, label := range y {
		if label < 0 || label >= k {
			return nil, errors.Errorf("fit: label %d of example %d outside [0,%d)", label, i, k)
		}
	}
	if opts.ClassWeights != nil && len(opts.ClassWeights) != k {
		return nil, errors.Errorf("fit: %d class weights for %d classes", len(opts.ClassWeights), k)
	}
	split := int(math.Floor(float64(len(xs)) * (1 - opts.ValidationSplit)))
	trainX, trainY := xs[:split], y[:split]
	valX, valY := xs[split:], y[split:]
	if len(trainX) == 0 {
		return nil, errors.Errorf("fit: no training examples after holding out %v for validation", opts.ValidationSplit)
	}

	params := m.Params()
	opt := newAdam(opts.LearningRate, params)
	shuffle := rand.New(rand.NewPCG(opts.Seed, 0x5eed))
	order := span(0, len(trainX))

	var history []EpochStats
	best := math.Inf(1)
	var bestWeights [][]float64
	wait := 0
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		start := time.Now()
		shuffle.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var lossSum float64
		correct := 0
		for b := 0; b < len(order); b += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			idx := order[b:min(b+opts.BatchSize, len(order))]
			xb, err := Batch(trainX, idx, m.Input)
			if err != nil {
				return history, err
			}
			yb := make([]int, len(idx))
			for i, j := range idx {
				yb[i] = trainY[j]
			}
			probs := m.Forward(xb, true)
			loss, grad := SparseCrossEntropy(probs, yb, opts.ClassWeights)
			m.Backward(grad)
			opt.step(params)
			lossSum += loss * float64(len(idx))
			for i, label := range yb {
				if argmax(probs.Data[i*k:(i+1)*k]) == label {
					correct++
				}
			}
		}
		st := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(len(order)),
			Accuracy: float64(correct) / float64(len(order)),
		}
		if len(valX) > 0 {
			vl, va, err := m.Evaluate(valX, valY, opts.BatchSize)
			if err != nil {
				return history, err
			}
			st.HasVal, st.ValLoss, st.ValAccuracy = true, vl, va
		}
		st.Seconds = time.Since(start).Seconds()
		history = append(history, st)
		if opts.OnEpoch != nil {
			opts.OnEpoch(st)
		}

		if opts.Patience > 0 {
			monitored := st.Loss
			if st.HasVal {
				monitored = st.ValLoss
			}
			if monitored < best {
				best, wait = monitored, 0
				bestWeights = snapshot(params)
			} else if wait++; wait >= opts.Patience {
				restore(params, bestWeights)
				break
			}
		}
	}
	return history, nil
}

func span(from, to int) []int {
	s := make([]int, to-from)
	for i := range s {
		s[i] = from + i
	}
	return s
}

func snapshot(params []*Param) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = append([]float64(nil), p.Value...)
	}
	return out
}

func restore(params []*Param, w [][]float64) {
	if w == nil {
		return
	}
	for i, p := range params {
		copy(p.Value, w[i])
	}
}
