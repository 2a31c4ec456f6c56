package nn

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func randomTensor(rng *rand.Rand, b, t, c int) *Tensor {
	x := NewTensor(b, t, c)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	return x
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// checkGradients compares Backward against central differences of
// f(x) = <proj, layer(x)> for the input and every trainable param.
func checkGradients(t *testing.T, l Layer, in Shape, batch int) {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	out, err := l.Build(in, rng)
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rng, batch, in.T(), in.Features)
	proj := randomTensor(rng, batch, out.T(), out.Features)
	f := func() float64 { return dot(proj.Data, l.Forward(x, true).Data) }

	for _, p := range l.Params() {
		if p.Trainable {
			clear(p.Grad)
		}
	}
	l.Forward(x, true)
	dx := l.Backward(proj)

	const h = 1e-5
	check := func(what string, v []float64, analytic []float64) {
		for _, i := range []int{0, len(v) / 3, len(v) / 2, len(v) - 1} {
			orig := v[i]
			v[i] = orig + h
			up := f()
			v[i] = orig - h
			down := f()
			v[i] = orig
			num := (up - down) / (2 * h)
			if diff := math.Abs(num - analytic[i]); diff > 1e-4*math.Max(1, math.Abs(num)) {
				t.Fatalf("%s[%d]: analytic %v numeric %v", what, i, analytic[i], num)
			}
		}
	}
	grads := map[string][]float64{}
	for _, p := range l.Params() {
		if p.Trainable {
			grads[p.Name] = append([]float64(nil), p.Grad...)
		}
	}
	check("input", x.Data, dx.Data)
	for _, p := range l.Params() {
		if p.Trainable {
			check(p.Name, p.Value, grads[p.Name])
		}
	}
}

func TestConv1DGradients(t *testing.T) {
	checkGradients(t, Conv1D(3, 5, ""), Shape{Steps: 7, Features: 2}, 2)
	checkGradients(t, Conv1D(4, 3, "relu"), Shape{Steps: 6, Features: 3}, 2)
}

func TestBatchNormGradients(t *testing.T) {
	checkGradients(t, BatchNorm(), Shape{Steps: 5, Features: 3}, 3)
}

func TestMaxPoolGradients(t *testing.T) {
	checkGradients(t, MaxPool1D(2), Shape{Steps: 7, Features: 2}, 2)
}

func TestLSTMGradients(t *testing.T) {
	checkGradients(t, LSTM(4, true), Shape{Steps: 5, Features: 3}, 2)
	checkGradients(t, LSTM(3, false), Shape{Steps: 4, Features: 2}, 3)
}

func TestDenseGradients(t *testing.T) {
	checkGradients(t, Dense(4, ""), Shape{Features: 5}, 3)
	checkGradients(t, Dense(4, "softmax"), Shape{Features: 5}, 3)
}

func TestCrossEntropyGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	logits := randomTensor(rng, 4, 1, 5)
	y := []int{0, 3, 4, 3}
	w := []float64{1, 2, 1, 0.5, 3}
	probs := func() *Tensor {
		p := &Tensor{B: 4, T: 1, C: 5, Data: append([]float64(nil), logits.Data...)}
		for b := 0; b < 4; b++ {
			softmax(p.Data[b*5 : (b+1)*5])
		}
		return p
	}
	p := probs()
	loss, grad := SparseCrossEntropy(p, y, w)
	want := 0.0
	for b, label := range y {
		want -= w[label] * math.Log(p.Data[b*5+label])
	}
	if math.Abs(loss-want/4) > 1e-12 {
		t.Fatalf("loss %v want %v", loss, want/4)
	}
	for i, g := range grad.Data {
		b, c := i/5, i%5
		if c != y[b] && g != 0 {
			t.Fatalf("gradient leaked into class %d of example %d", c, b)
		}
	}
}

func TestSleepNetSummary(t *testing.T) {
	m, err := BuildSleepNet(3000, 5, 42)
	if err != nil {
		t.Fatal(err)
	}
	rows, total, trainable := m.Summary()
	wantParams := []int{384, 256, 0, 24704, 512, 0, 0, 131584, 49408, 0, 8320, 645}
	wantShapes := []Shape{
		{3000, 64}, {3000, 64}, {1500, 64}, {1500, 128}, {1500, 128}, {750, 128},
		{750, 128}, {750, 128}, {0, 64}, {0, 64}, {0, 128}, {0, 5},
	}
	if len(rows) != len(wantParams) {
		t.Fatalf("%d layers", len(rows))
	}
	for i, r := range rows {
		if r.Params != wantParams[i] || r.Output != wantShapes[i] {
			t.Fatalf("layer %d %s: %v %d params, want %v %d", i, r.Name, r.Output, r.Params, wantShapes[i], wantParams[i])
		}
	}
	if total != 215813 || trainable != 215813-384 {
		t.Fatalf("total=%d trainable=%d", total, trainable)
	}
	if rows[3].Name != "conv1d_1" || rows[8].Name != "lstm_1" {
		t.Fatalf("names %s %s", rows[3].Name, rows[8].Name)
	}
	if _, err := BuildSleepNet(3, 5, 42); err == nil {
		t.Fatalf("expected too-short input to fail")
	}
}

// toyData is two classes of short sequences: slow sines and fast sines.
func toyData(n int, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, 9))
	var xs [][]float64
	var ys []int
	for i := 0; i < n; i++ {
		c := i % 2
		freq := 0.05 + 0.2*float64(c)
		phase := rng.Float64() * 2 * math.Pi
		x := make([]float64, 16)
		for t := range x {
			x[t] = math.Sin(2*math.Pi*freq*float64(t)+phase) + 0.1*rng.NormFloat64()
		}
		xs = append(xs, x)
		ys = append(ys, c)
	}
	return xs, ys
}

func toyModel(t *testing.T) *Sequential {
	t.Helper()
	m, err := NewSequential(Shape{Steps: 16, Features: 1}, 7,
		Conv1D(4, 3, "relu"), BatchNorm(), MaxPool1D(2), Dropout(0.1), LSTM(6, false), Dense(2, "softmax"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFitReducesLoss(t *testing.T) {
	xs, ys := toyData(64, 1)
	m := toyModel(t)
	var epochs int
	hist, err := m.Fit(context.Background(), xs, ys, FitOptions{
		Epochs: 30, BatchSize: 16, ValidationSplit: 0.25, LearningRate: 1e-2, Seed: 1,
		ClassWeights: []float64{1, 1},
		OnEpoch:      func(EpochStats) { epochs++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 30 || epochs != 30 {
		t.Fatalf("history %d callbacks %d", len(hist), epochs)
	}
	if !hist[0].HasVal || hist[len(hist)-1].Loss >= hist[0].Loss {
		t.Fatalf("loss did not decrease: first %+v last %+v", hist[0], hist[len(hist)-1])
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	m := toyModel(t)
	xs, ys := toyData(4, 2)
	ys[1] = 7
	if _, err := m.Fit(context.Background(), xs, ys, FitOptions{Epochs: 1, BatchSize: 2, LearningRate: 1e-3}); err == nil {
		t.Fatalf("expected label range error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	xs, ys = toyData(4, 2)
	if _, err := m.Fit(ctx, xs, ys, FitOptions{Epochs: 1, BatchSize: 2, LearningRate: 1e-3}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	xs, ys := toyData(16, 3)
	m := toyModel(t)
	if _, err := m.Fit(context.Background(), xs, ys, FitOptions{Epochs: 2, BatchSize: 8, LearningRate: 1e-2}); err != nil {
		t.Fatal(err)
	}
	a := NewArtifact(m)
	a.Classes = []string{"slow", "fast"}
	var buf bytes.Buffer
	if err := a.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	back, err := DecodeArtifact(&buf)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := back.Model()
	if err != nil {
		t.Fatal(err)
	}
	p1, _ := m.Predict(xs, 4)
	p2, _ := m2.Predict(xs, 4)
	for i := range p1 {
		for j := range p1[i] {
			if p1[i][j] != p2[i][j] {
				t.Fatalf("prediction %d/%d differs: %v vs %v", i, j, p1[i][j], p2[i][j])
			}
		}
	}
	if back.Classes[1] != "fast" {
		t.Fatalf("classes %v", back.Classes)
	}
	back.Format = "other"
	if _, err := back.Model(); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestDropoutInference(t *testing.T) {
	l := Dropout(0.5)
	if _, err := l.Build(Shape{Features: 8}, rand.New(rand.NewPCG(1, 1))); err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rand.New(rand.NewPCG(2, 2)), 2, 1, 8)
	if y := l.Forward(x, false); y != x {
		t.Fatalf("inference dropout should pass input through")
	}
	y := l.Forward(x, true)
	for i, v := range y.Data {
		if v != 0 && math.Abs(v-2*x.Data[i]) > 1e-12 {
			t.Fatalf("kept value %v not scaled from %v", v, x.Data[i])
		}
	}
}
