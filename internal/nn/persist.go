package nn

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"sleepnet/internal/config"
	"sleepnet/internal/dataset"
	"sleepnet/internal/eval"
)

// ArtifactFormat tags the JSON model files written by this package.
const ArtifactFormat = "sleepnet-model/v1"

// ArtifactName is the file name of a saved model inside the output directory.
const ArtifactName = "sleep_model.json"

// LayerState is one layer's spec and weights.
type LayerState struct {
	Spec   LayerSpec    `json:"spec"`
	Params []ParamState `json:"params,omitempty"`
}

type ParamState struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Trainable bool      `json:"trainable"`
	Values    []float64 `json:"values"`
}

// Artifact is everything needed to reuse a trained classifier: the network,
// the preprocessing it was trained behind and how it scored.
type Artifact struct {
	Format   string                `json:"format"`
	RunID    string                `json:"runId,omitempty"`
	Created  time.Time             `json:"created"`
	Input    Shape                 `json:"input"`
	Layers   []LayerState          `json:"layers"`
	Classes  []string              `json:"classes"`
	Scaler   dataset.Scaler        `json:"scaler"`
	Data     config.DataConfig     `json:"data"`
	Training config.TrainingConfig `json:"training"`
	History  []EpochStats          `json:"history,omitempty"`
	Metrics  *eval.Report          `json:"metrics,omitempty"`
}

// NewArtifact captures the architecture and current weights of m.
func NewArtifact(m *Sequential) Artifact {
	a := Artifact{Format: ArtifactFormat, Created: time.Now().UTC(), Input: m.Input}
	for _, l := range m.Layers {
		st := LayerState{Spec: l.Spec()}
		for _, p := range l.Params() {
			st.Params = append(st.Params, ParamState{
				Name: p.Name, Shape: p.Shape, Trainable: p.Trainable,
				Values: append([]float64(nil), p.Value...),
			})
		}
		a.Layers = append(a.Layers, st)
	}
	return a
}

// Model rebuilds the network and loads the stored weights into it.
func (a Artifact) Model() (*Sequential, error) {
	if a.Format != ArtifactFormat {
		return nil, errors.Errorf("unsupported model format %q", a.Format)
	}
	layers := make([]Layer, len(a.Layers))
	for i, st := range a.Layers {
		l, err := st.Spec.New()
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		layers[i] = l
	}
	m, err := NewSequential(a.Input, 0, layers...)
	if err != nil {
		return nil, err
	}
	for i, l := range m.Layers {
		ps := l.Params()
		if len(ps) != len(a.Layers[i].Params) {
			return nil, errors.Errorf("layer %d: %d params stored, %d expected", i, len(a.Layers[i].Params), len(ps))
		}
		for j, p := range ps {
			stored := a.Layers[i].Params[j]
			if stored.Name != p.Name || len(stored.Values) != len(p.Value) {
				return nil, errors.Errorf("layer %d: param %q (%d values) does not fit %q (%d values)",
					i, stored.Name, len(stored.Values), p.Name, len(p.Value))
			}
			copy(p.Value, stored.Values)
		}
	}
	return m, nil
}

// Encode writes a as indented JSON.
func (a Artifact) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return errors.Wrap(enc.Encode(a), "encode model")
}

// Marshal is Encode into a byte slice.
func (a Artifact) Marshal() ([]byte, error) {
	b, err := json.Marshal(a)
	return b, errors.Wrap(err, "encode model")
}

// DecodeArtifact reads an artifact written by Encode or Marshal.
func DecodeArtifact(r io.Reader) (Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return Artifact{}, errors.Wrap(err, "decode model")
	}
	if a.Format != ArtifactFormat {
		return Artifact{}, errors.Errorf("unsupported model format %q", a.Format)
	}
	return a, nil
}

// LoadArtifact reads the artifact at path.
func LoadArtifact(path string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()
	return DecodeArtifact(f)
}
