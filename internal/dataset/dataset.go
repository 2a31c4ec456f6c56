// Package dataset accumulates extracted epochs across subjects and prepares
// them for training: stratified splitting, amplitude standardisation and
// class weighting.
package dataset

import (
	"errors"
	"fmt"

	"sleepnet/internal/model"
)

// ErrEmptySplit is returned when a split would leave train or test empty.
var ErrEmptySplit = errors.New("split leaves an empty partition")

// Dataset is a set of equal-length single-channel epochs with integer labels.
// X is laid out epoch × timestep; the channel axis has size one.
type Dataset struct {
	X [][]float64
	Y []int
	// Subject of every epoch, parallel to X
	Subjects []string
}

// Len is the number of epochs.
func (d *Dataset) Len() int { return len(d.X) }

// Steps is the epoch length in samples, 0 for an empty dataset.
func (d *Dataset) Steps() int {
	if len(d.X) == 0 {
		return 0
	}
	return len(d.X[0])
}

// Append adds one subject's epochs. Every epoch must match the length of
// those already present.
func (d *Dataset) Append(subject string, epochs [][]float64, labels []model.Label) error {
	if len(epochs) != len(labels) {
		return fmt.Errorf("subject %s: %d epochs but %d labels", subject, len(epochs), len(labels))
	}
	steps := d.Steps()
	for i, e := range epochs {
		if steps == 0 {
			steps = len(e)
		}
		if len(e) != steps {
			return fmt.Errorf("subject %s: epoch %d has %d samples, want %d", subject, i, len(e), steps)
		}
		if !labels[i].Valid() {
			return fmt.Errorf("subject %s: epoch %d has invalid label %d", subject, i, labels[i])
		}
	}
	for i, e := range epochs {
		d.X = append(d.X, e)
		d.Y = append(d.Y, int(labels[i]))
		d.Subjects = append(d.Subjects, subject)
	}
	return nil
}

// Counts returns the number of epochs per class.
func (d *Dataset) Counts() [model.NumLabels]int {
	var c [model.NumLabels]int
	for _, y := range d.Y {
		if y >= 0 && y < model.NumLabels {
			c[y]++
		}
	}
	return c
}

// Subset returns the epochs at idx, in that order. Sample slices are shared.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		X:        make([][]float64, len(idx)),
		Y:        make([]int, len(idx)),
		Subjects: make([]string, len(idx)),
	}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
		if j < len(d.Subjects) {
			out.Subjects[i] = d.Subjects[j]
		}
	}
	return out
}
