package model

import "fmt"

// Label is a canonical sleep stage. The integer values are the class indices
// the network is trained on.
type Label int

const (
	Wake Label = iota
	N1
	N2
	N3
	REM
)

// NumLabels is the number of canonical stages.
const NumLabels = 5

var labelNames = [NumLabels]string{"Wake", "N1", "N2", "N3", "REM"}

func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// Valid reports whether l is one of the five stages.
func (l Label) Valid() bool { return l >= 0 && int(l) < NumLabels }

// ParseLabel maps a canonical name ("Wake", "N1", ...) to its Label.
func ParseLabel(name string) (Label, bool) {
	for i, n := range labelNames {
		if n == name {
			return Label(i), true
		}
	}
	return 0, false
}

// ClassNames returns the stage names in class-index order.
func ClassNames() []string {
	return append([]string(nil), labelNames[:]...)
}

// Segment is one annotation of a hypnogram: an expert-assigned stage text
// over [Onset, Onset+Duration) seconds from the recording start.
type Segment struct {
	Onset    float64
	Duration float64
	Text     string
}

// Event marks the start of one epoch-sized chunk of a translated segment.
type Event struct {
	Onset float64 // seconds from recording start
	Label Label
}
