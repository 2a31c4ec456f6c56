package model

import (
	"fmt"

	"sleepnet/internal/util"
)

// LabelMap translates hypnogram annotation text into canonical stages.
// It is immutable once built; text outside the map is dropped by callers.
type LabelMap struct {
	m map[string]Label
}

// NewLabelMap builds a lookup from annotation text to canonical stage name.
func NewLabelMap(annotations map[string]string) (LabelMap, error) {
	m := make(map[string]Label, len(annotations))
	for text, name := range annotations {
		l, ok := ParseLabel(name)
		if !ok {
			return LabelMap{}, fmt.Errorf("annotation %q: unknown stage %q", text, name)
		}
		m[util.NormalizeWhitespace(text)] = l
	}
	return LabelMap{m: m}, nil
}

// Translate returns the stage for text, or false when the text is not a
// scored stage (e.g. "Sleep stage ?" or "Movement time").
func (lm LabelMap) Translate(text string) (Label, bool) {
	l, ok := lm.m[util.NormalizeWhitespace(text)]
	return l, ok
}

// Len is the number of known annotation texts.
func (lm LabelMap) Len() int { return len(lm.m) }

// TranslateSegments keeps the segments whose text maps to a stage, in order,
// paired with their labels.
func (lm LabelMap) TranslateSegments(segs []Segment) ([]Segment, []Label) {
	var kept []Segment
	var labels []Label
	for _, s := range segs {
		if l, ok := lm.Translate(s.Text); ok {
			kept = append(kept, s)
			labels = append(labels, l)
		}
	}
	return kept, labels
}
