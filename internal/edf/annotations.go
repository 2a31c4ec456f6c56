package edf

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Annotation is one EDF+ annotation: onset and duration in seconds relative
// to the file start, and its free text.
type Annotation struct {
	Onset    float64
	Duration float64
	Text     string
}

const (
	talSep      = 0x14 // ends onset/duration and each annotation text
	talDuration = 0x15 // separates onset from duration
)

// parseTALs decodes the time-stamped annotation lists of one record. TALs
// are NUL terminated; the remainder of the record is NUL padding.
func parseTALs(b []byte) ([]Annotation, error) {
	var out []Annotation
	for _, tal := range bytes.Split(b, []byte{0}) {
		if len(tal) == 0 {
			continue
		}
		parts := bytes.Split(tal, []byte{talSep})
		if len(parts) < 2 {
			return nil, errors.Wrapf(ErrFormat, "tal without separator: %q", tal)
		}
		onset, duration, err := parseTiming(parts[0])
		if err != nil {
			return nil, err
		}
		for _, text := range parts[1:] {
			if len(text) == 0 {
				continue
			}
			out = append(out, Annotation{Onset: onset, Duration: duration, Text: string(text)})
		}
	}
	return out, nil
}

func parseTiming(b []byte) (float64, float64, error) {
	onsetStr, durStr, _ := strings.Cut(string(b), string(rune(talDuration)))
	if onsetStr == "" || (onsetStr[0] != '+' && onsetStr[0] != '-') {
		return 0, 0, errors.Wrapf(ErrFormat, "tal onset %q", onsetStr)
	}
	onset, err := strconv.ParseFloat(onsetStr, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrFormat, "tal onset %q", onsetStr)
	}
	var duration float64
	if durStr != "" {
		if duration, err = strconv.ParseFloat(durStr, 64); err != nil {
			return 0, 0, errors.Wrapf(ErrFormat, "tal duration %q", durStr)
		}
	}
	return onset, duration, nil
}

// encodeTAL renders one TAL. An empty texts slice produces a time-keeping TAL.
func encodeTAL(onset, duration float64, texts ...string) []byte {
	var b bytes.Buffer
	if onset >= 0 {
		b.WriteByte('+')
	}
	b.WriteString(strconv.FormatFloat(onset, 'f', -1, 64))
	if duration > 0 {
		b.WriteByte(talDuration)
		b.WriteString(strconv.FormatFloat(duration, 'f', -1, 64))
	}
	b.WriteByte(talSep)
	if len(texts) == 0 {
		b.WriteByte(talSep)
	}
	for _, t := range texts {
		b.WriteString(t)
		b.WriteByte(talSep)
	}
	b.WriteByte(0)
	return b.Bytes()
}
