package edf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Channel is a data signal to be written by Encode.
type Channel struct {
	Label   string
	Unit    string
	Rate    float64 // Hz; Rate × Recording.RecordDuration must be whole
	Samples []float64
	// Physical range used for quantisation. When both are zero the range of
	// Samples is used.
	PhysicalMin, PhysicalMax float64
}

// Recording is everything Encode needs to produce an EDF+C file.
type Recording struct {
	Patient        string
	RecordingID    string
	Start          time.Time
	RecordDuration float64 // seconds per data record, default 1
	Channels       []Channel
	Annotations    []Annotation
	// Records overrides the record count; annotation-only files use 1.
	Records int
}

const (
	digitalMin = -32768
	digitalMax = 32767
)

// Encode writes rec as EDF+C. An "EDF Annotations" signal is always
// appended; the first record carries every annotation.
func Encode(w io.Writer, rec Recording) error {
	dur := rec.RecordDuration
	if dur <= 0 {
		dur = 1
	}
	spr := make([]int, len(rec.Channels))
	nrec := rec.Records
	for i, ch := range rec.Channels {
		n := ch.Rate * dur
		if n <= 0 || math.Abs(n-math.Round(n)) > 1e-9 {
			return errors.Errorf("channel %q: rate %v does not give whole samples per %vs record", ch.Label, ch.Rate, dur)
		}
		spr[i] = int(math.Round(n))
		if need := (len(ch.Samples) + spr[i] - 1) / spr[i]; need > nrec {
			nrec = need
		}
	}
	if nrec == 0 {
		nrec = 1
	}

	tals := make([][]byte, nrec)
	maxTAL := 0
	for r := range tals {
		tal := encodeTAL(float64(r)*dur, 0)
		if r == 0 {
			for _, a := range rec.Annotations {
				tal = append(tal, encodeTAL(a.Onset, a.Duration, a.Text)...)
			}
		}
		tals[r] = tal
		if len(tal) > maxTAL {
			maxTAL = len(tal)
		}
	}
	annSPR := (maxTAL + 1) / 2

	type sig struct {
		h    SignalHeader
		gain float64
	}
	sigs := make([]sig, 0, len(rec.Channels)+1)
	for i, ch := range rec.Channels {
		pmin, pmax := ch.PhysicalMin, ch.PhysicalMax
		if pmin == 0 && pmax == 0 {
			pmin, pmax = sampleRange(ch.Samples)
		}
		// quantise against the values a reader will parse back
		pmin, _ = strconv.ParseFloat(formatNum(pmin), 64)
		pmax, _ = strconv.ParseFloat(formatNum(pmax), 64)
		sigs = append(sigs, sig{
			h: SignalHeader{
				Label: ch.Label, PhysicalDim: ch.Unit,
				PhysicalMin: pmin, PhysicalMax: pmax,
				DigitalMin: digitalMin, DigitalMax: digitalMax,
				SamplesPerRecord: spr[i],
			},
			gain: (pmax - pmin) / float64(digitalMax-digitalMin),
		})
	}
	sigs = append(sigs, sig{h: SignalHeader{
		Label: AnnotationLabel, PhysicalMin: -1, PhysicalMax: 1,
		DigitalMin: digitalMin, DigitalMax: digitalMax, SamplesPerRecord: annSPR,
	}})

	bw := bufio.NewWriter(w)
	start := rec.Start
	if start.IsZero() {
		start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	ns := len(sigs)
	put := func(s string, width int) { _, _ = fmt.Fprintf(bw, "%-*.*s", width, width, s) }
	put("0", 8)
	put(rec.Patient, 80)
	put(rec.RecordingID, 80)
	put(start.Format("02.01.06"), 8)
	put(start.Format("15.04.05"), 8)
	put(strconv.Itoa(256*(ns+1)), 8)
	put("EDF+C", 44)
	put(strconv.Itoa(nrec), 8)
	put(formatNum(dur), 8)
	put(strconv.Itoa(ns), 4)
	for _, s := range sigs {
		put(s.h.Label, 16)
	}
	for _, s := range sigs {
		put(s.h.Transducer, 80)
	}
	for _, s := range sigs {
		put(s.h.PhysicalDim, 8)
	}
	for _, s := range sigs {
		put(formatNum(s.h.PhysicalMin), 8)
	}
	for _, s := range sigs {
		put(formatNum(s.h.PhysicalMax), 8)
	}
	for _, s := range sigs {
		put(strconv.Itoa(s.h.DigitalMin), 8)
	}
	for _, s := range sigs {
		put(strconv.Itoa(s.h.DigitalMax), 8)
	}
	for _, s := range sigs {
		put(s.h.Prefilter, 80)
	}
	for _, s := range sigs {
		put(strconv.Itoa(s.h.SamplesPerRecord), 8)
	}
	for range sigs {
		put("", 32)
	}

	buf := make([]byte, 2)
	for r := 0; r < nrec; r++ {
		for i, ch := range rec.Channels {
			s := sigs[i]
			for k := 0; k < s.h.SamplesPerRecord; k++ {
				idx := r*s.h.SamplesPerRecord + k
				var d int
				if idx < len(ch.Samples) {
					d = quantise(ch.Samples[idx], s.h.PhysicalMin, s.gain)
				}
				binary.LittleEndian.PutUint16(buf, uint16(int16(d)))
				if _, err := bw.Write(buf); err != nil {
					return err
				}
			}
		}
		tal := make([]byte, 2*annSPR)
		copy(tal, tals[r])
		if _, err := bw.Write(tal); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile encodes rec to path.
func WriteFile(path string, rec Recording) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, rec); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}

func quantise(x, pmin, gain float64) int {
	if gain == 0 {
		return 0
	}
	d := math.Round((x-pmin)/gain) + digitalMin
	return int(math.Max(digitalMin, math.Min(digitalMax, d)))
}

func sampleRange(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return -1, 1
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	// Header fields hold 8 characters; round outward so the range still
	// covers every sample after formatting.
	return math.Floor(lo), math.Ceil(hi)
}

// formatNum renders v in at most 8 characters.
func formatNum(v float64) string {
	for prec := 6; prec >= 0; prec-- {
		s := strconv.FormatFloat(v, 'f', prec, 64)
		if len(s) <= 8 {
			s = trimZeros(s)
			return s
		}
	}
	return strconv.FormatFloat(v, 'g', 3, 64)
}

func trimZeros(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			j := len(s)
			for j > i+1 && s[j-1] == '0' {
				j--
			}
			if j == i+1 {
				j = i
			}
			return s[:j]
		}
	}
	return s
}
