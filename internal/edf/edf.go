// Package edf reads and writes European Data Format files (EDF and EDF+),
// the interchange format used for polysomnography recordings and their
// hypnograms.
//
// An EDF file is a 256-byte ASCII header, 256 more header bytes per signal,
// then a sequence of data records. Each record holds SamplesPerRecord
// little-endian int16 values for every signal in header order. EDF+ adds a
// pseudo-signal labelled "EDF Annotations" whose bytes carry time-stamped
// annotation lists (TALs) instead of samples.
package edf

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AnnotationLabel is the signal label EDF+ reserves for annotations.
const AnnotationLabel = "EDF Annotations"

// ErrFormat is the cause of every malformed-file error returned by Decode.
var ErrFormat = errors.New("edf: malformed file")

// ErrNoChannel is returned when a requested signal label is absent.
var ErrNoChannel = errors.New("edf: channel not found")

// Header is the fixed part of an EDF header plus its signal headers.
type Header struct {
	Version        string
	Patient        string
	Recording      string
	Start          time.Time
	HeaderBytes    int
	Reserved       string // "EDF+C", "EDF+D" or empty for plain EDF
	Records        int
	RecordDuration float64 // seconds
	Signals        []SignalHeader
}

// SignalHeader describes one signal of the file.
type SignalHeader struct {
	Label            string
	Transducer       string
	PhysicalDim      string
	PhysicalMin      float64
	PhysicalMax      float64
	DigitalMin       int
	DigitalMax       int
	Prefilter        string
	SamplesPerRecord int
}

// IsAnnotation reports whether the signal carries EDF+ annotations.
func (s SignalHeader) IsAnnotation() bool { return s.Label == AnnotationLabel }

// Signal is a decoded channel in physical units.
type Signal struct {
	Label   string
	Rate    float64
	Unit    string
	Samples []float64
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.Rate == 0 {
		return 0
	}
	return float64(len(s.Samples)) / s.Rate
}

// File is a decoded EDF file. Sample data stays in its raw record form and
// is converted on demand by Signal.
type File struct {
	Header Header

	data      []byte
	recSize   int
	sigOffset []int
}

// Open decodes the file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ef, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return ef, nil
}

// Decode reads a complete EDF or EDF+ stream.
func Decode(r io.Reader) (*File, error) {
	fixed := make([]byte, 256)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, errors.Wrap(ErrFormat, "short fixed header")
	}
	h, ns, err := parseFixed(fixed)
	if err != nil {
		return nil, err
	}
	sigBytes := make([]byte, 256*ns)
	if _, err := io.ReadFull(r, sigBytes); err != nil {
		return nil, errors.Wrapf(ErrFormat, "short signal header for %d signals", ns)
	}
	h.Signals, err = parseSignals(sigBytes, ns)
	if err != nil {
		return nil, err
	}

	f := &File{Header: h, sigOffset: make([]int, ns)}
	for i, s := range h.Signals {
		f.sigOffset[i] = f.recSize
		f.recSize += 2 * s.SamplesPerRecord
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read data records")
	}
	if f.recSize == 0 {
		f.Header.Records = 0
		return f, nil
	}
	// A header count of -1 means "unknown"; trust the byte count instead.
	// A truncated final record is dropped.
	avail := len(data) / f.recSize
	if f.Header.Records < 0 || f.Header.Records > avail {
		f.Header.Records = avail
	}
	f.data = data[:f.Header.Records*f.recSize]
	return f, nil
}

func parseFixed(b []byte) (Header, int, error) {
	var h Header
	h.Version = field(b, 0, 8)
	h.Patient = field(b, 8, 80)
	h.Recording = field(b, 88, 80)
	h.Start = parseStart(field(b, 168, 8), field(b, 176, 8))
	var err error
	if h.HeaderBytes, err = atoi(field(b, 184, 8)); err != nil {
		return h, 0, errors.Wrap(ErrFormat, "header bytes")
	}
	h.Reserved = field(b, 192, 44)
	if h.Records, err = atoi(field(b, 236, 8)); err != nil {
		return h, 0, errors.Wrap(ErrFormat, "record count")
	}
	if h.RecordDuration, err = atof(field(b, 244, 8)); err != nil {
		return h, 0, errors.Wrap(ErrFormat, "record duration")
	}
	ns, err := atoi(field(b, 252, 4))
	if err != nil || ns < 0 {
		return h, 0, errors.Wrap(ErrFormat, "signal count")
	}
	if h.HeaderBytes != 0 && h.HeaderBytes != 256*(ns+1) {
		return h, 0, errors.Wrapf(ErrFormat, "header bytes %d do not match %d signals", h.HeaderBytes, ns)
	}
	return h, ns, nil
}

// parseSignals reads the per-signal header block. Each field is stored for
// all signals before the next field starts.
func parseSignals(b []byte, ns int) ([]SignalHeader, error) {
	sigs := make([]SignalHeader, ns)
	off := 0
	next := func(width int) []string {
		vals := make([]string, ns)
		for i := range vals {
			vals[i] = field(b, off+i*width, width)
		}
		off += ns * width
		return vals
	}
	labels, trans, dims := next(16), next(80), next(8)
	pmin, pmax, dmin, dmax := next(8), next(8), next(8), next(8)
	prefilt, spr := next(80), next(8)
	for i := range sigs {
		s := SignalHeader{Label: labels[i], Transducer: trans[i], PhysicalDim: dims[i], Prefilter: prefilt[i]}
		var err error
		if s.SamplesPerRecord, err = atoi(spr[i]); err != nil || s.SamplesPerRecord < 0 {
			return nil, errors.Wrapf(ErrFormat, "signal %q: samples per record %q", s.Label, spr[i])
		}
		if s.PhysicalMin, err = atof(pmin[i]); err != nil {
			return nil, errors.Wrapf(ErrFormat, "signal %q: physical minimum %q", s.Label, pmin[i])
		}
		if s.PhysicalMax, err = atof(pmax[i]); err != nil {
			return nil, errors.Wrapf(ErrFormat, "signal %q: physical maximum %q", s.Label, pmax[i])
		}
		if s.DigitalMin, err = atoi(dmin[i]); err != nil {
			return nil, errors.Wrapf(ErrFormat, "signal %q: digital minimum %q", s.Label, dmin[i])
		}
		if s.DigitalMax, err = atoi(dmax[i]); err != nil {
			return nil, errors.Wrapf(ErrFormat, "signal %q: digital maximum %q", s.Label, dmax[i])
		}
		sigs[i] = s
	}
	return sigs, nil
}

// ChannelNames lists the data signals, excluding annotation signals.
func (f *File) ChannelNames() []string {
	var out []string
	for _, s := range f.Header.Signals {
		if !s.IsAnnotation() {
			out = append(out, s.Label)
		}
	}
	return out
}

// HasChannel reports whether a data signal with this label exists.
func (f *File) HasChannel(label string) bool {
	_, ok := f.index(label)
	return ok
}

func (f *File) index(label string) (int, bool) {
	for i, s := range f.Header.Signals {
		if s.Label == label && !s.IsAnnotation() {
			return i, true
		}
	}
	return -1, false
}

// Signal decodes one channel into physical units.
func (f *File) Signal(label string) (Signal, error) {
	i, ok := f.index(label)
	if !ok {
		return Signal{}, errors.Wrapf(ErrNoChannel, "%q (available: %s)", label, strings.Join(f.ChannelNames(), ", "))
	}
	sh := f.Header.Signals[i]
	if sh.DigitalMax == sh.DigitalMin {
		return Signal{}, errors.Wrapf(ErrFormat, "signal %q: empty digital range", label)
	}
	gain := (sh.PhysicalMax - sh.PhysicalMin) / float64(sh.DigitalMax-sh.DigitalMin)
	samples := make([]float64, 0, f.Header.Records*sh.SamplesPerRecord)
	for r := 0; r < f.Header.Records; r++ {
		base := r*f.recSize + f.sigOffset[i]
		for k := 0; k < sh.SamplesPerRecord; k++ {
			d := int16(binary.LittleEndian.Uint16(f.data[base+2*k:]))
			samples = append(samples, (float64(d)-float64(sh.DigitalMin))*gain+sh.PhysicalMin)
		}
	}
	rate := 0.0
	if f.Header.RecordDuration > 0 {
		rate = float64(sh.SamplesPerRecord) / f.Header.RecordDuration
	}
	return Signal{Label: label, Rate: rate, Unit: sh.PhysicalDim, Samples: samples}, nil
}

// Annotations returns every annotation of every annotation signal, in file
// order. Time-keeping entries (empty text) are omitted.
func (f *File) Annotations() ([]Annotation, error) {
	var out []Annotation
	for i, sh := range f.Header.Signals {
		if !sh.IsAnnotation() {
			continue
		}
		for r := 0; r < f.Header.Records; r++ {
			base := r*f.recSize + f.sigOffset[i]
			anns, err := parseTALs(f.data[base : base+2*sh.SamplesPerRecord])
			if err != nil {
				return nil, errors.Wrapf(err, "record %d", r)
			}
			out = append(out, anns...)
		}
	}
	return out, nil
}

func field(b []byte, off, width int) string {
	return strings.TrimSpace(string(bytes.TrimRight(b[off:off+width], "\x00")))
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// some writers emit "1.000000" for integer fields
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, err
		}
		return int(f), nil
	}
	return n, nil
}

func atof(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// parseStart reads "dd.mm.yy" and "hh.mm.ss". Years 85-99 are 19xx, the rest
// 20xx. Unparseable values give the zero time.
func parseStart(date, clock string) time.Time {
	var d, mo, y, hh, mm, ss int
	if _, err := splitTriple(date, &d, &mo, &y); err != nil {
		return time.Time{}
	}
	if _, err := splitTriple(clock, &hh, &mm, &ss); err != nil {
		return time.Time{}
	}
	if y >= 85 {
		y += 1900
	} else {
		y += 2000
	}
	return time.Date(y, time.Month(mo), d, hh, mm, ss, 0, time.UTC)
}

func splitTriple(s string, a, b, c *int) (int, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		// Some writers use ':' in the clock field.
		parts = strings.Split(s, ":")
	}
	if len(parts) != 3 {
		return 0, errors.Errorf("bad triple %q", s)
	}
	dst := []*int{a, b, c}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return i, err
		}
		*dst[i] = n
	}
	return 3, nil
}
