// Package extract turns one subject's PSG and hypnogram into labelled
// fixed-length epochs of a single channel.
package extract

import (
	"fmt"
	"math"
	"strings"

	"sleepnet/internal/config"
	"sleepnet/internal/edf"
	"sleepnet/internal/model"
	"sleepnet/internal/signal"
)

// Status is the outcome of extracting one subject.
type Status string

const (
	Extracted Status = "extracted"
	Skipped   Status = "skipped"
	Failed    Status = "failed"
)

// Result is the typed outcome for one subject. Epochs and Labels are only
// set when Status is Extracted.
type Result struct {
	Subject string
	Status  Status
	Reason  string
	Epochs  [][]float64
	Labels  []model.Label
}

// Len returns the number of extracted epochs.
func (r Result) Len() int { return len(r.Epochs) }

// Options are the settings extraction depends on.
type Options struct {
	Data   config.DataConfig
	Labels model.LabelMap
}

// OptionsFrom builds Options from a validated configuration.
func OptionsFrom(cfg config.Config) (Options, error) {
	lm, err := model.NewLabelMap(cfg.Labels.Annotations)
	if err != nil {
		return Options{}, err
	}
	return Options{Data: cfg.Data, Labels: lm}, nil
}

// Subject decodes the two files and extracts the subject's epochs. It never
// returns an error: decode problems and panics become a Failed result, a
// missing channel or an empty hypnogram a Skipped one.
func Subject(subject, psgPath, hypPath string, opts Options) (res Result) {
	res.Subject = subject
	defer func() {
		if r := recover(); r != nil {
			res = Result{Subject: subject, Status: Failed, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	psg, err := edf.Open(psgPath)
	if err != nil {
		return failed(subject, err)
	}
	hyp, err := edf.Open(hypPath)
	if err != nil {
		return failed(subject, err)
	}
	return Files(subject, psg, hyp, opts)
}

// Files is Subject over already decoded files.
func Files(subject string, psg, hyp *edf.File, opts Options) Result {
	if !psg.HasChannel(opts.Data.Channel) {
		return Result{
			Subject: subject,
			Status:  Skipped,
			Reason:  fmt.Sprintf("channel %q not found (available: %s)", opts.Data.Channel, strings.Join(psg.ChannelNames(), ", ")),
		}
	}
	sig, err := psg.Signal(opts.Data.Channel)
	if err != nil {
		return failed(subject, err)
	}
	samples, err := signal.Resample(sig.Samples, sig.Rate, opts.Data.SamplingRate)
	if err != nil {
		return failed(subject, err)
	}
	anns, err := hyp.Annotations()
	if err != nil {
		return failed(subject, err)
	}

	shift := 0.0
	if hs, ps := hyp.Header.Start, psg.Header.Start; !hs.IsZero() && !ps.IsZero() {
		shift = hs.Sub(ps).Seconds()
	}
	segs := make([]model.Segment, len(anns))
	for i, a := range anns {
		segs[i] = model.Segment{Onset: a.Onset + shift, Duration: a.Duration, Text: a.Text}
	}
	kept, labels := opts.Labels.TranslateSegments(segs)
	events := Events(kept, labels, opts.Data.EpochSeconds)

	epochs, epochLabels := Slice(samples, events, opts.Data)
	if len(epochs) == 0 {
		reason := fmt.Sprintf("no epochs extracted from %.0fs of signal (%d scored segments)", sig.Duration(), len(kept))
		return Result{Subject: subject, Status: Skipped, Reason: reason}
	}
	return Result{Subject: subject, Status: Extracted, Epochs: epochs, Labels: epochLabels}
}

// Events reslices each labelled segment into chunks of width seconds. A
// chunk is emitted only when it fits entirely inside its segment.
func Events(segs []model.Segment, labels []model.Label, width float64) []model.Event {
	if width <= 0 {
		return nil
	}
	const eps = 1e-6
	var out []model.Event
	for i, s := range segs {
		end := s.Onset + s.Duration
		for k := 0; ; k++ {
			on := s.Onset + float64(k)*width
			if on+width > end+eps {
				break
			}
			out = append(out, model.Event{Onset: on, Label: labels[i]})
		}
	}
	return out
}

// Slice cuts one epoch per event starting at sample round(onset·rate).
// Events whose epoch would start before the signal or run past its end
// are dropped.
func Slice(samples []float64, events []model.Event, data config.DataConfig) ([][]float64, []model.Label) {
	n := data.SamplesPerEpoch()
	var epochs [][]float64
	var labels []model.Label
	for _, ev := range events {
		start := int(math.Round(ev.Onset * data.SamplingRate))
		if start < 0 || start+n > len(samples) {
			continue
		}
		epochs = append(epochs, append([]float64(nil), samples[start:start+n]...))
		labels = append(labels, ev.Label)
	}
	return epochs, labels
}

func failed(subject string, err error) Result {
	return Result{Subject: subject, Status: Failed, Reason: err.Error()}
}
