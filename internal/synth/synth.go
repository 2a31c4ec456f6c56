// Package synth generates small synthetic Sleep-EDF style recordings: a PSG
// file whose EEG rhythm follows a scripted hypnogram, and the matching
// annotation-only hypnogram file.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"time"

	"sleepnet/internal/edf"
)

// Stage is one hypnogram segment.
type Stage struct {
	Text    string
	Seconds float64
}

// Subject scripts one synthetic night.
type Subject struct {
	Key      string   // e.g. "SC4001"
	Channels []string // every channel carries the same waveform
	Rate     float64
	Stages   []Stage
	Seed     uint64
	Start    time.Time
	// Hypnogram start relative to the PSG start, in seconds
	HypnogramOffset float64
}

// rhythm is the dominant frequency (Hz) and amplitude (uV) per stage text.
var rhythm = map[string][2]float64{
	"Sleep stage W": {10, 20},
	"Sleep stage 1": {6, 35},
	"Sleep stage 2": {13, 45},
	"Sleep stage 3": {1.5, 90},
	"Sleep stage 4": {1, 110},
	"Sleep stage R": {7, 30},
}

// PSGName and HypnogramName follow the Sleep-EDF naming scheme.
func PSGName(key string) string       { return key + "E0-PSG.edf" }
func HypnogramName(key string) string { return key + "EC-Hypnogram.edf" }

// Recordings renders s as the PSG and hypnogram recordings.
func Recordings(s Subject) (psg, hyp edf.Recording, err error) {
	if s.Rate <= 0 || s.Rate != math.Trunc(s.Rate) {
		return psg, hyp, fmt.Errorf("synth: rate must be a positive whole number, got %v", s.Rate)
	}
	start := s.Start
	if start.IsZero() {
		start = time.Date(1989, 4, 24, 16, 13, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewPCG(s.Seed, 0x5eed))

	var wave []float64
	var anns []edf.Annotation
	onset := 0.0
	for _, st := range s.Stages {
		n := int(math.Round(st.Seconds * s.Rate))
		fa, ok := rhythm[st.Text]
		if !ok {
			fa = [2]float64{3, 15}
		}
		phase := rng.Float64() * 2 * math.Pi
		for i := 0; i < n; i++ {
			tt := float64(i) / s.Rate
			v := fa[1]*math.Sin(2*math.Pi*fa[0]*tt+phase) + 5*rng.NormFloat64()
			wave = append(wave, v)
		}
		anns = append(anns, edf.Annotation{Onset: onset - s.HypnogramOffset, Duration: st.Seconds, Text: st.Text})
		onset += st.Seconds
	}

	psg = edf.Recording{
		Patient:        "X X X " + s.Key,
		RecordingID:    "Startdate " + start.Format("02-Jan-2006") + " synthetic",
		Start:          start,
		RecordDuration: 1,
	}
	for _, name := range s.Channels {
		psg.Channels = append(psg.Channels, edf.Channel{
			Label: name, Unit: "uV", Rate: s.Rate, Samples: wave,
			PhysicalMin: -200, PhysicalMax: 200,
		})
	}
	hyp = edf.Recording{
		Patient:     psg.Patient,
		RecordingID: psg.RecordingID,
		Start:       start.Add(time.Duration(s.HypnogramOffset * float64(time.Second))),
		Records:     1,
		Annotations: anns,
	}
	return psg, hyp, nil
}

// Write stores s under dir and returns the two file paths.
func Write(dir string, s Subject) (string, string, error) {
	psg, hyp, err := Recordings(s)
	if err != nil {
		return "", "", err
	}
	pp := filepath.Join(dir, PSGName(s.Key))
	hp := filepath.Join(dir, HypnogramName(s.Key))
	if err := edf.WriteFile(pp, psg); err != nil {
		return "", "", err
	}
	if err := edf.WriteFile(hp, hyp); err != nil {
		return "", "", err
	}
	return pp, hp, nil
}

// Night returns a scripted subject cycling through every stage, with
// minutes of each stage drawn from seed.
func Night(index int, channel string, rate float64, seed uint64) Subject {
	rng := rand.New(rand.NewPCG(seed, uint64(index)))
	order := []string{"Sleep stage W", "Sleep stage 1", "Sleep stage 2", "Sleep stage 3",
		"Sleep stage 2", "Sleep stage R", "Sleep stage 4", "Sleep stage 2", "Sleep stage R", "Sleep stage W"}
	var stages []Stage
	for _, text := range order {
		stages = append(stages, Stage{Text: text, Seconds: float64(2+rng.IntN(5)) * 30})
	}
	stages = append(stages, Stage{Text: "Sleep stage ?", Seconds: 60})
	return Subject{
		Key:      fmt.Sprintf("SC4%03d", index+1),
		Channels: []string{channel, "EEG Pz-Oz"},
		Rate:     rate,
		Stages:   stages,
		Seed:     seed + uint64(index),
	}
}
