package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sleepnet/internal/config"
	"sleepnet/internal/model"
	"sleepnet/internal/synth"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	cfg := config.Default()
	cfg.Data.SamplingRate = 10
	cfg.Data.EpochSeconds = 3
	opts, err := OptionsFrom(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return opts
}

var threeClassNight = []synth.Stage{
	{Text: "Sleep stage W", Seconds: 12},
	{Text: "Sleep stage 1", Seconds: 9},
	{Text: "Sleep stage 2", Seconds: 9},
	{Text: "Sleep stage ?", Seconds: 6},
}

func TestEventsFullChunksOnly(t *testing.T) {
	segs := []model.Segment{{Onset: 0, Duration: 10}, {Onset: 10, Duration: 2}, {Onset: 12, Duration: 6}}
	labels := []model.Label{model.Wake, model.N1, model.N3}
	ev := Events(segs, labels, 3)
	want := []float64{0, 3, 6, 12, 15}
	if len(ev) != len(want) {
		t.Fatalf("events %+v", ev)
	}
	for i, w := range want {
		if ev[i].Onset != w {
			t.Fatalf("event %d onset %v want %v", i, ev[i].Onset, w)
		}
	}
	if ev[4].Label != model.N3 {
		t.Fatalf("label %v", ev[4].Label)
	}
}

func TestSliceDropsOutOfRange(t *testing.T) {
	samples := make([]float64, 25)
	for i := range samples {
		samples[i] = float64(i)
	}
	ev := []model.Event{{Onset: -1}, {Onset: 0}, {Onset: 1.5}, {Onset: 2.0}}
	epochs, _ := Slice(samples, ev, config.DataConfig{SamplingRate: 10, EpochSeconds: 1})
	if len(epochs) != 2 || epochs[0][0] != 0 || epochs[1][0] != 15 || len(epochs[1]) != 10 {
		t.Fatalf("epochs %v", epochs)
	}
}

func TestSubjectExtracts(t *testing.T) {
	dir := t.TempDir()
	s := synth.Subject{Key: "SC4001", Channels: []string{"EEG Fpz-Cz"}, Rate: 20, Stages: threeClassNight, HypnogramOffset: 3}
	pp, hp, err := synth.Write(dir, s)
	if err != nil {
		t.Fatal(err)
	}
	res := Subject("SC4001", pp, hp, testOptions(t))
	if res.Status != Extracted {
		t.Fatalf("status %s: %s", res.Status, res.Reason)
	}
	if res.Len() != 10 {
		t.Fatalf("epochs %d", res.Len())
	}
	for _, e := range res.Epochs {
		if len(e) != 30 {
			t.Fatalf("epoch length %d", len(e))
		}
	}
	counts := map[model.Label]int{}
	for _, l := range res.Labels {
		counts[l]++
	}
	if counts[model.Wake] != 4 || counts[model.N1] != 3 || counts[model.N2] != 3 {
		t.Fatalf("label counts %v", counts)
	}
}

func TestSubjectMissingChannelSkips(t *testing.T) {
	dir := t.TempDir()
	s := synth.Subject{Key: "SC4002", Channels: []string{"EEG Pz-Oz"}, Rate: 10, Stages: threeClassNight}
	pp, hp, err := synth.Write(dir, s)
	if err != nil {
		t.Fatal(err)
	}
	res := Subject("SC4002", pp, hp, testOptions(t))
	if res.Status != Skipped || !strings.Contains(res.Reason, "EEG Pz-Oz") || res.Len() != 0 {
		t.Fatalf("%+v", res)
	}
}

func TestSubjectUnscoredOnlySkips(t *testing.T) {
	dir := t.TempDir()
	s := synth.Subject{Key: "SC4003", Channels: []string{"EEG Fpz-Cz"}, Rate: 10,
		Stages: []synth.Stage{{Text: "Movement time", Seconds: 30}}}
	pp, hp, err := synth.Write(dir, s)
	if err != nil {
		t.Fatal(err)
	}
	res := Subject("SC4003", pp, hp, testOptions(t))
	if res.Status != Skipped || !strings.Contains(res.Reason, "30s of signal (0 scored segments)") {
		t.Fatalf("%+v", res)
	}
}

func TestSubjectBadFileFails(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "SC4004E0-PSG.edf")
	if err := os.WriteFile(bad, []byte("not an edf"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := Subject("SC4004", bad, bad, testOptions(t))
	if res.Status != Failed || res.Reason == "" {
		t.Fatalf("%+v", res)
	}
}
