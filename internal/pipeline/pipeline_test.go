package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sleepnet/internal/config"
	"sleepnet/internal/discover"
	"sleepnet/internal/extract"
	"sleepnet/internal/logging"
	"sleepnet/internal/model"
	"sleepnet/internal/nn"
	"sleepnet/internal/storage"
	"sleepnet/internal/store/sqlitevec"
	"sleepnet/internal/synth"
)

var threeClassNight = []synth.Stage{
	{Text: "Sleep stage W", Seconds: 12},
	{Text: "Sleep stage 1", Seconds: 9},
	{Text: "Sleep stage 2", Seconds: 9},
	{Text: "Sleep stage ?", Seconds: 6},
}

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Data.SamplingRate = 10
	cfg.Data.EpochSeconds = 3
	cfg.Training.Epochs = 1
	cfg.Training.BatchSize = 4
	return cfg
}

func quietLogs(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	prev := logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(prev) })
	return &buf
}

func writeSubjects(t *testing.T, dir string, subjects ...synth.Subject) {
	t.Helper()
	for _, s := range subjects {
		if _, _, err := synth.Write(dir, s); err != nil {
			t.Fatal(err)
		}
	}
}

func job(t *testing.T, cfg config.Config, dataDir, outDir string, db *sqlitevec.DB) Job {
	t.Helper()
	src, err := storage.OpenSource(dataDir, storage.OptionsFrom(cfg))
	if err != nil {
		t.Fatal(err)
	}
	sink, err := storage.OpenSink(outDir, storage.OptionsFrom(cfg))
	if err != nil {
		t.Fatal(err)
	}
	return Job{Config: cfg, Source: src, Sink: sink, DB: db}
}

func TestRunSkipsSubjectWithoutChannel(t *testing.T) {
	logs := quietLogs(t)
	data, out := t.TempDir(), t.TempDir()
	writeSubjects(t, data,
		synth.Subject{Key: "SC4001", Channels: []string{"EEG Fpz-Cz"}, Rate: 10, Stages: threeClassNight, Seed: 1},
		synth.Subject{Key: "SC4002", Channels: []string{"EEG Pz-Oz"}, Rate: 10, Stages: threeClassNight, Seed: 2},
	)
	db, err := sqlitevec.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rep, err := job(t, smallConfig(), data, out, db).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, logs)
	}
	if rep.Epochs != 10 || rep.Train+rep.Test != 10 {
		t.Fatalf("epochs=%d train=%d test=%d", rep.Epochs, rep.Train, rep.Test)
	}
	if rep.Count(extract.Extracted) != 1 || rep.Count(extract.Skipped) != 1 {
		t.Fatalf("subjects %+v", rep.Subjects)
	}
	if rep.Subjects[1].Subject != "SC4002" || !strings.Contains(rep.Subjects[1].Reason, "EEG Fpz-Cz") {
		t.Fatalf("skipped subject %+v", rep.Subjects[1])
	}
	if rep.ClassCounts[model.Wake] != 4 || rep.ClassCounts[model.N1] != 3 || rep.ClassCounts[model.N2] != 3 {
		t.Fatalf("class counts %v", rep.ClassCounts)
	}
	if strings.Count(logs.String(), "subject_skipped") != 1 {
		t.Fatalf("expected one skip warning:\n%s", logs)
	}
	if len(rep.History) != 1 || rep.Metrics == nil || len(rep.Metrics.Classes) != model.NumLabels {
		t.Fatalf("history %v metrics %+v", rep.History, rep.Metrics)
	}

	art, err := nn.LoadArtifact(filepath.Join(out, nn.ArtifactName))
	if err != nil {
		t.Fatal(err)
	}
	if art.RunID != rep.RunID || len(art.Scaler.Mean) != 30 || art.Classes[4] != "REM" {
		t.Fatalf("artifact run=%s scaler=%d classes=%v", art.RunID, len(art.Scaler.Mean), art.Classes)
	}

	runs, err := db.Runs(context.Background(), 5)
	if err != nil || len(runs) != 1 || runs[0].Status != "ok" {
		t.Fatalf("ledger runs %+v %v", runs, err)
	}
	subs, _ := db.SubjectResults(context.Background(), rep.RunID)
	if len(subs) != 2 {
		t.Fatalf("ledger subjects %+v", subs)
	}

	// a second run reuses the cached epochs
	rep2, err := job(t, smallConfig(), data, out, db).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rep2.Subjects[0].FromCache || rep2.Epochs != 10 {
		t.Fatalf("second run %+v", rep2.Subjects)
	}

	// same subject key under another directory is not served from the cache
	other := t.TempDir()
	writeSubjects(t, other,
		synth.Subject{Key: "SC4001", Channels: []string{"EEG Fpz-Cz"}, Rate: 10, Stages: threeClassNight[:2], Seed: 3},
	)
	rep3, err := job(t, smallConfig(), other, t.TempDir(), db).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep3.Subjects[0].FromCache || rep3.Epochs != 4+3 {
		t.Fatalf("other directory run %+v epochs=%d", rep3.Subjects, rep3.Epochs)
	}

	labels, _ := model.NewLabelMap(smallConfig().Labels.Annotations)
	score, err := Score(art, filepath.Join(data, synth.PSGName("SC4001")), filepath.Join(data, synth.HypnogramName("SC4001")), labels)
	if err != nil {
		t.Fatal(err)
	}
	if score.Total != 10 {
		t.Fatalf("score total %d", score.Total)
	}
	if scoreBatch(art) != 4 {
		t.Fatalf("score batch %d, want the training batch size", scoreBatch(art))
	}
	art.Training.BatchSize = 0
	if scoreBatch(art) != 64 {
		t.Fatalf("fallback batch %d", scoreBatch(art))
	}
	again, err := Score(art, filepath.Join(data, synth.PSGName("SC4001")), filepath.Join(data, synth.HypnogramName("SC4001")), labels)
	if err != nil || again.Accuracy != score.Accuracy {
		t.Fatalf("batch size changed the score: %v %v vs %v", err, again.Accuracy, score.Accuracy)
	}
}

func TestRunFailsWhenNoSubjectYieldsEpochs(t *testing.T) {
	quietLogs(t)
	data := t.TempDir()
	writeSubjects(t, data,
		synth.Subject{Key: "SC4002", Channels: []string{"EEG Pz-Oz"}, Rate: 10, Stages: threeClassNight},
	)
	if err := os.WriteFile(filepath.Join(data, "SC4003E0-PSG.edf"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(data, "SC4003EC-Hypnogram.edf"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	rep, err := job(t, smallConfig(), data, out, nil).Run(context.Background())
	if !errors.Is(err, ErrNoEpochs) {
		t.Fatalf("want ErrNoEpochs, got %v", err)
	}
	if rep.Count(extract.Failed) != 1 || rep.Count(extract.Skipped) != 1 || rep.ModelSummary != "" {
		t.Fatalf("report %+v", rep)
	}
	if _, err := os.Stat(filepath.Join(out, nn.ArtifactName)); !os.IsNotExist(err) {
		t.Fatalf("no model should be written, stat err=%v", err)
	}
}

func TestRunNotFound(t *testing.T) {
	quietLogs(t)
	rep, err := job(t, smallConfig(), t.TempDir(), t.TempDir(), nil).Run(context.Background())
	if !errors.Is(err, discover.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if len(rep.Subjects) != 0 {
		t.Fatalf("nothing should be extracted: %+v", rep.Subjects)
	}
}

func TestRunCancelled(t *testing.T) {
	quietLogs(t)
	data := t.TempDir()
	writeSubjects(t, data, synth.Subject{Key: "SC4001", Channels: []string{"EEG Fpz-Cz"}, Rate: 10, Stages: threeClassNight})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := job(t, smallConfig(), data, t.TempDir(), nil).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestFingerprintTracksExtractionSettings(t *testing.T) {
	a := config.Default()
	b := config.Default()
	b.Training.Epochs = 3
	if Fingerprint(a, "/d/x.edf") != Fingerprint(b, "/d/x.edf") {
		t.Fatalf("training settings must not change the fingerprint")
	}
	if Fingerprint(a, "/d/x.edf") == Fingerprint(a, "/e/x.edf") {
		t.Fatalf("file location must change the fingerprint")
	}
	b.Data.Channel = "EEG Pz-Oz"
	if Fingerprint(a, "/d/x.edf") == Fingerprint(b, "/d/x.edf") {
		t.Fatalf("channel must change the fingerprint")
	}
}
