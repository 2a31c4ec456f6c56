package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"sleepnet/internal/config"
	"sleepnet/internal/discover"
	"sleepnet/internal/edf"
	"sleepnet/internal/logging"
	"sleepnet/internal/metrics"
	"sleepnet/internal/model"
	"sleepnet/internal/nn"
	"sleepnet/internal/pipeline"
	"sleepnet/internal/storage"
	"sleepnet/internal/store/sqlitevec"
	"sleepnet/internal/synth"
	"sleepnet/internal/theme"
)

const defaultConfig = "./sleepnet.yaml"

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if strings.HasPrefix(cmd, "-") && cmd != "-h" && cmd != "--help" {
		cmd, args = "train", os.Args[1:]
	}
	var err error
	switch cmd {
	case "train":
		err = cmdTrain(args)
	case "init":
		err = cmdInit(args)
	case "inspect":
		err = cmdInspect(args)
	case "synth":
		err = cmdSynth(args)
	case "runs":
		err = cmdRuns(args)
	case "score":
		err = cmdScore(args)
	default:
		printHelp()
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, theme.ErrorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: sleepnet <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  train     Train on a directory of PSG/hypnogram pairs (default when the first argument is a flag)")
	fmt.Println("  init      Write the default config to ./sleepnet.yaml")
	fmt.Println("  inspect   Print an EDF header, channels and annotation counts")
	fmt.Println("  synth     Write synthetic recordings for smoke runs")
	fmt.Println("  runs      List runs recorded in the ledger")
	fmt.Println("  score     Evaluate a saved model on one subject")
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	logging.Configure(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func cmdTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataPath := fs.String("data-path", "", "directory or URL holding *PSG.edf and *Hypnogram.edf files (required)")
	outDir := fs.String("model-output-dir", "", "directory or URL the model artifact is written to (required)")
	cfgPath := fs.String("config", defaultConfig, "config path")
	_ = fs.Parse(args)
	if *dataPath == "" || *outDir == "" {
		fs.Usage()
		return errors.New("--data-path and --model-output-dir are required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	metrics.StartServer(cfg.Metrics.Addr)

	opts := storage.OptionsFrom(cfg)
	src, err := storage.OpenSource(*dataPath, opts)
	if err != nil {
		return err
	}
	sink, err := storage.OpenSink(*outDir, opts)
	if err != nil {
		return err
	}
	job := pipeline.Job{Config: cfg, Source: src, Sink: sink}
	if cfg.Storage.DBPath != "" {
		db, err := sqlitevec.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer db.Close()
		job.DB = db
	}

	theme.PrintBanner()
	rep, err := job.Run(ctx)
	printReport(rep)
	if errors.Is(err, discover.ErrNotFound) {
		return fmt.Errorf("%w (data path %s)", err, *dataPath)
	}
	return err
}

func printReport(rep *pipeline.Report) {
	if rep == nil || len(rep.Subjects) == 0 {
		return
	}
	var subjects strings.Builder
	for _, s := range rep.Subjects {
		line := fmt.Sprintf("%-10s %s", s.Subject, theme.Status(string(s.Status)))
		if s.Epochs > 0 {
			line += fmt.Sprintf("  %d epochs", s.Epochs)
		}
		if s.FromCache {
			line += theme.KeyStyle.Render("  (cached)")
		}
		if s.Reason != "" {
			line += theme.KeyStyle.Render("  " + s.Reason)
		}
		subjects.WriteString(line + "\n")
	}
	fmt.Print(theme.Section("Subjects", subjects.String()))

	counts := make([]string, 0, model.NumLabels)
	for c, n := range rep.ClassCounts {
		counts = append(counts, fmt.Sprintf("%s=%d", model.Label(c), n))
	}
	fmt.Print(theme.Section("Dataset", theme.KV(
		[2]string{"run", rep.RunID},
		[2]string{"epochs", fmt.Sprintf("(%d, %d, 1)", rep.Epochs, rep.Steps)},
		[2]string{"classes", strings.Join(counts, " ")},
		[2]string{"train/test", fmt.Sprintf("%d / %d", rep.Train, rep.Test)},
	)))
	if rep.ModelSummary != "" {
		fmt.Print(theme.Section("Model", rep.ModelSummary))
	}
	if rep.Metrics != nil {
		m := rep.Metrics
		fmt.Print(theme.Section("Test", theme.KV(
			[2]string{"loss", fmt.Sprintf("%.4f", m.Loss)},
			[2]string{"accuracy", fmt.Sprintf("%.4f", m.Accuracy)},
			[2]string{"kappa", fmt.Sprintf("%.4f", m.Kappa)},
		)+"\n"+m.String()))
	}
	if rep.Artifact != "" {
		fmt.Println(theme.OKStyle.Render("model saved:"), rep.Artifact)
	}
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfig, "path to write config")
	_ = fs.Parse(args)
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	return nil
}

func cmdInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sleepnet inspect <file.edf>")
	}
	f, err := edf.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	h := f.Header
	kind := h.Reserved
	if kind == "" {
		kind = "EDF"
	}
	fmt.Print(theme.Section(filepath.Base(fs.Arg(0)), theme.KV(
		[2]string{"format", kind},
		[2]string{"patient", h.Patient},
		[2]string{"recording", h.Recording},
		[2]string{"start", h.Start.Format(time.RFC3339)},
		[2]string{"records", fmt.Sprintf("%d × %gs", h.Records, h.RecordDuration)},
	)))

	var chans strings.Builder
	for _, s := range h.Signals {
		if s.IsAnnotation() {
			continue
		}
		rate := float64(s.SamplesPerRecord)
		if h.RecordDuration > 0 {
			rate /= h.RecordDuration
		}
		fmt.Fprintf(&chans, "%-16s %8g Hz  %s\n", s.Label, rate, s.PhysicalDim)
	}
	if chans.Len() > 0 {
		fmt.Print(theme.Section("Channels", chans.String()))
	}

	anns, err := f.Annotations()
	if err != nil {
		return err
	}
	if len(anns) == 0 {
		return nil
	}
	count := map[string]int{}
	seconds := map[string]float64{}
	for _, a := range anns {
		count[a.Text]++
		seconds[a.Text] += a.Duration
	}
	texts := make([]string, 0, len(count))
	for t := range count {
		texts = append(texts, t)
	}
	sort.Strings(texts)
	var b strings.Builder
	for _, t := range texts {
		fmt.Fprintf(&b, "%-16s %5d  %8.0fs\n", t, count[t], seconds[t])
	}
	fmt.Print(theme.Section("Annotations", b.String()))
	return nil
}

func cmdSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	out := fs.String("out", "./synth", "directory to write recordings to")
	n := fs.Int("subjects", 2, "number of subjects")
	channel := fs.String("channel", config.Default().Data.Channel, "channel label of the first signal")
	rate := fs.Float64("rate", 100, "sampling rate in Hz")
	seed := fs.Uint64("seed", 1, "random seed")
	_ = fs.Parse(args)
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	for i := 0; i < *n; i++ {
		psg, hyp, err := synth.Write(*out, synth.Night(i, *channel, *rate, *seed))
		if err != nil {
			return err
		}
		fmt.Println(theme.OKStyle.Render("wrote"), psg, hyp)
	}
	return nil
}

func cmdRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "config path")
	limit := fs.Int("limit", 20, "number of runs to list")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage.DBPath == "" {
		return errors.New("storage.dbPath is not set")
	}
	db, err := sqlitevec.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()
	runs, err := db.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		took := "-"
		if !r.Finished.IsZero() {
			took = r.Finished.Sub(r.Started).Round(time.Second).String()
		}
		fmt.Printf("%s  %s  %-8s %7s  %s -> %s\n", r.ID, r.Started.Local().Format("2006-01-02 15:04"),
			theme.Status(r.Status), took, r.DataPath, r.OutputPath)
		subs, err := db.SubjectResults(ctx, r.ID)
		if err != nil {
			return err
		}
		extracted := 0
		for _, s := range subs {
			if s.Status == "extracted" {
				extracted++
			}
		}
		if len(subs) > 0 {
			fmt.Printf("    %d/%d subjects extracted\n", extracted, len(subs))
		}
	}
	return nil
}

func cmdScore(args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	modelPath := fs.String("model", filepath.Join(".", nn.ArtifactName), "model artifact")
	psg := fs.String("psg", "", "PSG EDF file")
	hyp := fs.String("hypnogram", "", "hypnogram EDF file")
	cfgPath := fs.String("config", defaultConfig, "config path (label mapping)")
	_ = fs.Parse(args)
	if *psg == "" || *hyp == "" {
		fs.Usage()
		return errors.New("--psg and --hypnogram are required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	labels, err := model.NewLabelMap(cfg.Labels.Annotations)
	if err != nil {
		return err
	}
	logging.Info("score_labels", map[string]any{"mapped_texts": labels.Len()})
	art, err := nn.LoadArtifact(*modelPath)
	if err != nil {
		return err
	}
	r, err := pipeline.Score(art, *psg, *hyp, labels)
	if err != nil {
		return err
	}
	fmt.Print(theme.Section("Score", theme.KV(
		[2]string{"model", art.RunID},
		[2]string{"epochs", fmt.Sprint(r.Total)},
		[2]string{"loss", fmt.Sprintf("%.4f", r.Loss)},
		[2]string{"accuracy", fmt.Sprintf("%.4f", r.Accuracy)},
		[2]string{"kappa", fmt.Sprintf("%.4f", r.Kappa)},
	)+"\n"+r.String()))
	return nil
}
