// Package pipeline runs one training job end to end: discover subjects,
// extract epochs, split and standardise, train the network, score it on the
// held-out part and store the model artifact.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"sleepnet/internal/cmdlog"
	"sleepnet/internal/config"
	"sleepnet/internal/dataset"
	"sleepnet/internal/discover"
	"sleepnet/internal/eval"
	"sleepnet/internal/extract"
	"sleepnet/internal/logging"
	"sleepnet/internal/metrics"
	"sleepnet/internal/model"
	"sleepnet/internal/nn"
	"sleepnet/internal/storage"
	"sleepnet/internal/store/sqlitevec"
)

// ErrNoEpochs means every subject was skipped or failed.
var ErrNoEpochs = errors.New("no subject produced any epochs")

// SubjectSummary is one subject's extraction outcome without its data.
type SubjectSummary struct {
	Subject   string         `json:"subject"`
	Status    extract.Status `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Epochs    int            `json:"epochs"`
	FromCache bool           `json:"fromCache,omitempty"`
}

// Report is the structured outcome of a run.
type Report struct {
	RunID        string               `json:"runId"`
	Subjects     []SubjectSummary     `json:"subjects"`
	Epochs       int                  `json:"epochs"`
	Steps        int                  `json:"steps"`
	ClassCounts  [model.NumLabels]int `json:"classCounts"`
	Train        int                  `json:"train"`
	Test         int                  `json:"test"`
	ClassWeights []float64            `json:"classWeights,omitempty"`
	ModelSummary string               `json:"-"`
	History      []nn.EpochStats      `json:"history,omitempty"`
	Metrics      *eval.Report         `json:"metrics,omitempty"`
	Artifact     string               `json:"artifact,omitempty"`
}

// Count returns how many subjects ended with status s.
func (r *Report) Count(s extract.Status) int {
	n := 0
	for _, sub := range r.Subjects {
		if sub.Status == s {
			n++
		}
	}
	return n
}

// Job bundles what a run reads from and writes to. DB may be nil.
type Job struct {
	Config config.Config
	Source storage.Source
	Sink   storage.Sink
	DB     *sqlitevec.DB
}

// Run executes the job. The returned report is non-nil even on failure
// and holds whatever stages completed.
func (j Job) Run(ctx context.Context) (*Report, error) {
	cfg := j.Config
	rep := &Report{RunID: uuid.NewString()}
	if err := cfg.Validate(); err != nil {
		return rep, fmt.Errorf("config: %w", err)
	}
	started := time.Now().UTC()
	if j.DB != nil {
		if err := j.DB.StartRun(ctx, rep.RunID, j.Source.String(), j.Sink.String(), started); err != nil {
			return rep, fmt.Errorf("ledger: %w", err)
		}
	}
	logging.Info("run_start", map[string]any{"run": rep.RunID, "data": j.Source.String(), "output": j.Sink.String()})

	err := j.run(ctx, rep)
	if j.DB != nil {
		status, result := "ok", any(rep.Metrics)
		if err != nil {
			status, result = "failed", map[string]string{"error": err.Error()}
		}
		// the run outcome is recorded even when ctx was cancelled
		if ferr := j.DB.FinishRun(context.WithoutCancel(ctx), rep.RunID, status, time.Now().UTC(), result); ferr != nil {
			logging.Warn("ledger_finish_failed", map[string]any{"run": rep.RunID, "error": ferr.Error()})
		}
	}
	return rep, err
}

func (j Job) run(ctx context.Context, rep *Report) error {
	cfg := j.Config
	var pairs []discover.Pair
	if err := cmdlog.Run("discover", func() error {
		var err error
		pairs, err = discover.Pairs(ctx, j.Source, cfg.Discovery)
		return err
	}); err != nil {
		return err
	}
	logging.Info("discover_pairs", map[string]any{"subjects": len(pairs)})

	var ds dataset.Dataset
	if err := cmdlog.Run("extract", func() error {
		var err error
		ds, err = j.extractAll(ctx, pairs, rep)
		return err
	}); err != nil {
		return err
	}

	return cmdlog.Run("train", func() error { return j.train(ctx, &ds, rep) })
}

func (j Job) extractAll(ctx context.Context, pairs []discover.Pair, rep *Report) (dataset.Dataset, error) {
	cfg := j.Config
	var ds dataset.Dataset
	opts, err := extract.OptionsFrom(cfg)
	if err != nil {
		return ds, err
	}
	logging.Info("extract_start", map[string]any{"subjects": len(pairs), "labels": opts.Labels.Len(), "channel": cfg.Data.Channel})
	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			return ds, err
		}
		start := time.Now()
		res, cached := j.extractOne(ctx, p, opts)
		metrics.ObserveSubject(string(res.Status), res.Len(), start)
		sum := SubjectSummary{Subject: res.Subject, Status: res.Status, Reason: res.Reason, Epochs: res.Len(), FromCache: cached}
		rep.Subjects = append(rep.Subjects, sum)
		fields := map[string]any{"subject": p.Key, "n": fmt.Sprintf("%d/%d", i+1, len(pairs))}
		switch res.Status {
		case extract.Extracted:
			fields["epochs"] = res.Len()
			fields["cached"] = cached
			logging.Info("subject_extracted", fields)
			if err := ds.Append(res.Subject, res.Epochs, res.Labels); err != nil {
				return ds, err
			}
		case extract.Skipped:
			fields["reason"] = res.Reason
			logging.Warn("subject_skipped", fields)
		default:
			fields["reason"] = res.Reason
			logging.Error("subject_failed", fields)
		}
		if j.DB != nil {
			r := sqlitevec.SubjectResult{Subject: sum.Subject, Status: string(sum.Status), Reason: sum.Reason, Epochs: sum.Epochs}
			if err := j.DB.PutSubjectResult(ctx, rep.RunID, r); err != nil {
				logging.Warn("ledger_subject_failed", map[string]any{"subject": p.Key, "error": err.Error()})
			}
		}
	}
	rep.Epochs = ds.Len()
	rep.Steps = ds.Steps()
	rep.ClassCounts = ds.Counts()
	logging.Info("extract_summary", map[string]any{
		"extracted": rep.Count(extract.Extracted), "skipped": rep.Count(extract.Skipped),
		"failed": rep.Count(extract.Failed), "epochs": rep.Epochs,
		"shape": fmt.Sprintf("(%d, %d, 1)", rep.Epochs, rep.Steps),
	})
	if ds.Len() == 0 {
		return ds, ErrNoEpochs
	}
	return ds, nil
}

// extractOne returns the epochs of one subject, from the cache when
// possible. Staging problems become a Failed result.
func (j Job) extractOne(ctx context.Context, p discover.Pair, opts extract.Options) (extract.Result, bool) {
	useCache := j.DB != nil && j.Config.Storage.CacheEpochs
	fp := Fingerprint(j.Config, p.PSG, p.Hypnogram)
	if useCache {
		epochs, labels, ok, err := j.DB.LoadEpochs(ctx, p.Key, fp)
		if err != nil {
			logging.Warn("cache_load_failed", map[string]any{"subject": p.Key, "error": err.Error()})
		}
		if ok {
			res := extract.Result{Subject: p.Key, Status: extract.Extracted, Epochs: epochs}
			for _, l := range labels {
				res.Labels = append(res.Labels, model.Label(l))
			}
			return res, true
		}
	}
	psg, err := j.Source.Stage(ctx, p.PSG, "psg.edf")
	if err != nil {
		return extract.Result{Subject: p.Key, Status: extract.Failed, Reason: "stage psg: " + err.Error()}, false
	}
	hyp, err := j.Source.Stage(ctx, p.Hypnogram, "hypnogram.edf")
	if err != nil {
		return extract.Result{Subject: p.Key, Status: extract.Failed, Reason: "stage hypnogram: " + err.Error()}, false
	}
	res := extract.Subject(p.Key, psg, hyp, opts)
	if useCache && res.Status == extract.Extracted {
		labels := make([]int, len(res.Labels))
		for i, l := range res.Labels {
			labels[i] = int(l)
		}
		if err := j.DB.PutEpochs(ctx, p.Key, fp, res.Epochs, labels); err != nil {
			logging.Warn("cache_store_failed", map[string]any{"subject": p.Key, "error": err.Error()})
		}
	}
	return res, false
}

func (j Job) train(ctx context.Context, ds *dataset.Dataset, rep *Report) error {
	cfg := j.Config
	trainIdx, testIdx, err := dataset.StratifiedSplit(ds.Y, cfg.Split.TestFraction, cfg.Split.Seed)
	if err != nil {
		return err
	}
	train, test := ds.Subset(trainIdx), ds.Subset(testIdx)
	rep.Train, rep.Test = train.Len(), test.Len()

	fitOn := train.X
	if cfg.Normalization.FitScope == "all" {
		fitOn = ds.X
	}
	scaler, err := dataset.FitScaler(fitOn)
	if err != nil {
		return err
	}
	xTrain, err := scaler.Transform(train.X)
	if err != nil {
		return err
	}
	xTest, err := scaler.Transform(test.X)
	if err != nil {
		return err
	}
	logging.Info("split", map[string]any{
		"train":  fmt.Sprintf("(%d, %d, 1)", len(xTrain), ds.Steps()),
		"test":   fmt.Sprintf("(%d, %d, 1)", len(xTest), ds.Steps()),
		"scaler": cfg.Normalization.FitScope,
	})

	net, err := nn.BuildSleepNet(ds.Steps(), model.NumLabels, cfg.Training.Seed)
	if err != nil {
		return err
	}
	rep.ModelSummary = net.SummaryString()
	logging.Debug("model_summary", map[string]any{"summary": rep.ModelSummary})

	if cfg.Training.ClassWeights {
		rep.ClassWeights = dataset.BalancedClassWeights(train.Y, model.NumLabels)
		fields := map[string]any{}
		for c, w := range rep.ClassWeights {
			fields[model.Label(c).String()] = fmt.Sprintf("%.4f", w)
		}
		logging.Info("class_weights", fields)
	}

	epochStart := time.Now()
	hist, err := net.Fit(ctx, xTrain, train.Y, nn.FitOptions{
		Epochs:          cfg.Training.Epochs,
		BatchSize:       cfg.Training.BatchSize,
		ValidationSplit: cfg.Training.ValidationSplit,
		LearningRate:    cfg.Training.LearningRate,
		ClassWeights:    rep.ClassWeights,
		Patience:        cfg.Training.Patience,
		Seed:            cfg.Training.Seed,
		OnEpoch: func(st nn.EpochStats) {
			metrics.ObserveEpoch(epochStart, st.Loss, st.Accuracy, st.HasVal, st.ValLoss, st.ValAccuracy)
			epochStart = time.Now()
			fields := map[string]any{"epoch": fmt.Sprintf("%d/%d", st.Epoch, cfg.Training.Epochs),
				"loss": fmt.Sprintf("%.4f", st.Loss), "accuracy": fmt.Sprintf("%.4f", st.Accuracy)}
			row := sqlitevec.EpochRow{Epoch: st.Epoch, Loss: st.Loss, Accuracy: st.Accuracy, ValLoss: math.NaN()}
			if st.HasVal {
				fields["val_loss"] = fmt.Sprintf("%.4f", st.ValLoss)
				fields["val_accuracy"] = fmt.Sprintf("%.4f", st.ValAccuracy)
				row.ValLoss, row.ValAccuracy = st.ValLoss, st.ValAccuracy
			}
			logging.Info("train_epoch", fields)
			if j.DB != nil {
				if err := j.DB.PutEpoch(ctx, rep.RunID, row); err != nil {
					logging.Warn("ledger_epoch_failed", map[string]any{"error": err.Error()})
				}
			}
		},
	})
	rep.History = hist
	if err != nil {
		return err
	}

	testLoss, _, err := net.Evaluate(xTest, test.Y, cfg.Training.BatchSize)
	if err != nil {
		return err
	}
	pred, err := net.PredictClasses(xTest, cfg.Training.BatchSize)
	if err != nil {
		return err
	}
	report := eval.Classify(test.Y, pred, model.ClassNames())
	report.Loss = testLoss
	rep.Metrics = &report
	metrics.TestScore.WithLabelValues("loss").Set(report.Loss)
	metrics.TestScore.WithLabelValues("accuracy").Set(report.Accuracy)
	metrics.TestScore.WithLabelValues("kappa").Set(report.Kappa)
	logging.Info("test_scores", map[string]any{
		"loss": fmt.Sprintf("%.4f", report.Loss), "accuracy": fmt.Sprintf("%.4f", report.Accuracy),
		"kappa": fmt.Sprintf("%.4f", report.Kappa),
	})

	art := nn.NewArtifact(net)
	art.RunID = rep.RunID
	art.Classes = model.ClassNames()
	art.Scaler = scaler
	art.Data = cfg.Data
	art.Training = cfg.Training
	art.History = hist
	art.Metrics = &report
	b, err := art.Marshal()
	if err != nil {
		return err
	}
	loc, err := j.Sink.Put(ctx, nn.ArtifactName, b)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	rep.Artifact = loc
	logging.Info("model_saved", map[string]any{"location": loc, "bytes": len(b)})
	return nil
}

// Fingerprint identifies what cached epochs depend on: the extraction
// settings and the locations of the files they were cut from.
func Fingerprint(cfg config.Config, locs ...string) string {
	b, _ := json.Marshal(struct {
		Data   config.DataConfig
		Labels map[string]string
		Files  []string
	}{cfg.Data, cfg.Labels.Annotations, locs})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
