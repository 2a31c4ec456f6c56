package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Subjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepnet_subjects_total",
		Help: "Subjects processed, by extraction status",
	}, []string{"status"})
	EpochsExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleepnet_epochs_extracted_total",
		Help: "Epochs extracted across all subjects",
	})
	SubjectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleepnet_subject_duration_seconds",
		Help:    "Per-subject extraction duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	StageRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepnet_stage_runs_total",
		Help: "Pipeline stage executions",
	}, []string{"stage"})
	StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepnet_stage_errors_total",
		Help: "Pipeline stage failures",
	}, []string{"stage"})
	TrainEpochDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleepnet_train_epoch_duration_seconds",
		Help:    "Wall time per training epoch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	TrainLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sleepnet_train_loss",
		Help: "Loss of the last finished training epoch",
	}, []string{"split"})
	TrainAccuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sleepnet_train_accuracy",
		Help: "Accuracy of the last finished training epoch",
	}, []string{"split"})
	TestScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sleepnet_test_score",
		Help: "Final test metrics (accuracy, kappa, loss)",
	}, []string{"metric"})
	HTTPRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepnet_http_retries_total",
		Help: "Total remote storage retry attempts",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(Subjects, EpochsExtracted, SubjectDuration, StageRuns, StageErrors,
		TrainEpochDuration, TrainLoss, TrainAccuracy, TestScore, HTTPRetries)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("SLEEPNET_METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveSubject records one subject's outcome and how long it took.
func ObserveSubject(status string, epochs int, start time.Time) {
	Subjects.WithLabelValues(status).Inc()
	EpochsExtracted.Add(float64(epochs))
	SubjectDuration.Observe(time.Since(start).Seconds())
}

// ObserveEpoch records a finished training epoch. Validation values are
// skipped when the run has no validation split.
func ObserveEpoch(start time.Time, loss, acc float64, hasVal bool, valLoss, valAcc float64) {
	TrainEpochDuration.Observe(time.Since(start).Seconds())
	TrainLoss.WithLabelValues("train").Set(loss)
	TrainAccuracy.WithLabelValues("train").Set(acc)
	if hasVal {
		TrainLoss.WithLabelValues("val").Set(valLoss)
		TrainAccuracy.WithLabelValues("val").Set(valAcc)
	}
}

func IncStageRun(stage string)   { StageRuns.WithLabelValues(stage).Inc() }
func IncStageError(stage string) { StageErrors.WithLabelValues(stage).Inc() }

// IncHTTPRetry increments the retry counter for a storage operation.
func IncHTTPRetry(op string) { HTTPRetries.WithLabelValues(op).Inc() }
