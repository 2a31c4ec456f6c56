package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// Every pipeline stage receives the section it needs by value, so a loaded
// Config is never mutated once a run has started.
type Config struct {
	Data          DataConfig          `yaml:"data"`
	Labels        LabelsConfig        `yaml:"labels"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Split         SplitConfig         `yaml:"split"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Training      TrainingConfig      `yaml:"training"`
	Storage       StorageConfig       `yaml:"storage"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// DataConfig controls how epochs are cut from a recording.
type DataConfig struct {
	// Target sampling rate in Hz after resampling
	SamplingRate float64 `yaml:"samplingRate"`
	// Epoch length in seconds; also the annotation chunk width
	EpochSeconds float64 `yaml:"epochSeconds"`
	// Channel label to keep, e.g. "EEG Fpz-Cz"
	Channel string `yaml:"channel"`
}

// SamplesPerEpoch returns rate × duration rounded to the nearest sample.
func (d DataConfig) SamplesPerEpoch() int {
	return int(d.SamplingRate*d.EpochSeconds + 0.5)
}

type LabelsConfig struct {
	// Annotation text -> canonical stage name (Wake, N1, N2, N3, REM).
	// Text not present here is dropped.
	Annotations map[string]string `yaml:"annotations"`
}

type DiscoveryConfig struct {
	PSGPattern       string `yaml:"psgPattern"`
	HypnogramPattern string `yaml:"hypnogramPattern"`
	// Regexp whose first group is the subject key shared by a PSG/hypnogram pair
	SubjectKey string `yaml:"subjectKey"`
	// Log and drop unmatched files instead of failing
	AllowUnpaired bool `yaml:"allowUnpaired"`
}

type SplitConfig struct {
	TestFraction float64 `yaml:"testFraction"`
	Seed         uint64  `yaml:"seed"`
}

type NormalizationConfig struct {
	// "train" fits the scaler on the training partition, "all" on every epoch
	FitScope string `yaml:"fitScope"`
}

type TrainingConfig struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batchSize"`
	ValidationSplit float64 `yaml:"validationSplit"`
	LearningRate    float64 `yaml:"learningRate"`
	Seed            uint64  `yaml:"seed"`
	// Stop after this many epochs without val loss improvement; 0 disables
	Patience int `yaml:"patience"`
	// Balanced class weighting of the loss
	ClassWeights bool `yaml:"classWeights"`
}

type StorageConfig struct {
	// SQLite run ledger; empty disables it
	DBPath string `yaml:"dbPath"`
	// Reuse extracted epochs from the ledger when the data config matches
	CacheEpochs bool `yaml:"cacheEpochs"`
	// Where remote files are staged; empty means os.TempDir()
	StagingDir string `yaml:"stagingDir"`
}

type HTTPConfig struct {
	RPS           float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
	MaxAttempts   int     `yaml:"maxAttempts"`
	BaseBackoffMS int     `yaml:"baseBackoffMs"`
	// Bearer token for remote sources; if empty, read SLEEPNET_HTTP_TOKEN
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type MetricsConfig struct {
	// e.g. ":9090"; empty disables the server
	Addr string `yaml:"addr"`
}

// Canonical stage names in label order.
var stageNames = []string{"Wake", "N1", "N2", "N3", "REM"}

// Default returns the configuration of the reference training job.
func Default() Config {
	return Config{
		Data: DataConfig{SamplingRate: 100, EpochSeconds: 30, Channel: "EEG Fpz-Cz"},
		Labels: LabelsConfig{Annotations: map[string]string{
			"Sleep stage W": "Wake",
			"Sleep stage 1": "N1",
			"Sleep stage 2": "N2",
			"Sleep stage 3": "N3",
			"Sleep stage 4": "N3",
			"Sleep stage R": "REM",
		}},
		Discovery: DiscoveryConfig{
			PSGPattern:       "SC*PSG.*",
			HypnogramPattern: "SC*Hypnogram.*",
			SubjectKey:       `^([A-Z]{2}\d{4})`,
		},
		Split:         SplitConfig{TestFraction: 0.2, Seed: 42},
		Normalization: NormalizationConfig{FitScope: "train"},
		Training: TrainingConfig{
			Epochs: 50, BatchSize: 64, ValidationSplit: 0.2, LearningRate: 1e-4,
			Seed: 42, ClassWeights: true,
		},
		Storage: StorageConfig{DBPath: "", CacheEpochs: true},
		HTTP:    HTTPConfig{RPS: 4, Burst: 8, MaxAttempts: 5, BaseBackoffMS: 500},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = os.Getenv("SLEEPNET_DB_PATH")
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("SLEEPNET_METRICS_ADDR")
	}
	if v := os.Getenv("SLEEPNET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if c.HTTP.Token == "" {
		c.HTTP.Token = os.Getenv("SLEEPNET_HTTP_TOKEN")
	}
	if v := os.Getenv("SLEEPNET_TRAIN_EPOCHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Training.Epochs = n
		}
	}
}

// Validate reports the first setting that would make a run meaningless.
func (c Config) Validate() error {
	switch {
	case c.Data.SamplingRate <= 0:
		return fmt.Errorf("data.samplingRate must be positive, got %v", c.Data.SamplingRate)
	case c.Data.EpochSeconds <= 0:
		return fmt.Errorf("data.epochSeconds must be positive, got %v", c.Data.EpochSeconds)
	case c.Data.SamplesPerEpoch() < 4:
		return fmt.Errorf("epoch of %d samples is too short for the network", c.Data.SamplesPerEpoch())
	case c.Data.Channel == "":
		return errors.New("data.channel is empty")
	case len(c.Labels.Annotations) == 0:
		return errors.New("labels.annotations is empty")
	case c.Split.TestFraction <= 0 || c.Split.TestFraction >= 1:
		return fmt.Errorf("split.testFraction must be in (0,1), got %v", c.Split.TestFraction)
	case c.Training.ValidationSplit < 0 || c.Training.ValidationSplit >= 1:
		return fmt.Errorf("training.validationSplit must be in [0,1), got %v", c.Training.ValidationSplit)
	case c.Training.Epochs <= 0 || c.Training.BatchSize <= 0:
		return errors.New("training.epochs and training.batchSize must be positive")
	case c.Training.LearningRate <= 0:
		return fmt.Errorf("training.learningRate must be positive, got %v", c.Training.LearningRate)
	case c.Normalization.FitScope != "train" && c.Normalization.FitScope != "all":
		return fmt.Errorf("normalization.fitScope must be train or all, got %q", c.Normalization.FitScope)
	}
	for text, name := range c.Labels.Annotations {
		if !isStageName(name) {
			return fmt.Errorf("labels.annotations[%q]: unknown stage %q", text, name)
		}
	}
	re, err := regexp.Compile(c.Discovery.SubjectKey)
	if err != nil {
		return fmt.Errorf("discovery.subjectKey: %w", err)
	}
	if re.NumSubexp() < 1 {
		return errors.New("discovery.subjectKey needs a capture group")
	}
	return nil
}

func isStageName(s string) bool {
	for _, n := range stageNames {
		if n == s {
			return true
		}
	}
	return false
}

// Load reads YAML config from path on top of Default. A labels.annotations
// map in the file replaces the default map instead of extending it.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.Labels.Annotations = nil
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Labels.Annotations == nil {
		cfg.Labels.Annotations = Default().Labels.Annotations
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// LoadOrDefault returns Default when path does not exist.
func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ResolveEnv()
		return cfg, nil
	}
	return Load(path)
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
