package cmdlog

import (
	"time"

	"sleepnet/internal/logging"
	"sleepnet/internal/metrics"
)

// Run executes one named pipeline stage, counting runs and failures and
// logging "<stage>_ok" or "<stage>_error" with the elapsed time.
func Run(stage string, f func() error) error {
	metrics.IncStageRun(stage)
	start := time.Now()
	err := f()
	elapsed := time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		metrics.IncStageError(stage)
		logging.Error(stage+"_error", map[string]any{"error": err.Error(), "elapsed": elapsed})
	} else {
		logging.Info(stage+"_ok", map[string]any{"elapsed": elapsed})
	}
	return err
}
