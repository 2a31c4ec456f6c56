package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsExposure(t *testing.T) {
	ObserveSubject("extracted", 12, time.Now().Add(-200*time.Millisecond))
	ObserveSubject("skipped", 0, time.Now())
	ObserveEpoch(time.Now().Add(-1500*time.Millisecond), 1.2, 0.4, true, 1.3, 0.35)
	IncStageRun("discover")
	IncStageError("discover")
	IncHTTPRetry("fetch")
	TestScore.WithLabelValues("kappa").Set(0.61)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, m := range []string{
		`sleepnet_subjects_total{status="skipped"}`,
		"sleepnet_epochs_extracted_total",
		"sleepnet_subject_duration_seconds",
		`sleepnet_train_loss{split="val"}`,
		`sleepnet_stage_errors_total{stage="discover"}`,
		`sleepnet_http_retries_total{op="fetch"}`,
		`sleepnet_test_score{metric="kappa"} 0.61`,
	} {
		if !strings.Contains(body, m) {
			t.Fatalf("expected metric %s in body", m)
		}
	}
}
