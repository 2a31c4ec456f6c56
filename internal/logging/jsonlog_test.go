package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatAndThreshold(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)
	Configure("info", "text")

	Debug("hidden", nil)
	Warn("subject_skipped", map[string]any{"subject": "SC4001", "reason": "missing channel"})

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug line should be filtered: %q", got)
	}
	if !strings.Contains(got, "WARN  subject_skipped") || !strings.Contains(got, `reason="missing channel" subject=SC4001`) {
		t.Fatalf("unexpected text line: %q", got)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)
	Configure("debug", "json")
	defer Configure("info", "text")

	Info("epochs_extracted", map[string]any{"count": 10})
	var e entry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e); err != nil {
		t.Fatal(err)
	}
	if e.Level != "info" || e.Message != "epochs_extracted" || e.Fields["count"] != float64(10) {
		t.Fatalf("unexpected entry: %+v", e)
	}
}
