package theme

import (
	"strings"
	"testing"
)

func TestBannerNamesTool(t *testing.T) {
	if !strings.Contains(Banner(), "SLEEPNET") {
		t.Fatalf("banner: %q", Banner())
	}
}

func TestKVAlignsKeys(t *testing.T) {
	out := KV([2]string{"a", "1"}, [2]string{"long key", "2"})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines %q", lines)
	}
	if strings.Index(lines[0], "1") != strings.Index(lines[1], "2") {
		t.Fatalf("values not aligned:\n%s", out)
	}
}

func TestSectionKeepsBody(t *testing.T) {
	out := Section("Run", "epochs 10\n")
	if !strings.Contains(out, "Run") || !strings.Contains(out, "epochs 10") {
		t.Fatalf("section: %q", out)
	}
}
