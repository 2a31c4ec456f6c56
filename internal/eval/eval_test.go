package eval

import (
	"math"
	"strings"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCohenKappa(t *testing.T) {
	truth := []int{0, 0, 1, 1, 2, 2}
	if k := CohenKappa(truth, truth, 3); !near(k, 1) {
		t.Fatalf("perfect agreement kappa=%v", k)
	}
	// po = 4/6, pe = (2*2+2*3+2*1)/36 = 12/36
	pred := []int{0, 1, 1, 1, 2, 0}
	if k := CohenKappa(truth, pred, 3); !near(k, (4.0/6-12.0/36)/(1-12.0/36)) {
		t.Fatalf("kappa=%v", k)
	}
	if k := CohenKappa([]int{1, 1}, []int{1, 1}, 5); k != 0 {
		t.Fatalf("degenerate kappa=%v", k)
	}
}

func TestClassifyZeroDivision(t *testing.T) {
	names := []string{"Wake", "N1", "N2", "N3", "REM"}
	truth := []int{0, 0, 2, 2, 2, 4}
	pred := []int{0, 2, 2, 2, 0, 4}
	r := Classify(truth, pred, names)
	if !near(r.Accuracy, 4.0/6) || r.Total != 6 {
		t.Fatalf("accuracy %v total %d", r.Accuracy, r.Total)
	}
	wake := r.Classes[0]
	if !near(wake.Precision, 0.5) || !near(wake.Recall, 0.5) || wake.Support != 2 {
		t.Fatalf("wake %+v", wake)
	}
	n1 := r.Classes[1]
	if n1.Precision != 0 || n1.Recall != 0 || n1.F1 != 0 || n1.Support != 0 {
		t.Fatalf("absent class must score 0, got %+v", n1)
	}
	wantMacroP := (0.5 + 0 + 2.0/3 + 0 + 1) / 5
	if !near(r.MacroAvg.Precision, wantMacroP) {
		t.Fatalf("macro precision %v want %v", r.MacroAvg.Precision, wantMacroP)
	}
	wantWeightedR := (2*0.5 + 3*(2.0/3) + 1*1) / 6
	if !near(r.WeightedAvg.Recall, wantWeightedR) {
		t.Fatalf("weighted recall %v want %v", r.WeightedAvg.Recall, wantWeightedR)
	}
	s := r.String()
	for _, want := range []string{"precision", "REM", "macro avg", "weighted avg"} {
		if !strings.Contains(s, want) {
			t.Fatalf("report missing %q:\n%s", want, s)
		}
	}
}
