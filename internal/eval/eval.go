// Package eval scores predicted sleep stages against the expert labels.
package eval

import (
	"fmt"
	"strings"
)

// Accuracy is the fraction of positions where pred equals truth.
func Accuracy(truth, pred []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	n := 0
	for i := range truth {
		if truth[i] == pred[i] {
			n++
		}
	}
	return float64(n) / float64(len(truth))
}

// Confusion returns counts[t][p] over k classes.
func Confusion(truth, pred []int, k int) [][]int {
	m := make([][]int, k)
	for i := range m {
		m[i] = make([]int, k)
	}
	for i := range truth {
		if truth[i] >= 0 && truth[i] < k && pred[i] >= 0 && pred[i] < k {
			m[truth[i]][pred[i]]++
		}
	}
	return m
}

// CohenKappa is the chance-corrected agreement between truth and pred. It
// is 0 when the expected agreement is already perfect.
func CohenKappa(truth, pred []int, k int) float64 {
	m := Confusion(truth, pred, k)
	n := 0
	rows := make([]int, k)
	cols := make([]int, k)
	diag := 0
	for i := range m {
		for j, c := range m[i] {
			n += c
			rows[i] += c
			cols[j] += c
			if i == j {
				diag += c
			}
		}
	}
	if n == 0 {
		return 0
	}
	po := float64(diag) / float64(n)
	var pe float64
	for i := 0; i < k; i++ {
		pe += float64(rows[i]) * float64(cols[i])
	}
	pe /= float64(n) * float64(n)
	if pe == 1 {
		return 0
	}
	return (po - pe) / (1 - pe)
}

// Score is precision, recall and F1 with the number of true examples.
type Score struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassScore is the Score of one named class.
type ClassScore struct {
	Name string `json:"name"`
	Score
}

// Report is a per-class classification report. Undefined ratios (no
// predictions or no examples of a class) are reported as 0.
type Report struct {
	Classes     []ClassScore `json:"classes"`
	Accuracy    float64      `json:"accuracy"`
	MacroAvg    Score        `json:"macroAvg"`
	WeightedAvg Score        `json:"weightedAvg"`
	Kappa       float64      `json:"kappa"`
	Loss        float64      `json:"loss"`
	Total       int          `json:"total"`
}

// Classify builds the report for the classes named by names; class i is
// names[i].
func Classify(truth, pred []int, names []string) Report {
	k := len(names)
	m := Confusion(truth, pred, k)
	r := Report{Accuracy: Accuracy(truth, pred), Kappa: CohenKappa(truth, pred, k), Total: len(truth)}
	for c := 0; c < k; c++ {
		tp := m[c][c]
		predicted, actual := 0, 0
		for j := 0; j < k; j++ {
			predicted += m[j][c]
			actual += m[c][j]
		}
		s := Score{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Classes = append(r.Classes, ClassScore{Name: names[c], Score: s})

		r.MacroAvg.Precision += s.Precision / float64(k)
		r.MacroAvg.Recall += s.Recall / float64(k)
		r.MacroAvg.F1 += s.F1 / float64(k)
		if len(truth) > 0 {
			w := float64(actual) / float64(len(truth))
			r.WeightedAvg.Precision += w * s.Precision
			r.WeightedAvg.Recall += w * s.Recall
			r.WeightedAvg.F1 += w * s.F1
		}
	}
	r.MacroAvg.Support = len(truth)
	r.WeightedAvg.Support = len(truth)
	return r
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// String renders the report in the familiar precision/recall/f1/support
// table layout.
func (r Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		width = max(width, len(c.Name))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, "macro avg", r.MacroAvg.Precision, r.MacroAvg.Recall, r.MacroAvg.F1, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, "weighted avg", r.WeightedAvg.Precision, r.WeightedAvg.Recall, r.WeightedAvg.F1, r.WeightedAvg.Support)
	return b.String()
}
