package model

import "testing"

var reference = map[string]string{
	"Sleep stage W": "Wake",
	"Sleep stage 1": "N1",
	"Sleep stage 2": "N2",
	"Sleep stage 3": "N3",
	"Sleep stage 4": "N3",
	"Sleep stage R": "REM",
}

func TestTranslate(t *testing.T) {
	lm, err := NewLabelMap(reference)
	if err != nil {
		t.Fatal(err)
	}
	if lm.Len() != len(reference) {
		t.Fatalf("len %d", lm.Len())
	}
	s3, ok3 := lm.Translate("Sleep stage 3")
	s4, ok4 := lm.Translate("Sleep stage 4")
	if !ok3 || !ok4 || s3 != N3 || s4 != N3 {
		t.Fatalf("stage 3/4: %v %v %v %v", s3, ok3, s4, ok4)
	}
	if l, ok := lm.Translate("  Sleep   stage R "); !ok || l != REM {
		t.Fatalf("whitespace variant not matched: %v %v", l, ok)
	}
	for _, text := range []string{"Sleep stage ?", "Movement time", ""} {
		if _, ok := lm.Translate(text); ok {
			t.Fatalf("%q should be dropped", text)
		}
	}
}

func TestTranslateSegmentsDropsUnknown(t *testing.T) {
	lm, _ := NewLabelMap(reference)
	segs := []Segment{
		{Onset: 0, Duration: 60, Text: "Sleep stage W"},
		{Onset: 60, Duration: 30, Text: "Movement time"},
		{Onset: 90, Duration: 30, Text: "Sleep stage 2"},
	}
	kept, labels := lm.TranslateSegments(segs)
	if len(kept) != 2 || labels[0] != Wake || labels[1] != N2 || kept[1].Onset != 90 {
		t.Fatalf("kept=%v labels=%v", kept, labels)
	}
}

func TestNewLabelMapRejectsUnknownStage(t *testing.T) {
	if _, err := NewLabelMap(map[string]string{"Sleep stage 4": "N4"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLabelNames(t *testing.T) {
	names := ClassNames()
	if len(names) != NumLabels || names[0] != "Wake" || names[4] != "REM" {
		t.Fatalf("names %v", names)
	}
	if REM.String() != "REM" || Label(9).Valid() {
		t.Fatalf("label string/valid broken")
	}
}
