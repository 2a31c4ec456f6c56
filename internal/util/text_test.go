package util

import "testing"

func TestNormalizeWhitespace(t *testing.T) {
	if got := NormalizeWhitespace("  Sleep\tstage  W \n"); got != "Sleep stage W" {
		t.Fatalf("got %q", got)
	}
}

func TestBasename(t *testing.T) {
	cases := map[string]string{
		"/data/SC4001E0-PSG.edf":                             "SC4001E0-PSG.edf",
		"https://host/files/sleep-cassette/SC4001E0-PSG.edf": "SC4001E0-PSG.edf",
		"SC4001EC-Hypnogram.edf":                             "SC4001EC-Hypnogram.edf",
		"/data/dir/":                                         "dir",
	}
	for in, want := range cases {
		if got := Basename(in); got != want {
			t.Fatalf("Basename(%q)=%q want %q", in, got, want)
		}
	}
}
