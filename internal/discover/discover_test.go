package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sleepnet/internal/config"
	"sleepnet/internal/storage"
)

func TestMatchJoinsBySubjectKey(t *testing.T) {
	locs := []string{
		"/d/SC4011EH-Hypnogram.edf",
		"/d/SC4001E0-PSG.edf",
		"/d/SC4011E0-PSG.edf",
		"/d/SC4001EC-Hypnogram.edf",
		"/d/README.txt",
	}
	pairs, err := Match(locs, config.Default().Discovery)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs %+v", pairs)
	}
	if pairs[0].Key != "SC4001" || pairs[0].PSG != "/d/SC4001E0-PSG.edf" || pairs[0].Hypnogram != "/d/SC4001EC-Hypnogram.edf" {
		t.Fatalf("first pair %+v", pairs[0])
	}
	if pairs[1].Key != "SC4011" || pairs[1].Hypnogram != "/d/SC4011EH-Hypnogram.edf" {
		t.Fatalf("second pair %+v", pairs[1])
	}
}

func TestMatchNotFound(t *testing.T) {
	cfg := config.Default().Discovery
	if _, err := Match(nil, cfg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := Match([]string{"SC4001E0-PSG.edf"}, cfg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound without hypnograms, got %v", err)
	}
}

func TestMatchUnpaired(t *testing.T) {
	locs := []string{"SC4001E0-PSG.edf", "SC4001EC-Hypnogram.edf", "SC4002E0-PSG.edf"}
	cfg := config.Default().Discovery
	if _, err := Match(locs, cfg); !errors.Is(err, ErrUnpaired) {
		t.Fatalf("want ErrUnpaired, got %v", err)
	}
	cfg.AllowUnpaired = true
	pairs, err := Match(locs, cfg)
	if err != nil || len(pairs) != 1 || pairs[0].Key != "SC4001" {
		t.Fatalf("allowUnpaired: %+v %v", pairs, err)
	}
}

func TestMatchDuplicateKey(t *testing.T) {
	locs := []string{"SC4001E0-PSG.edf", "SC4001E1-PSG.edf", "SC4001EC-Hypnogram.edf"}
	if _, err := Match(locs, config.Default().Discovery); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestPairsFromLocalDir(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"SC4001E0-PSG.edf", "SC4001EC-Hypnogram.edf"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	pairs, err := Pairs(context.Background(), storage.NewLocalDir(dir), config.Default().Discovery)
	if err != nil || len(pairs) != 1 {
		t.Fatalf("%+v %v", pairs, err)
	}
	if _, err := Pairs(context.Background(), storage.NewLocalDir(filepath.Join(dir, "missing")), config.Default().Discovery); err == nil {
		t.Fatalf("expected list error")
	}
}
