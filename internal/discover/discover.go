// Package discover finds the PSG/hypnogram file pairs of a recording
// directory and joins them on a subject key taken from each file name.
package discover

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"

	"sleepnet/internal/config"
	"sleepnet/internal/logging"
	"sleepnet/internal/storage"
	"sleepnet/internal/util"
)

var (
	// ErrNotFound means no signal files or no annotation files matched.
	ErrNotFound = errors.New("no matching recording files")
	// ErrUnpaired means a file had no partner with the same subject key.
	ErrUnpaired = errors.New("unpaired recording files")
)

// Pair is one subject's signal and annotation file.
type Pair struct {
	Key       string
	PSG       string
	Hypnogram string
}

// Pairs lists src and joins the matching files by subject key.
func Pairs(ctx context.Context, src storage.Source, cfg config.DiscoveryConfig) ([]Pair, error) {
	locs, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src, err)
	}
	return Match(locs, cfg)
}

// Match is Pairs over an already listed directory.
func Match(locs []string, cfg config.DiscoveryConfig) ([]Pair, error) {
	keyRe, err := regexp.Compile(cfg.SubjectKey)
	if err != nil {
		return nil, fmt.Errorf("subject key: %w", err)
	}
	psgs, err := filter(locs, cfg.PSGPattern)
	if err != nil {
		return nil, err
	}
	hyps, err := filter(locs, cfg.HypnogramPattern)
	if err != nil {
		return nil, err
	}
	if len(psgs) == 0 || len(hyps) == 0 {
		return nil, fmt.Errorf("%w: %d files match %q, %d match %q",
			ErrNotFound, len(psgs), cfg.PSGPattern, len(hyps), cfg.HypnogramPattern)
	}
	if len(psgs) != len(hyps) {
		logging.Warn("discover_count_mismatch", map[string]any{"psg": len(psgs), "hypnogram": len(hyps)})
	}

	psgByKey, err := byKey(psgs, keyRe)
	if err != nil {
		return nil, err
	}
	hypByKey, err := byKey(hyps, keyRe)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	var unmatched []string
	for k, p := range psgByKey {
		h, ok := hypByKey[k]
		if !ok {
			unmatched = append(unmatched, util.Basename(p))
			continue
		}
		pairs = append(pairs, Pair{Key: k, PSG: p, Hypnogram: h})
	}
	for k, h := range hypByKey {
		if _, ok := psgByKey[k]; !ok {
			unmatched = append(unmatched, util.Basename(h))
		}
	}
	sort.Strings(unmatched)
	if len(unmatched) > 0 {
		if !cfg.AllowUnpaired {
			return nil, fmt.Errorf("%w: %v", ErrUnpaired, unmatched)
		}
		logging.Warn("discover_unpaired_dropped", map[string]any{"files": unmatched})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no file pairs share a subject key", ErrNotFound)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

func filter(locs []string, pattern string) ([]string, error) {
	var out []string
	for _, loc := range locs {
		ok, err := path.Match(pattern, util.Basename(loc))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, loc)
		}
	}
	sort.Strings(out)
	return out, nil
}

func byKey(locs []string, re *regexp.Regexp) (map[string]string, error) {
	m := make(map[string]string, len(locs))
	for _, loc := range locs {
		name := util.Basename(loc)
		sm := re.FindStringSubmatch(name)
		if len(sm) < 2 || sm[1] == "" {
			return nil, fmt.Errorf("%w: no subject key in %q", ErrUnpaired, name)
		}
		if prev, dup := m[sm[1]]; dup {
			return nil, fmt.Errorf("subject %s: both %q and %q match", sm[1], util.Basename(prev), name)
		}
		m[sm[1]] = loc
	}
	return m, nil
}
