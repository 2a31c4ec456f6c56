package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
)

// LocalDir is a directory on the local filesystem.
type LocalDir struct{ dir string }

func NewLocalDir(dir string) *LocalDir { return &LocalDir{dir: dir} }

func (l *LocalDir) String() string { return l.dir }

func (l *LocalDir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() || e.Type()&os.ModeSymlink != 0 {
			out = append(out, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stage returns loc itself; local files need no copy.
func (l *LocalDir) Stage(ctx context.Context, loc, slot string) (string, error) {
	if _, err := os.Stat(loc); err != nil {
		return "", err
	}
	return loc, nil
}

// Put writes through a temp file and renames it into place.
func (l *LocalDir) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(l.dir, name)
	tmp, err := os.CreateTemp(l.dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}
