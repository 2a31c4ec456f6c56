// Package storage abstracts where recordings are read from and where the
// trained model is written to: a local directory or an HTTP(S) directory.
package storage

import (
	"context"
	"strings"
	"time"

	"sleepnet/internal/config"
)

// Source lists a directory of recordings and makes entries readable locally.
type Source interface {
	// List returns the location of every file directly inside the directory.
	List(ctx context.Context) ([]string, error)
	// Stage returns a local path holding the contents of loc. Remote sources
	// download into a staging file named after slot, overwriting whatever
	// the previous call left there.
	Stage(ctx context.Context, loc, slot string) (string, error)
	// String describes the source for log lines.
	String() string
}

// Sink stores artifacts under a directory.
type Sink interface {
	// Put writes data as name inside the directory and returns its location.
	Put(ctx context.Context, name string, data []byte) (string, error)
	String() string
}

// Options configure remote access.
type Options struct {
	StagingDir string
	HTTP       config.HTTPConfig
}

// OptionsFrom picks the storage-related settings out of cfg.
func OptionsFrom(cfg config.Config) Options {
	return Options{StagingDir: cfg.Storage.StagingDir, HTTP: cfg.HTTP}
}

// IsRemote reports whether uri names an HTTP(S) location.
func IsRemote(uri string) bool {
	u := strings.ToLower(uri)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// OpenSource returns the Source for uri.
func OpenSource(uri string, opts Options) (Source, error) {
	if IsRemote(uri) {
		return newHTTPDir(uri, opts)
	}
	return NewLocalDir(uri), nil
}

// OpenSink returns the Sink for uri.
func OpenSink(uri string, opts Options) (Sink, error) {
	if IsRemote(uri) {
		return newHTTPDir(uri, opts)
	}
	return NewLocalDir(uri), nil
}

func backoffFrom(h config.HTTPConfig) time.Duration {
	if h.BaseBackoffMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(h.BaseBackoffMS) * time.Millisecond
}
