package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sleepnet/internal/config"
)

const index = `<html><body>
<a href="../">Parent Directory</a>
<a href="SC4001E0-PSG.edf">SC4001E0-PSG.edf</a>
<a href="SC4001EC-Hypnogram.edf">SC4001EC-Hypnogram.edf</a>
<a href="SC4001E0-PSG.edf">duplicate</a>
<a href="sub/">sub/</a>
<a href="https://elsewhere.example/x.edf">offsite</a>
<a href="?C=M;O=A">sort</a>
</body></html>`

func testOptions(t *testing.T) Options {
	return Options{StagingDir: t.TempDir(), HTTP: config.HTTPConfig{RPS: 1000, Burst: 1000, MaxAttempts: 3, BaseBackoffMS: 1}}
}

func TestHTTPDirListAndStage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/":
			_, _ = io.WriteString(w, index)
		case "/data/SC4001E0-PSG.edf":
			_, _ = io.WriteString(w, "psg-bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	src, err := OpenSource(ts.URL+"/data", testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	got, err := src.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !strings.HasSuffix(got[0], "/data/SC4001E0-PSG.edf") {
		t.Fatalf("list %v", got)
	}
	p, err := src.Stage(ctx, got[0], "psg.edf")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "psg-bytes" {
		t.Fatalf("staged %q", b)
	}
	if _, err := src.Stage(ctx, ts.URL+"/data/missing.edf", "psg.edf"); err == nil {
		t.Fatalf("expected 404 error")
	}
}

func TestHTTPDirRetriesAndPut(t *testing.T) {
	attempts := 0
	var stored string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.Method != http.MethodPut || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(r.Body)
		stored = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	opts := testOptions(t)
	opts.HTTP.Token = "secret"
	sink, err := OpenSink(ts.URL+"/models/", opts)
	if err != nil {
		t.Fatal(err)
	}
	loc, err := sink.Put(context.Background(), "sleep_model.json", []byte("weights"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts < 2 || stored != "weights" || !strings.HasSuffix(loc, "/models/sleep_model.json") {
		t.Fatalf("attempts=%d stored=%q loc=%s", attempts, stored, loc)
	}
}

func TestHTTPDirGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()
	src, _ := OpenSource(ts.URL, testOptions(t))
	if _, err := src.List(context.Background()); err == nil {
		t.Fatalf("expected failure after retries")
	}
}

func TestHTTPDirNoWaitAfterLastAttempt(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	opts := testOptions(t)
	opts.HTTP.MaxAttempts = 1
	src, _ := OpenSource(ts.URL, opts)
	start := time.Now()
	_, err := src.List(context.Background())
	if err == nil || !strings.Contains(err.Error(), "after 1 attempts") {
		t.Fatalf("expected give-up error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("waited %v after the final attempt", elapsed)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls %d", n)
	}
}
