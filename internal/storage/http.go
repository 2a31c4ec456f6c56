package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sleepnet/internal/metrics"
)

// HTTPDir is a remote directory served over HTTP(S). Listing parses the
// hrefs of an autoindex page (as PhysioNet and most static servers emit);
// uploads use PUT.
type HTTPDir struct {
	base        *url.URL
	token       string
	stagingDir  string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func newHTTPDir(uri string, opts Options) (*HTTPDir, error) {
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", uri, err)
	}
	staging := opts.StagingDir
	if staging == "" {
		staging = os.TempDir()
	}
	attempts := opts.HTTP.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &HTTPDir{
		base:        u,
		token:       opts.HTTP.Token,
		stagingDir:  staging,
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		limiter:     newLimiter(opts.HTTP),
		maxAttempts: attempts,
		baseBackoff: backoffFrom(opts.HTTP),
	}, nil
}

func (d *HTTPDir) String() string { return d.base.String() }

func (d *HTTPDir) auth(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}

var hrefRe = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#?]+)["']`)

// List fetches the directory page and returns the absolute URLs of the files
// directly below it. Subdirectories and links leaving the directory are
// ignored.
func (d *HTTPDir) List(ctx context.Context) ([]string, error) {
	body, err := d.get(ctx, "list", d.base.String())
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range hrefRe.FindAllSubmatch(body, -1) {
		ref, err := url.Parse(string(m[1]))
		if err != nil {
			continue
		}
		abs := d.base.ResolveReference(ref)
		if abs.Host != d.base.Host || !strings.HasPrefix(abs.Path, d.base.Path) {
			continue
		}
		rest := strings.TrimPrefix(abs.Path, d.base.Path)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		s := abs.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stage downloads loc into <stagingDir>/sleepnet-<slot>, replacing any
// previous download for the same slot.
func (d *HTTPDir) Stage(ctx context.Context, loc, slot string) (string, error) {
	body, err := d.get(ctx, "fetch", loc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.stagingDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(d.stagingDir, "sleepnet-"+slot)
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// Put uploads data to <base>/<name>.
func (d *HTTPDir) Put(ctx context.Context, name string, data []byte) (string, error) {
	target := d.base.ResolveReference(&url.URL{Path: name}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	d.auth(req)
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := d.doWithRetry(ctx, "put", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("put %s: status %d", target, resp.StatusCode)
	}
	return target, nil
}

func (d *HTTPDir) get(ctx context.Context, op, loc string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, err
	}
	d.auth(req)
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := d.doWithRetry(ctx, op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("get %s: status %d", loc, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *HTTPDir) doWithRetry(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	backoff := d.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		if attempt > 1 {
			metrics.IncHTTPRetry(op)
		}
		resp, err := d.httpClient.Do(r)
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				ra := resp.Header.Get("Retry-After")
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
				if attempt == d.maxAttempts {
					break
				}
				wait := backoff
				if ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					} else if t, err := http.ParseTime(ra); err == nil {
						if until := time.Until(t); until > 0 {
							wait = until
						}
					}
				}
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %v", op, req.URL, d.maxAttempts, lastErr)
}
