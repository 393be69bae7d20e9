// Package sprites fetches and holds decoded sprite sheets.
//
// Sheets are located by the strings found in the catalog: http(s) URLs,
// file:// URLs or plain paths. A Fetcher returns the encoded bytes and a
// Store decodes each sheet once and then shares the decoded image read-only
// with every render task.
package sprites

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Fetcher returns the encoded bytes of a sheet.
type Fetcher interface {
	Fetch(ctx context.Context, loc string) ([]byte, error)
}

// FileFetcher reads sheets from the local filesystem. It accepts plain paths
// and file:// URLs.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, loc string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := loc
	if strings.HasPrefix(loc, "file://") {
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid file URL %q: %w", loc, err)
		}
		path = filepath.FromSlash(u.Path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	return data, nil
}

// HTTPFetcher downloads sheets with rate limiting, retries and an optional
// on-disk cache.
type HTTPFetcher struct {
	Client     *http.Client
	Limiter    *rate.Limiter
	CacheDir   string
	UserAgent  string
	MaxRetries int
	// Backoff is the base delay between attempts; attempt n waits n+1 times it.
	Backoff time.Duration
}

// NewHTTPFetcher returns a fetcher allowing rps requests per second with the
// given burst. An empty cacheDir disables the disk cache.
func NewHTTPFetcher(cacheDir string, rps float64, burst int, timeout time.Duration) (*HTTPFetcher, error) {
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sheet cache: %w", err)
		}
	}
	return &HTTPFetcher{
		Client:     &http.Client{Timeout: timeout},
		Limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		CacheDir:   cacheDir,
		UserAgent:  "photomosaic-mcp/1.0",
		MaxRetries: 3,
		Backoff:    250 * time.Millisecond,
	}, nil
}

func (f *HTTPFetcher) cachePath(u string) string {
	sum := sha1.Sum([]byte(u))
	id := hex.EncodeToString(sum[:])
	return filepath.Join(f.CacheDir, id[:2], id+".sheet")
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, loc string) ([]byte, error) {
	var cp string
	if f.CacheDir != "" {
		cp = f.cachePath(loc)
		if b, err := os.ReadFile(cp); err == nil {
			return b, nil
		}
	}

	retries := f.MaxRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.Backoff):
			}
		}
		if f.Limiter != nil {
			if err := f.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := f.get(ctx, loc)
		if err != nil {
			lastErr = err
			log.WithFields(log.Fields{"sheet": loc, "attempt": attempt + 1}).Debugf("sheet fetch failed: %v", err)
			continue
		}
		if cp != "" {
			f.store(cp, body)
		}
		return body, nil
	}
	return nil, lastErr
}

func (f *HTTPFetcher) get(ctx context.Context, loc string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet HTTP %d for %s", resp.StatusCode, loc)
	}
	return io.ReadAll(resp.Body)
}

// store writes through a temp file so a crashed write never leaves a
// truncated sheet behind. Cache failures are not fatal.
func (f *HTTPFetcher) store(cp string, body []byte) {
	if err := os.MkdirAll(filepath.Dir(cp), 0o755); err != nil {
		return
	}
	tmp := cp + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, cp)
}

// Defaults for the HTTP side of NewDefaultFetcher.
const (
	DefaultRequestsPerSecond = 8
	DefaultBurst             = 4
	DefaultTimeout           = 60 * time.Second
)

// NewDefaultFetcher returns the fetcher used by the binaries: rate limited
// HTTP with a disk cache under cacheDir, and the local filesystem for
// everything else.
func NewDefaultFetcher(cacheDir string) (MultiFetcher, error) {
	h, err := NewHTTPFetcher(cacheDir, DefaultRequestsPerSecond, DefaultBurst, DefaultTimeout)
	if err != nil {
		return MultiFetcher{}, err
	}
	return MultiFetcher{HTTP: h, File: FileFetcher{}}, nil
}

// MultiFetcher routes http and https locations to HTTP and everything else
// to File.
type MultiFetcher struct {
	HTTP Fetcher
	File Fetcher
}

// Fetch implements Fetcher.
func (m MultiFetcher) Fetch(ctx context.Context, loc string) ([]byte, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		if m.HTTP == nil {
			return nil, fmt.Errorf("no HTTP fetcher configured for %s", loc)
		}
		return m.HTTP.Fetch(ctx, loc)
	}
	if m.File == nil {
		return FileFetcher{}.Fetch(ctx, loc)
	}
	return m.File.Fetch(ctx, loc)
}
