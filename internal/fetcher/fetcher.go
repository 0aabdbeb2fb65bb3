package fetcher

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// FetchRequest is a single attempt at a URL. Attempt is 1-based.
type FetchRequest struct {
	URL         string
	Attempt     int
	MaxAttempts int
}

// FetchResult is the raw document of one attempt. StatusCode is the HTTP status of the
// main document; rendered results report the navigation response.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Rendered   bool
	UserAgent  string
	Latency    time.Duration
}

func (r *FetchResult) HTML() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

func (r *FetchResult) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *FetchResult) Blocked() bool {
	return r != nil && r.StatusCode == http.StatusForbidden
}

// Fetcher retrieves one document. Implementations return a result for every HTTP
// status and reserve errors for transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// CookieSource supplies cookies for a target URL, typically read from a local browser.
type CookieSource interface {
	Cookies(targetURL string) ([]*http.Cookie, error)
}

// Fallback fetches through primary and, when primary is blocked, retries the same
// attempt once through secondary (usually a real browser).
type Fallback struct {
	primary   Fetcher
	secondary Fetcher
	logger    logrus.FieldLogger
}

func NewFallback(primary, secondary Fetcher, logger logrus.FieldLogger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	result, err := f.primary.Fetch(ctx, req)
	if f.secondary == nil {
		return result, err
	}

	var netErr *NetworkError
	switch {
	case err != nil && !errors.As(err, &netErr):
		return nil, err
	case err == nil && !result.Blocked():
		return result, nil
	}

	if f.logger != nil {
		f.logger.WithFields(logrus.Fields{
			"url":     req.URL,
			"attempt": req.Attempt,
		}).Warn("static fetch blocked, retrying in browser")
	}

	rendered, renderErr := f.secondary.Fetch(ctx, req)
	if renderErr != nil {
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return rendered, nil
}

func (f *Fallback) Close() error {
	return errors.Join(closeFetcher(f.primary), closeFetcher(f.secondary))
}

// Close releases fetcher resources (browser processes) when the fetcher holds any.
func Close(f Fetcher) error {
	return closeFetcher(f)
}

func closeFetcher(f Fetcher) error {
	if c, ok := f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RandomDuration draws uniformly from [min, max].
func RandomDuration(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}

// NewRand seeds a generator from the clock.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
