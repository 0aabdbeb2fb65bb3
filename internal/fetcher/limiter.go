package fetcher

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter keeps a minimum spacing between requests to the same host and, when
// configured, a token bucket per host on top of it.
type HostLimiter struct {
	interval time.Duration
	requests int
	window   time.Duration
	sleep    SleepFunc
	now      func() time.Time

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter. requests/window <= 0 disables the token bucket.
func NewHostLimiter(interval time.Duration, requests int, window time.Duration) *HostLimiter {
	return &HostLimiter{
		interval: interval,
		requests: requests,
		window:   window,
		sleep:    Sleep,
		now:      time.Now,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetSleep replaces the sleeper used for the minimum host spacing.
func (h *HostLimiter) SetSleep(sleep SleepFunc) {
	if sleep != nil {
		h.sleep = sleep
	}
}

// Wait blocks until a request to rawURL's host is allowed.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil {
		return nil
	}
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	var rest time.Duration
	var limiter *rate.Limiter

	h.mu.Lock()
	if h.interval > 0 {
		if last, ok := h.last[host]; ok {
			rest = last.Add(h.interval).Sub(h.now())
		}
	}
	if h.requests > 0 && h.window > 0 {
		limiter = h.ensureLimiterLocked(host)
	}
	h.mu.Unlock()

	if rest > 0 {
		if err := h.sleep(ctx, rest); err != nil {
			return err
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.last[host] = h.now()
	h.mu.Unlock()
	return nil
}

func (h *HostLimiter) ensureLimiterLocked(host string) *rate.Limiter {
	if limiter, ok := h.limiters[host]; ok {
		return limiter
	}
	interval := h.window / time.Duration(h.requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), h.requests)
	h.limiters[host] = limiter
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
