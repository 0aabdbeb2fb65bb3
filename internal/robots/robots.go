package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/byteowlz/visitdur/internal/config"
)

const maxRobotsBytes = 512 * 1024

// Agent answers robots.txt questions for attraction URLs, caching rules per host.
// A robots.txt that is missing, unreachable or broken allows everything.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData // nil allows everything
}

func NewAgent(cfg config.RobotsConfig, client *http.Client, logger logrus.FieldLogger) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "*"
	}

	return &Agent{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
}

// Allowed reports whether rawURL may be fetched. Only context cancellation is an error.
func (a *Agent) Allowed(ctx context.Context, rawURL string) (bool, error) {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		// the fetcher reports malformed URLs
		return true, nil
	}

	rules, err := a.rules(ctx, target)
	if err != nil {
		return false, err
	}
	if rules == nil {
		return true, nil
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return rules.TestAgent(path, a.userAgent), nil
}

func (a *Agent) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	a.mu.Lock()
	entry, ok := a.cache[host]
	a.mu.Unlock()
	if ok && a.now().Sub(entry.fetched) < a.ttl {
		return entry.rules, nil
	}

	rules, err := a.fetch(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.WithError(err).WithField("host", host).Debug("robots.txt unavailable, allowing")
		rules = nil
	}

	a.mu.Lock()
	a.cache[host] = cacheEntry{fetched: a.now(), rules: rules}
	a.mu.Unlock()
	return rules, nil
}

func (a *Agent) fetch(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "*" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
