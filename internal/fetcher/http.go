package fetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"
)

// HTTPOptions configures the plain HTTP fetcher.
type HTTPOptions struct {
	Timeout         time.Duration
	UserAgent       string   // fixed user agent, disables rotation
	UserAgents      []string // rotation pool
	BrowserAgent    string   // browser family used when the pool is empty
	FollowRedirects bool
	MaxRedirects    int
	ProxyURL        string
	MaxBodyBytes    int64
	Headers         map[string]string
	Cookies         CookieSource
	Rand            *rand.Rand
	Logger          logrus.FieldLogger
}

// HTTPFetcher fetches documents with net/http and headers that resemble a desktop browser.
type HTTPFetcher struct {
	client          *http.Client
	userAgent       string
	browserAgent    string
	userAgentSelect *UserAgentSelector
	headers         map[string]string
	maxBodyBytes    int64
	cookies         CookieSource
	logger          logrus.FieldLogger
}

func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	follow := opts.FollowRedirects
	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPFetcher{
		client:          client,
		userAgent:       strings.TrimSpace(opts.UserAgent),
		browserAgent:    opts.BrowserAgent,
		userAgentSelect: NewUserAgentSelector(opts.UserAgents, opts.Rand),
		headers:         headers,
		maxBodyBytes:    opts.MaxBodyBytes,
		cookies:         opts.Cookies,
		logger:          opts.Logger,
	}, nil
}

func (hf *HTTPFetcher) Fetch(ctx context.Context, fr FetchRequest) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.URL, nil)
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	userAgent := hf.userAgent
	if userAgent == "" {
		userAgent = hf.userAgentSelect.GetUserAgent(hf.browserAgent)
	}
	req.Header.Set("User-Agent", userAgent)

	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("DNT", "1")
	for k, v := range hf.headers {
		req.Header.Set(k, v)
	}

	if hf.cookies != nil {
		cookies, err := hf.cookies.Cookies(fr.URL)
		if err != nil && hf.logger != nil {
			// cookies are best effort
			hf.logger.WithError(err).WithField("url", fr.URL).Debug("cookie lookup failed")
		}
		for _, cookie := range cookies {
			req.AddCookie(cookie)
		}
	}

	start := time.Now()
	resp, err := hf.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: err}
	}

	body, err := hf.readBody(resp)
	if err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, &NetworkError{URL: fr.URL, Err: err}
		}
		// the status alone decides what happens to an error response
		if hf.logger != nil {
			hf.logger.WithError(err).WithFields(logrus.Fields{"url": fr.URL, "status": resp.StatusCode}).Debug("discarding unreadable error body")
		}
		body = nil
	}

	finalURL := fr.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResult{
		URL:        fr.URL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Rendered:   false,
		UserAgent:  userAgent,
		Latency:    time.Since(start),
	}, nil
}

func (hf *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	raw := bufio.NewReader(resp.Body)
	reader := io.Reader(raw)
	closers := []io.Closer{resp.Body}

	// An empty body carries no compressed stream, whatever Content-Encoding says.
	if _, err := raw.Peek(1); err == io.EOF {
		resp.Body.Close()
		return []byte{}, nil
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(raw)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(raw)
	case "deflate":
		fl := flate.NewReader(raw)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, hf.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > hf.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", hf.maxBodyBytes)
	}
	return body, nil
}

// Client exposes the underlying HTTP client for reuse (robots.txt fetches).
func (hf *HTTPFetcher) Client() *http.Client {
	return hf.client
}
