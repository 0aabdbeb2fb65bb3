package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultReaderBaseURL = "https://r.jina.ai/"
	defaultMaxBodyBytes  = 8 * 1024 * 1024
)

// ReaderFetcher fetches pages through a hosted reader proxy (r.jina.ai) that renders
// JavaScript server-side and hands back the resulting HTML.
type ReaderFetcher struct {
	BaseURL      string
	APIKey       string // optional, raises rate limits
	Timeout      time.Duration
	MaxBodyBytes int64 // same cap as network.max_body_bytes
	client       *http.Client
}

func NewReaderFetcher(baseURL, apiKey string, timeout time.Duration) *ReaderFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultReaderBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &ReaderFetcher{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Timeout:      timeout,
		MaxBodyBytes: defaultMaxBodyBytes,
		client:       &http.Client{Timeout: timeout},
	}
}

// Fetch returns the proxy's status code unchanged, so a 403 from the reader feeds the
// same backoff as a 403 from the origin.
func (rf *ReaderFetcher) Fetch(ctx context.Context, fr FetchRequest) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rf.BaseURL+fr.URL, nil)
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("reader: failed to create request: %w", err)}
	}

	req.Header.Set("X-Return-Format", "html")
	req.Header.Set("Accept", "text/html")
	if rf.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+rf.APIKey)
	}

	start := time.Now()
	resp, err := rf.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("reader: request failed: %w", err)}
	}
	defer resp.Body.Close()

	limit := rf.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("reader: failed to read response: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("reader: response body exceeds limit of %d bytes", limit)}
	}

	return &FetchResult{
		URL:        fr.URL,
		FinalURL:   fr.URL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Rendered:   true,
		Latency:    time.Since(start),
	}, nil
}
