package fetcher

import (
	"fmt"
	"net/http"
)

// BlockedError reports a URL that kept answering 403 until the retry budget ran out.
type BlockedError struct {
	URL      string
	Attempts int
	Retries  int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("403 Forbidden after %d retries", e.Retries)
}

// StatusError reports a non-2xx response that is not retried.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

// NetworkError wraps transport failures: timeouts, DNS, resets, browser crashes.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("%d", code)
}
