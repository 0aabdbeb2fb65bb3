package fetcher

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteowlz/visitdur/internal/config"
	"github.com/byteowlz/visitdur/internal/logging"
)

// stubFetcher answers from a fixed list of statuses, repeating the last one.
type stubFetcher struct {
	statuses []int
	body     string
	err      error
	requests []FetchRequest
}

func (s *stubFetcher) Fetch(_ context.Context, req FetchRequest) (*FetchResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.requests) - 1
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	return &FetchResult{URL: req.URL, StatusCode: s.statuses[i], Body: []byte(s.body)}, nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

type recordingDebug struct {
	saved []string
}

func (r *recordingDebug) SaveDocument(url string, body []byte) error {
	r.saved = append(r.saved, url+"|"+string(body))
	return nil
}

func newTestRetrier(f Fetcher, sleeper *recordingSleeper, debug DebugSink) *Retrier {
	return NewRetrier(f, RetrierOptions{
		Policy: RetryPolicy{MaxRetries: 3, Backoff: 10 * time.Second},
		Debug:  debug,
		Sleep:  sleeper.Sleep,
		Rand:   rand.New(rand.NewSource(1)),
		Logger: logging.Discard(),
	})
}

func TestFetchWithRetry_Success(t *testing.T) {
	stub := &stubFetcher{statuses: []int{200}, body: "<h1>ok</h1>"}
	sleeper := &recordingSleeper{}

	result, err := newTestRetrier(stub, sleeper, nil).FetchWithRetry(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "<h1>ok</h1>", result.HTML())
	require.Len(t, stub.requests, 1)
	assert.Equal(t, 1, stub.requests[0].Attempt)
	assert.Equal(t, 4, stub.requests[0].MaxAttempts)
	assert.Empty(t, sleeper.waits)
}

func TestFetchWithRetry_BackoffThenSuccess(t *testing.T) {
	tests := []struct {
		name      string
		forbidden int
		waits     []time.Duration
	}{
		{"one 403", 1, []time.Duration{10 * time.Second}},
		{"two 403s", 2, []time.Duration{10 * time.Second, 20 * time.Second}},
		{"three 403s", 3, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statuses := make([]int, 0, tt.forbidden+1)
			for i := 0; i < tt.forbidden; i++ {
				statuses = append(statuses, http.StatusForbidden)
			}
			statuses = append(statuses, http.StatusOK)

			stub := &stubFetcher{statuses: statuses, body: "page"}
			sleeper := &recordingSleeper{}

			result, err := newTestRetrier(stub, sleeper, nil).FetchWithRetry(context.Background(), "https://example.com/a")
			require.NoError(t, err)
			assert.Equal(t, 200, result.StatusCode)
			assert.Len(t, stub.requests, tt.forbidden+1)
			assert.Equal(t, tt.waits, sleeper.waits)
			for i, req := range stub.requests {
				assert.Equal(t, i+1, req.Attempt)
			}
		})
	}
}

func TestFetchWithRetry_Blocked(t *testing.T) {
	stub := &stubFetcher{statuses: []int{http.StatusForbidden}}
	sleeper := &recordingSleeper{}

	_, err := newTestRetrier(stub, sleeper, nil).FetchWithRetry(context.Background(), "https://example.com/a")
	require.Error(t, err)

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 4, blocked.Attempts)
	assert.Equal(t, 3, blocked.Retries)
	assert.Equal(t, "403 Forbidden after 3 retries", blocked.Error())
	assert.Len(t, stub.requests, 4)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, sleeper.waits)
}

func TestFetchWithRetry_ZeroRetries(t *testing.T) {
	stub := &stubFetcher{statuses: []int{http.StatusForbidden}}
	sleeper := &recordingSleeper{}

	r := NewRetrier(stub, RetrierOptions{
		Policy: RetryPolicy{MaxRetries: 0, Backoff: 10 * time.Second},
		Sleep:  sleeper.Sleep,
		Logger: logging.Discard(),
	})
	_, err := r.FetchWithRetry(context.Background(), "https://example.com/a")

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Len(t, stub.requests, 1)
	assert.Empty(t, sleeper.waits)
}

func TestFetchWithRetry_OtherStatusNotRetried(t *testing.T) {
	for _, code := range []int{404, 429, 500, 503} {
		stub := &stubFetcher{statuses: []int{code}}
		sleeper := &recordingSleeper{}

		_, err := newTestRetrier(stub, sleeper, nil).FetchWithRetry(context.Background(), "https://example.com/a")

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr, "status %d", code)
		assert.Equal(t, code, statusErr.Code)
		assert.Equal(t, statusText(code), statusErr.Error())
		assert.Len(t, stub.requests, 1)
	}
}

func TestFetchWithRetry_NetworkErrorNotRetried(t *testing.T) {
	stub := &stubFetcher{err: errors.New("connection reset by peer")}
	sleeper := &recordingSleeper{}

	_, err := newTestRetrier(stub, sleeper, nil).FetchWithRetry(context.Background(), "https://example.com/a")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, netErr.Error(), "connection reset by peer")
	assert.Len(t, stub.requests, 1)
}

func TestFetchWithRetry_DebugSavedOnFirstAttemptOnly(t *testing.T) {
	stub := &stubFetcher{statuses: []int{403, 403, 200}, body: "body"}
	debug := &recordingDebug{}

	_, err := newTestRetrier(stub, &recordingSleeper{}, debug).FetchWithRetry(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a|body"}, debug.saved)
}

func TestFetchWithRetry_DebugSkipsEmptyBody(t *testing.T) {
	stub := &stubFetcher{statuses: []int{200}}
	debug := &recordingDebug{}

	_, err := newTestRetrier(stub, &recordingSleeper{}, debug).FetchWithRetry(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Empty(t, debug.saved)
}

func TestFetchWithRetry_PreRequestDelay(t *testing.T) {
	stub := &stubFetcher{statuses: []int{200}}
	sleeper := &recordingSleeper{}

	r := NewRetrier(stub, RetrierOptions{
		Policy: RetryPolicy{
			MaxRetries:      3,
			Backoff:         10 * time.Second,
			PreRequestDelay: config.Range{Min: 2 * time.Second, Max: 5 * time.Second},
		},
		Sleep:  sleeper.Sleep,
		Rand:   rand.New(rand.NewSource(7)),
		Logger: logging.Discard(),
	})
	_, err := r.FetchWithRetry(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	require.Len(t, sleeper.waits, 1)
	assert.GreaterOrEqual(t, sleeper.waits[0], 2*time.Second)
	assert.LessOrEqual(t, sleeper.waits[0], 5*time.Second)
}

func TestFetchWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	stub := &stubFetcher{statuses: []int{http.StatusForbidden}}
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRetrier(stub, RetrierOptions{
		Policy: RetryPolicy{MaxRetries: 3, Backoff: 10 * time.Second},
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
		Logger: logging.Discard(),
	})
	_, err := r.FetchWithRetry(ctx, "https://example.com/a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, stub.requests, 1)
}

func TestNewRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(config.Default().Retry)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 10*time.Second, p.Backoff)
	assert.Equal(t, 2*time.Second, p.PreRequestDelay.Min)
	assert.Equal(t, 5*time.Second, p.PreRequestDelay.Max)
}
