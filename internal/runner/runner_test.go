package runner

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteowlz/visitdur/internal/config"
	"github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/fetcher"
	"github.com/byteowlz/visitdur/internal/logging"
)

// mapFetcher serves canned pages or errors by URL.
type mapFetcher struct {
	pages  map[string]string
	errs   map[string]error
	called []string
}

func (m *mapFetcher) FetchWithRetry(_ context.Context, url string) (*fetcher.FetchResult, error) {
	m.called = append(m.called, url)
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	return &fetcher.FetchResult{URL: url, StatusCode: 200, Body: []byte(m.pages[url])}, nil
}

type denyRobots map[string]bool

func (d denyRobots) Allowed(_ context.Context, url string) (bool, error) {
	return !d[url], nil
}

type failingExtractor struct{}

func (failingExtractor) Extract(doc extractor.Document) (extractor.Result, error) {
	return extractor.Result{}, &extractor.ParseError{URL: doc.URL, Err: errors.New("unexpected markup")}
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newTestRunner(f Fetcher, sleeper *sleepRecorder, robots RobotsChecker) *Runner {
	return New(Options{
		Fetcher:           f,
		Extractor:         extractor.New(extractor.Options{Logger: logging.Discard()}),
		Robots:            robots,
		InterRequestDelay: config.Range{Min: 5 * time.Second, Max: 10 * time.Second},
		Sleep:             sleeper.Sleep,
		Rand:              rand.New(rand.NewSource(1)),
		Logger:            logging.Discard(),
	})
}

func TestRun_OneOutcomePerURLInOrder(t *testing.T) {
	urls := []string{
		"https://example.com/vasa",
		"https://example.com/blocked",
		"https://example.com/skansen",
		"https://example.com/missing",
		"https://example.com/down",
		"https://example.com/abba",
	}
	f := &mapFetcher{
		pages: map[string]string{
			"https://example.com/vasa":    `<h1>Vasa Museum</h1><div class="duration">2-3 hours</div>`,
			"https://example.com/skansen": `<h1>Skansen</h1><p>Suggested duration: 45 minutes</p>`,
			"https://example.com/abba":    `<h1>ABBA The Museum</h1><p>Fun for fans.</p>`,
		},
		errs: map[string]error{
			"https://example.com/blocked": &fetcher.BlockedError{URL: "https://example.com/blocked", Attempts: 4, Retries: 3},
			"https://example.com/missing": &fetcher.StatusError{URL: "https://example.com/missing", Code: 404, Status: "404 Not Found"},
			"https://example.com/down":    &fetcher.NetworkError{URL: "https://example.com/down", Err: errors.New("connection refused")},
		},
	}
	sleeper := &sleepRecorder{}

	run, err := newTestRunner(f, sleeper, nil).Run(context.Background(), urls)
	require.NoError(t, err)

	want := []extractor.Outcome{
		{Name: "Vasa Museum", URL: urls[0], Duration: "2-3 hours", Success: true},
		{Name: extractor.NameRequestFailed, URL: urls[1], Duration: "HTTP Error: 403 Forbidden after 3 retries"},
		{Name: "Skansen", URL: urls[2], Duration: "45 minutes", Success: true},
		{Name: extractor.NameRequestFailed, URL: urls[3], Duration: "HTTP Error: 404 Not Found"},
		{Name: extractor.NameRequestFailed, URL: urls[4], Duration: "Request failed: connection refused"},
		{Name: "ABBA The Museum", URL: urls[5], Duration: extractor.DurationNotFound},
	}
	assert.Equal(t, want, run.Outcomes)
	assert.Equal(t, urls, f.called)
	assert.Equal(t, 2, run.Succeeded())
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestRun_DelaysBetweenURLsOnly(t *testing.T) {
	tests := []struct {
		urls  int
		waits int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{5, 4},
	}

	for _, tt := range tests {
		urls := make([]string, tt.urls)
		for i := range urls {
			urls[i] = "https://example.com/" + string(rune('a'+i))
		}
		sleeper := &sleepRecorder{}

		run, err := newTestRunner(&mapFetcher{}, sleeper, nil).Run(context.Background(), urls)
		require.NoError(t, err)
		assert.Len(t, run.Outcomes, tt.urls)
		require.Len(t, sleeper.waits, tt.waits)
		for _, w := range sleeper.waits {
			assert.GreaterOrEqual(t, w, 5*time.Second)
			assert.LessOrEqual(t, w, 10*time.Second)
		}
	}
}

func TestRun_RobotsDisallowed(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{"https://example.com/ok": `<h1>OK</h1>`}}
	robots := denyRobots{"https://example.com/private": true}

	run, err := newTestRunner(f, &sleepRecorder{}, robots).Run(context.Background(), []string{"https://example.com/private", "https://example.com/ok"})
	require.NoError(t, err)

	assert.Equal(t, extractor.Outcome{
		Name:     extractor.NameDisallowed,
		URL:      "https://example.com/private",
		Duration: "Disallowed by robots.txt",
	}, run.Outcomes[0])
	assert.Equal(t, []string{"https://example.com/ok"}, f.called)
}

func TestRun_ParseErrorBecomesOutcome(t *testing.T) {
	r := New(Options{
		Fetcher:   &mapFetcher{},
		Extractor: failingExtractor{},
		Sleep:     (&sleepRecorder{}).Sleep,
		Logger:    logging.Discard(),
	})

	run, err := r.Run(context.Background(), []string{"https://example.com/x"})
	require.NoError(t, err)
	assert.Equal(t, extractor.Outcome{
		Name:     extractor.NameError,
		URL:      "https://example.com/x",
		Duration: "Parse failed: unexpected markup",
	}, run.Outcomes[0])
}

func TestRun_CancelledKeepsPartialOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	urls := []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}

	r := New(Options{
		Fetcher:           &mapFetcher{},
		Extractor:         extractor.New(extractor.Options{Logger: logging.Discard()}),
		InterRequestDelay: config.Range{Min: time.Second, Max: time.Second},
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
		Logger: logging.Discard(),
	})

	run, err := r.Run(ctx, urls)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Len(t, run.Outcomes, 1)
}

func TestRun_OnOutcome(t *testing.T) {
	var seen []int
	r := New(Options{
		Fetcher:   &mapFetcher{},
		Extractor: extractor.New(extractor.Options{Logger: logging.Discard()}),
		Sleep:     (&sleepRecorder{}).Sleep,
		Logger:    logging.Discard(),
		OnOutcome: func(i int, _ extractor.Outcome) { seen = append(seen, i) },
	})

	_, err := r.Run(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestFailedOutcome(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantName string
		wantDur  string
	}{
		{
			name:     "blocked",
			err:      &fetcher.BlockedError{Retries: 5},
			wantName: extractor.NameRequestFailed,
			wantDur:  "HTTP Error: 403 Forbidden after 5 retries",
		},
		{
			name:     "status without text",
			err:      &fetcher.StatusError{Code: 503},
			wantName: extractor.NameRequestFailed,
			wantDur:  "HTTP Error: 503 Service Unavailable",
		},
		{
			name:     "wrapped network error",
			err:      fmtErr(&fetcher.NetworkError{URL: "u", Err: errors.New("i/o timeout")}),
			wantName: extractor.NameRequestFailed,
			wantDur:  "Request failed: i/o timeout",
		},
		{
			name:     "unknown error",
			err:      errors.New("boom"),
			wantName: extractor.NameError,
			wantDur:  "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := FailedOutcome("u", tt.err)
			assert.Equal(t, tt.wantName, o.Name)
			assert.Equal(t, tt.wantDur, o.Duration)
			assert.False(t, o.Success)
			assert.Equal(t, "u", o.URL)
		})
	}
}

func fmtErr(err error) error {
	return errors.Join(errors.New("fetch"), err)
}
