package extractor

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteowlz/visitdur/internal/config"
	core "github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/logging"
)

const vasaPage = `<html><head><title>Vasa Museum - Stockholm</title>
<script type="application/ld+json">{"@type":"TouristAttraction","name":"Vasa Museum","timeRequired":"PT2H"}</script>
</head><body>
<h1>Vasa Museum</h1>
<article><p>The only preserved seventeenth-century ship in the world, salvaged in 1961 after
333 years on the seabed. Most visitors spend a morning here.</p>
<div class="duration">2-3 hours</div></article>
</body></html>`

type waitLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *waitLog) sleep(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/vasa", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(vasaPage))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(vasaPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.MaxRetries = 2
	cfg.Retry.PreRequestDelay = config.Range{}
	cfg.Batch.InterRequestDelay = config.Range{Min: time.Second, Max: time.Second}
	cfg.Batch.MinHostInterval = 0
	cfg.Debug.Enabled = false
	cfg.Robots.Respect = true
	return cfg
}

func TestExtractor_Run(t *testing.T) {
	srv := newTestServer(t)
	waits := &waitLog{}

	e, err := New(testConfig(), logging.Discard(), WithSleep(waits.sleep), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	defer e.Close()

	urls := []string{srv.URL + "/vasa", srv.URL + "/blocked", srv.URL + "/missing", srv.URL + "/private"}

	var seen []int
	run, err := e.Run(context.Background(), urls, func(i int, _ core.Outcome) {
		seen = append(seen, i)
	})
	require.NoError(t, err)
	require.Len(t, run.Outcomes, len(urls))
	assert.Equal(t, []int{0, 1, 2, 3}, seen)

	assert.Equal(t, core.Outcome{Name: "Vasa Museum", URL: urls[0], Duration: "2-3 hours", Success: true}, run.Outcomes[0])

	assert.Equal(t, core.NameRequestFailed, run.Outcomes[1].Name)
	assert.Equal(t, "HTTP Error: 403 Forbidden after 2 retries", run.Outcomes[1].Duration)

	assert.Equal(t, core.NameRequestFailed, run.Outcomes[2].Name)
	assert.Contains(t, run.Outcomes[2].Duration, "404")

	assert.Equal(t, core.NameDisallowed, run.Outcomes[3].Name)
	assert.False(t, run.Outcomes[3].Success)

	assert.Equal(t, 1, run.Succeeded())
	assert.Contains(t, waits.waits, 10*time.Second)
	assert.Contains(t, waits.waits, 20*time.Second)
	assert.Contains(t, waits.waits, time.Second)
}

func TestExtractor_Inspect(t *testing.T) {
	srv := newTestServer(t)
	cfg := testConfig()
	cfg.Robots.Respect = false

	e, err := New(cfg, logging.Discard(), WithSleep((&waitLog{}).sleep))
	require.NoError(t, err)
	defer e.Close()

	t.Run("saved file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "debug_page.html")
		require.NoError(t, os.WriteFile(path, []byte(vasaPage), 0644))

		in, err := e.Inspect(context.Background(), path, InspectOptions{Markdown: true})
		require.NoError(t, err)

		assert.Equal(t, "markers", in.Result.Strategy)
		assert.Equal(t, "2-3 hours", in.Result.Duration)
		assert.Equal(t, []string{"markers", "keywords", "fulltext"}, in.Strategies)
		assert.Zero(t, in.StatusCode)
		require.NotNil(t, in.Summary)
		assert.NotEmpty(t, in.Summary.Title)
		require.Len(t, in.JSONLD, 1)
		assert.Contains(t, in.JSONLD[0], "PT2H")
		assert.Contains(t, in.Markdown, "Vasa Museum")
	})

	t.Run("fetched url", func(t *testing.T) {
		in, err := e.Inspect(context.Background(), srv.URL+"/vasa", InspectOptions{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, in.StatusCode)
		assert.True(t, in.Result.Success)
		assert.Empty(t, in.Markdown)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := e.Inspect(context.Background(), filepath.Join(t.TempDir(), "nope.html"), InspectOptions{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"unknown engine", func(c *config.Config) { c.Fetch.Engine = "lynx" }},
		{"unknown cookie browser", func(c *config.Config) { c.Browser.CookiesFrom = "netscape" }},
		{"negative retries", func(c *config.Config) { c.Retry.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			_, err := New(cfg, logging.Discard())
			assert.Error(t, err)
		})
	}
}

func TestNew_Engines(t *testing.T) {
	for _, engine := range []string{config.EngineHTTP, config.EngineChromedp, config.EngineRod, config.EngineReader} {
		t.Run(engine, func(t *testing.T) {
			cfg := testConfig()
			cfg.Fetch.Engine = engine
			e, err := New(cfg, logging.Discard())
			require.NoError(t, err)
			assert.NoError(t, e.Close())
		})
	}
}

func TestExtractor_HostSpacingUsesInjectedSleeper(t *testing.T) {
	srv := newTestServer(t)
	cfg := testConfig()
	cfg.Robots.Respect = false
	cfg.Batch.InterRequestDelay = config.Range{}
	cfg.Batch.MinHostInterval = time.Hour
	waits := &waitLog{}

	e, err := New(cfg, logging.Discard(), WithSleep(waits.sleep))
	require.NoError(t, err)
	defer e.Close()

	run, err := e.Run(context.Background(), []string{srv.URL + "/vasa", srv.URL + "/vasa"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Succeeded())

	require.Len(t, waits.waits, 1)
	assert.Greater(t, waits.waits[0], 59*time.Minute)
	assert.LessOrEqual(t, waits.waits[0], time.Hour)
}

func TestExtractor_RobotsShareFetcherClient(t *testing.T) {
	var robotsHits atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		w.Write([]byte(vasaPage))
	}))
	defer proxy.Close()

	cfg := testConfig()
	cfg.Network.ProxyURL = proxy.URL

	e, err := New(cfg, logging.Discard(), WithSleep((&waitLog{}).sleep))
	require.NoError(t, err)
	defer e.Close()

	run, err := e.Run(context.Background(), []string{"http://attractions.invalid/vasa"}, nil)
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, core.NameDisallowed, run.Outcomes[0].Name)
	assert.Equal(t, int32(1), robotsHits.Load())
}
