// Package extractor wires the visit-duration pipeline from a config.Config: fetcher,
// retry policy, extractor, robots and runner. It is what the visitdur command uses,
// and the entry point for embedding the tool in other programs.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/byteowlz/visitdur/internal/browser"
	"github.com/byteowlz/visitdur/internal/config"
	core "github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/fetcher"
	"github.com/byteowlz/visitdur/internal/processor"
	"github.com/byteowlz/visitdur/internal/robots"
	"github.com/byteowlz/visitdur/internal/runner"
)

type Extractor struct {
	config     *config.Config
	logger     logrus.FieldLogger
	fetcher    fetcher.Fetcher
	retrier    *fetcher.Retrier
	extractor  *core.Extractor
	processor  *processor.ContentProcessor
	robots     *robots.Agent
	httpClient *http.Client // HTTP engine client, reused for robots.txt
	rng        *rand.Rand
	sleep      fetcher.SleepFunc
}

type Option func(*Extractor)

// WithSleep replaces the real sleeper, mostly for tests.
func WithSleep(sleep fetcher.SleepFunc) Option {
	return func(e *Extractor) { e.sleep = sleep }
}

// WithRand fixes the random source used for delays and user agents.
func WithRand(rng *rand.Rand) Option {
	return func(e *Extractor) { e.rng = rng }
}

// New builds the pipeline. Browsers are started lazily on first use.
func New(cfg *config.Config, logger logrus.FieldLogger, opts ...Option) (*Extractor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{
		config:    cfg,
		logger:    logger,
		processor: processor.NewContentProcessor(),
		sleep:     fetcher.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = fetcher.NewRand()
	}

	f, err := e.buildFetcher()
	if err != nil {
		return nil, err
	}
	e.fetcher = f

	var debug fetcher.DebugSink = fetcher.NopDebugSink{}
	if cfg.Debug.Enabled && cfg.Debug.File != "" {
		debug = fetcher.NewFileDebugSink(cfg.Debug.File)
	}

	limiter := fetcher.NewHostLimiter(cfg.Batch.MinHostInterval, cfg.Batch.RateLimit.Requests, cfg.Batch.RateLimit.Window)
	limiter.SetSleep(e.sleep)

	e.retrier = fetcher.NewRetrier(f, fetcher.RetrierOptions{
		Policy:  fetcher.NewRetryPolicy(cfg.Retry),
		Limiter: limiter,
		Debug:   debug,
		Sleep:   e.sleep,
		Rand:    e.rng,
		Logger:  logger,
	})

	e.extractor = core.New(core.Options{
		FullText: cfg.Extraction.FullTextFallback,
		Logger:   logger,
	})

	if cfg.Robots.Respect {
		robotsCfg := cfg.Robots
		if robotsCfg.UserAgent == "" {
			robotsCfg.UserAgent = cfg.Network.UserAgent
		}
		e.robots = robots.NewAgent(robotsCfg, e.httpClient, logger)
	}

	return e, nil
}

func (e *Extractor) buildFetcher() (fetcher.Fetcher, error) {
	cfg := e.config

	switch cfg.Fetch.Engine {
	case config.EngineHTTP:
		primary, err := e.httpFetcher()
		if err != nil {
			return nil, err
		}
		if !cfg.Fetch.BrowserFallback {
			return primary, nil
		}
		secondary, err := e.browserFetcher(cfg.Fetch.FallbackEngine)
		if err != nil {
			return nil, err
		}
		return fetcher.NewFallback(primary, secondary, e.logger), nil
	case config.EngineChromedp, config.EngineRod:
		return e.browserFetcher(cfg.Fetch.Engine)
	case config.EngineReader:
		rf := fetcher.NewReaderFetcher(cfg.Fetch.Reader.BaseURL, cfg.Fetch.Reader.APIKey, cfg.Network.Timeout)
		if cfg.Network.MaxBodyBytes > 0 {
			rf.MaxBodyBytes = cfg.Network.MaxBodyBytes
		}
		return rf, nil
	default:
		return nil, fmt.Errorf("unknown fetch engine %q", cfg.Fetch.Engine)
	}
}

func (e *Extractor) httpFetcher() (*fetcher.HTTPFetcher, error) {
	cfg := e.config
	opts := fetcher.HTTPOptions{
		Timeout:         cfg.Network.Timeout,
		UserAgent:       cfg.Network.UserAgent,
		UserAgents:      cfg.Network.UserAgents,
		BrowserAgent:    cfg.Network.BrowserAgent,
		FollowRedirects: cfg.Network.FollowRedirects,
		MaxRedirects:    cfg.Network.MaxRedirects,
		ProxyURL:        cfg.Network.ProxyURL,
		MaxBodyBytes:    cfg.Network.MaxBodyBytes,
		Headers:         cfg.Network.Headers,
		Rand:            e.rng,
		Logger:          e.logger,
	}

	browserType, enabled, err := browser.ParseBrowserType(cfg.Browser.CookiesFrom)
	if err != nil {
		return nil, fmt.Errorf("browser.cookies_from: %w", err)
	}
	if enabled {
		cookies := browser.NewCookieExtractor(browserType, cfg.Browser.Paths, e.logger)
		if available := cookies.Available(); len(available) > 0 {
			e.logger.WithField("browsers", available).Debug("cookie sources detected")
			opts.Cookies = cookies
		} else {
			e.logger.WithField("cookies_from", string(browserType)).Warn("no browser profile found, fetching without cookies")
		}
	}

	hf, err := fetcher.NewHTTPFetcher(opts)
	if err != nil {
		return nil, err
	}
	e.httpClient = hf.Client()
	return hf, nil
}

func (e *Extractor) browserFetcher(engine string) (fetcher.Fetcher, error) {
	cfg := e.config
	userAgent := cfg.Browser.UserAgent
	if userAgent == "" && len(cfg.Network.UserAgents) > 0 {
		userAgent = cfg.Network.UserAgents[0]
	}

	timeout := cfg.Network.Timeout + cfg.Browser.WaitTimeout + cfg.Browser.HumanDelay.Max + 15*time.Second
	opts := fetcher.BrowserOptions{
		Headless:     cfg.Browser.Headless,
		ExecPath:     cfg.Browser.ExecPath,
		ProxyURL:     cfg.Network.ProxyURL,
		Timeout:      timeout,
		WaitTimeout:  cfg.Browser.WaitTimeout,
		WaitSelector: cfg.Browser.WaitSelector,
		HumanDelay:   cfg.Browser.HumanDelay,
		UserAgent:    userAgent,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		Sleep:        e.sleep,
		Rand:         e.rng,
		Logger:       e.logger,
	}

	switch engine {
	case config.EngineChromedp:
		return fetcher.NewChromedpFetcher(opts), nil
	case config.EngineRod:
		return fetcher.NewRodFetcher(opts), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}

// Run processes urls sequentially. onOutcome, when set, sees each outcome as soon as
// it is produced.
func (e *Extractor) Run(ctx context.Context, urls []string, onOutcome func(int, core.Outcome)) (*runner.Run, error) {
	opts := runner.Options{
		Fetcher:           e.retrier,
		Extractor:         e.extractor,
		InterRequestDelay: e.config.Batch.InterRequestDelay,
		Sleep:             e.sleep,
		Rand:              e.rng,
		Logger:            e.logger,
		OnOutcome:         onOutcome,
	}
	if e.robots != nil {
		opts.Robots = e.robots
	}
	return runner.New(opts).Run(ctx, urls)
}

// Inspection explains how a single page was read.
type Inspection struct {
	Source     string
	Rendered   bool
	StatusCode int
	Result     core.Result
	Strategies []string
	Summary    *processor.Summary
	JSONLD     []string
	Markdown   string
}

type InspectOptions struct {
	Markdown bool
	// Rendered marks a saved file as browser output, enabling the fulltext strategy.
	Rendered bool
}

// Inspect runs the extractor on a saved page (a path) or a freshly fetched URL and
// reports the matching strategy along with a readable summary of the page.
func (e *Extractor) Inspect(ctx context.Context, source string, opts InspectOptions) (*Inspection, error) {
	doc := core.Document{URL: source, Rendered: opts.Rendered}
	status := 0

	if isURL(source) {
		result, err := e.retrier.FetchWithRetry(ctx, source)
		if err != nil {
			return nil, err
		}
		doc.Body = result.Body
		doc.Rendered = result.Rendered
		status = result.StatusCode
	} else {
		body, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		doc.Body = body
	}

	result, err := e.extractor.Extract(doc)
	if err != nil {
		return nil, err
	}

	inspection := &Inspection{
		Source:     source,
		Rendered:   doc.Rendered,
		StatusCode: status,
		Result:     result,
		Strategies: e.extractor.Strategies(),
	}

	page := string(doc.Body)
	pageURL := ""
	if isURL(source) {
		pageURL = source
	}
	if summary, err := e.processor.Summarize(page, pageURL); err == nil {
		inspection.Summary = summary
	} else {
		e.logger.WithError(err).Debug("readability summary failed")
	}

	if parsed, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		inspection.JSONLD = e.processor.JSONLDMentions(parsed, "duration")
		if more := e.processor.JSONLDMentions(parsed, "timeRequired"); len(more) > 0 {
			inspection.JSONLD = appendUnique(inspection.JSONLD, more...)
		}
	}

	if opts.Markdown {
		markdown, err := e.processor.ToMarkdown(page, hostOf(pageURL))
		if err != nil {
			return nil, err
		}
		inspection.Markdown = markdown
	}

	return inspection, nil
}

// Close shuts down any browser the pipeline started.
func (e *Extractor) Close() error {
	if e.retrier == nil {
		return nil
	}
	err := e.retrier.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func hostOf(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return u.Host
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			list = append(list, s)
			seen[s] = true
		}
	}
	return list
}
