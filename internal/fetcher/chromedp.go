package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/byteowlz/visitdur/internal/config"
)

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// BrowserOptions configures the browser-backed fetchers.
type BrowserOptions struct {
	Headless     bool
	ExecPath     string
	ProxyURL     string
	Timeout      time.Duration // whole attempt, navigation to capture
	WaitTimeout  time.Duration // bounded wait for WaitSelector
	WaitSelector string
	HumanDelay   config.Range
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Sleep        SleepFunc
	Rand         *rand.Rand
	Logger       logrus.FieldLogger
}

func (o *BrowserOptions) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 10 * time.Second
	}
	if strings.TrimSpace(o.WaitSelector) == "" {
		o.WaitSelector = "h1"
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = 1920, 1080
	}
	if o.UserAgent == "" {
		o.UserAgent = config.DefaultUserAgents()[0]
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.Rand == nil {
		o.Rand = NewRand()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// ChromedpFetcher renders pages in one long-lived Chrome instance, one tab per attempt.
type ChromedpFetcher struct {
	opts BrowserOptions

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromedpFetcher(opts BrowserOptions) *ChromedpFetcher {
	opts.applyDefaults()
	return &ChromedpFetcher{opts: opts}
}

func (cf *ChromedpFetcher) execOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cf.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(cf.opts.WindowWidth, cf.opts.WindowHeight),
		chromedp.UserAgent(cf.opts.UserAgent),
	)
	if cf.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cf.opts.ExecPath))
	}
	if cf.opts.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cf.opts.ProxyURL))
	}
	return opts
}

func (cf *ChromedpFetcher) ensureBrowser() (context.Context, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.browserCtx != nil {
		return cf.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), cf.execOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cf.opts.Logger.Info("starting browser")
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}

	cf.allocCancel = allocCancel
	cf.browserCtx = browserCtx
	cf.browserCancel = browserCancel
	return browserCtx, nil
}

func (cf *ChromedpFetcher) Fetch(ctx context.Context, fr FetchRequest) (*FetchResult, error) {
	browserCtx, err := cf.ensureBrowser()
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: err}
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, cf.opts.Timeout)
	defer cancel()

	log := cf.opts.Logger.WithFields(logrus.Fields{"url": fr.URL, "attempt": fr.Attempt})

	var (
		statusMu sync.Mutex
		status   int64
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			statusMu.Lock()
			if status == 0 {
				status = e.Response.Status
			}
			statusMu.Unlock()
		}
	})

	var html, finalURL string
	var scrolled bool
	start := time.Now()

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(fr.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return cf.opts.Sleep(ctx, RandomDuration(cf.opts.Rand, cf.opts.HumanDelay.Min, cf.opts.HumanDelay.Max))
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			waitCtx, cancel := context.WithTimeout(ctx, cf.opts.WaitTimeout)
			defer cancel()
			if err := chromedp.WaitReady(cf.opts.WaitSelector, chromedp.ByQuery).Do(waitCtx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithField("selector", cf.opts.WaitSelector).Warn("page load timeout, continuing anyway")
			}
			return nil
		}),
		chromedp.Evaluate(`window.scrollTo(0, 500); true`, &scrolled),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return cf.opts.Sleep(ctx, time.Second)
		}),
		chromedp.Evaluate(`window.scrollTo(0, 0); true`, &scrolled),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	}

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("chromedp run: %w", err)}
	}

	statusMu.Lock()
	code := int(status)
	statusMu.Unlock()
	if code == 0 {
		// no document response seen (cached or same-document navigation)
		code = 200
	}

	log.WithFields(logrus.Fields{
		"status":     code,
		"latency_ms": time.Since(start).Milliseconds(),
		"html_bytes": len(html),
	}).Debug("chromedp render complete")

	return &FetchResult{
		URL:        fr.URL,
		FinalURL:   finalURL,
		StatusCode: code,
		Body:       []byte(html),
		Rendered:   true,
		UserAgent:  cf.opts.UserAgent,
		Latency:    time.Since(start),
	}, nil
}

func (cf *ChromedpFetcher) Close() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.browserCtx == nil {
		return nil
	}
	cf.opts.Logger.Info("closing browser")
	var err error
	if cerr := chromedp.Cancel(cf.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		err = cerr
	}
	cf.browserCancel()
	cf.allocCancel()
	cf.browserCtx = nil
	return err
}
