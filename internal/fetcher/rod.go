package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// RodFetcher is the go-rod flavour of the browser fetcher. Same contract as
// ChromedpFetcher: one browser, one page per attempt.
type RodFetcher struct {
	opts BrowserOptions

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewRodFetcher(opts BrowserOptions) *RodFetcher {
	opts.applyDefaults()
	return &RodFetcher{opts: opts}
}

func (rf *RodFetcher) ensureBrowser() (*rod.Browser, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.browser != nil {
		return rf.browser, nil
	}

	l := launcher.New().
		Headless(rf.opts.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("window-size", fmt.Sprintf("%d,%d", rf.opts.WindowWidth, rf.opts.WindowHeight)).
		Delete("enable-automation")
	if rf.opts.ExecPath != "" {
		l = l.Bin(rf.opts.ExecPath)
	}
	if rf.opts.ProxyURL != "" {
		l = l.Proxy(rf.opts.ProxyURL)
	}

	rf.opts.Logger.Info("starting browser")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rf.browser = browser
	rf.launcher = l
	return browser, nil
}

func (rf *RodFetcher) Fetch(ctx context.Context, fr FetchRequest) (*FetchResult, error) {
	browser, err := rf.ensureBrowser()
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: err}
	}

	log := rf.opts.Logger.WithFields(logrus.Fields{"url": fr.URL, "attempt": fr.Attempt})

	ctx, cancel := context.WithTimeout(ctx, rf.opts.Timeout)
	defer cancel()

	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to create page: %w", err)}
	}
	defer p.Close()
	p = p.Context(ctx)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: rf.opts.UserAgent}); err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to set user agent: %w", err)}
	}
	if _, err := p.EvalOnNewDocument(hideWebdriverScript); err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to install init script: %w", err)}
	}

	var (
		statusMu sync.Mutex
		status   int
	)
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to enable network events: %w", err)}
	}
	go p.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeDocument {
			return
		}
		statusMu.Lock()
		if status == 0 {
			status = e.Response.Status
		}
		statusMu.Unlock()
	})()

	start := time.Now()
	if err := p.Navigate(fr.URL); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to navigate: %w", err)}
	}

	if err := rf.opts.Sleep(ctx, RandomDuration(rf.opts.Rand, rf.opts.HumanDelay.Min, rf.opts.HumanDelay.Max)); err != nil {
		return nil, err
	}

	if _, err := p.Timeout(rf.opts.WaitTimeout).Element(rf.opts.WaitSelector); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithField("selector", rf.opts.WaitSelector).Warn("page load timeout, continuing anyway")
	}

	if _, err := p.Eval(`() => window.scrollTo(0, 500)`); err != nil {
		log.WithError(err).Debug("scroll failed")
	}
	if err := rf.opts.Sleep(ctx, time.Second); err != nil {
		return nil, err
	}
	if _, err := p.Eval(`() => window.scrollTo(0, 0)`); err != nil {
		log.WithError(err).Debug("scroll failed")
	}

	html, err := p.HTML()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{URL: fr.URL, Err: fmt.Errorf("failed to read page HTML: %w", err)}
	}

	finalURL := fr.URL
	if info, err := p.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	statusMu.Lock()
	code := status
	statusMu.Unlock()
	if code == 0 {
		code = 200
	}

	return &FetchResult{
		URL:        fr.URL,
		FinalURL:   finalURL,
		StatusCode: code,
		Body:       []byte(html),
		Rendered:   true,
		UserAgent:  rf.opts.UserAgent,
		Latency:    time.Since(start),
	}, nil
}

func (rf *RodFetcher) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.browser == nil {
		return nil
	}
	rf.opts.Logger.Info("closing browser")
	err := rf.browser.Close()
	rf.launcher.Kill()
	rf.browser = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
