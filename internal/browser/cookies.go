package browser

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // Import all browser support
	"github.com/sirupsen/logrus"
)

type BrowserType string

const (
	BrowserAuto    BrowserType = "auto"
	BrowserChrome  BrowserType = "chrome"
	BrowserFirefox BrowserType = "firefox"
	BrowserSafari  BrowserType = "safari"
	BrowserZen     BrowserType = "zen"
)

var autoOrder = []BrowserType{BrowserChrome, BrowserFirefox, BrowserZen, BrowserSafari}

// ParseBrowserType maps a config value to a BrowserType. Empty means cookies are disabled.
func ParseBrowserType(s string) (BrowserType, bool, error) {
	switch v := BrowserType(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return "", false, nil
	case BrowserAuto, BrowserChrome, BrowserFirefox, BrowserSafari, BrowserZen:
		return v, true, nil
	default:
		return "", false, fmt.Errorf("unknown browser %q (expected auto, chrome, firefox, safari or zen)", s)
	}
}

// CookieExtractor reads cookies for a site from the user's local browser stores so the
// static fetcher can present the same session a real visitor would.
type CookieExtractor struct {
	browserType BrowserType
	customPaths map[string]string
	logger      logrus.FieldLogger
	now         func() time.Time
	traverse    func(ctx context.Context) iter.Seq2[*kooky.Cookie, error]
	stat        func(string) (os.FileInfo, error)
	goos        string

	mu    sync.Mutex
	cache map[string][]*http.Cookie
}

func NewCookieExtractor(browserType BrowserType, customPaths map[string]string, logger logrus.FieldLogger) *CookieExtractor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CookieExtractor{
		browserType: browserType,
		customPaths: customPaths,
		logger:      logger,
		now:         time.Now,
		traverse: func(ctx context.Context) iter.Seq2[*kooky.Cookie, error] {
			return iter.Seq2[*kooky.Cookie, error](kooky.TraverseCookies(ctx))
		},
		stat:  os.Stat,
		goos:  runtime.GOOS,
		cache: make(map[string][]*http.Cookie),
	}
}

// Cookies returns the cookies for targetURL's host. Stores are scanned once per host.
func (ce *CookieExtractor) Cookies(targetURL string) ([]*http.Cookie, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	host := strings.ToLower(parsedURL.Hostname())

	ce.mu.Lock()
	defer ce.mu.Unlock()
	if cookies, ok := ce.cache[host]; ok {
		return cookies, nil
	}

	cookies, err := ce.ExtractCookies(host)
	if err != nil {
		return nil, err
	}
	ce.cache[host] = cookies
	ce.logger.WithFields(logrus.Fields{
		"host":    host,
		"browser": string(ce.browserType),
		"cookies": len(cookies),
	}).Debug("loaded browser cookies")
	return cookies, nil
}

// ExtractCookies scans the browser stores for cookies valid on host.
func (ce *CookieExtractor) ExtractCookies(host string) ([]*http.Cookie, error) {
	if ce.browserType != BrowserAuto {
		return ce.extractFromBrowser(ce.browserType, host)
	}

	// first browser with any cookie for the host wins
	for _, browser := range autoOrder {
		if cookies, err := ce.extractFromBrowser(browser, host); err == nil && len(cookies) > 0 {
			return cookies, nil
		}
	}
	return nil, nil
}

func (ce *CookieExtractor) extractFromBrowser(browserType BrowserType, domain string) ([]*http.Cookie, error) {
	ctx := context.Background()
	now := ce.now()
	var cookies []*http.Cookie

	for cookie, err := range ce.traverse(ctx) {
		if err != nil || cookie == nil {
			continue
		}
		if !cookie.Expires.IsZero() && cookie.Expires.Before(now) {
			continue
		}
		if ce.matchesBrowserType(cookie.Browser, browserType) && ce.matchesDomain(cookie.Domain, domain) {
			cookies = append(cookies, &http.Cookie{
				Name:     cookie.Name,
				Value:    cookie.Value,
				Path:     cookie.Path,
				Domain:   cookie.Domain,
				Expires:  cookie.Expires,
				Secure:   cookie.Secure,
				HttpOnly: cookie.HttpOnly,
			})
		}
	}

	return cookies, nil
}

func (ce *CookieExtractor) matchesBrowserType(browser kooky.BrowserInfo, browserType BrowserType) bool {
	if browserType == BrowserAuto {
		return true
	}
	if browser == nil {
		return false
	}

	browserName := strings.ToLower(browser.Browser())
	switch browserType {
	case BrowserChrome:
		return strings.Contains(browserName, "chrome") || strings.Contains(browserName, "chromium")
	case BrowserFirefox:
		return strings.Contains(browserName, "firefox") && !ce.isZenPath(browser.FilePath())
	case BrowserSafari:
		return strings.Contains(browserName, "safari")
	case BrowserZen:
		return strings.Contains(browserName, "zen") ||
			(strings.Contains(browserName, "firefox") && ce.isZenPath(browser.FilePath()))
	}

	return false
}

func (ce *CookieExtractor) isZenPath(path string) bool {
	path = strings.ToLower(path)
	if strings.Contains(path, ".zen") || strings.Contains(path, string(filepath.Separator)+"zen") {
		return true
	}
	if custom := ce.customPaths["zen"]; custom != "" {
		return strings.HasPrefix(path, strings.ToLower(expandPath(custom)))
	}
	return false
}

func (ce *CookieExtractor) matchesDomain(cookieDomain, targetDomain string) bool {
	if cookieDomain == "" || targetDomain == "" {
		return false
	}

	cookieDomain = strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	targetDomain = strings.ToLower(targetDomain)

	if cookieDomain == targetDomain {
		return true
	}
	return strings.HasSuffix(targetDomain, "."+cookieDomain)
}

// profileDirs lists where each browser keeps its profiles across platforms.
var profileDirs = map[BrowserType][]string{
	BrowserChrome: {
		"~/.config/google-chrome",
		"~/.config/chromium",
		"~/Library/Application Support/Google/Chrome",
		"%LOCALAPPDATA%/Google/Chrome/User Data",
	},
	BrowserFirefox: {
		"~/.mozilla/firefox",
		"~/Library/Application Support/Firefox",
		"%APPDATA%/Mozilla/Firefox",
	},
	BrowserSafari: {"~/Library/Cookies"},
	BrowserZen: {
		"~/.zen",
		"~/Library/Application Support/Zen",
		"%APPDATA%/Zen",
	},
}

// Available returns the browsers this extractor would read whose profile directory
// exists, in lookup order. A path from browser.paths is checked first.
func (ce *CookieExtractor) Available() []BrowserType {
	candidates := autoOrder
	if ce.browserType != BrowserAuto {
		candidates = []BrowserType{ce.browserType}
	}

	var found []BrowserType
	for _, bt := range candidates {
		if bt == BrowserSafari && ce.goos != "darwin" {
			continue
		}
		if ce.hasProfile(bt) {
			found = append(found, bt)
		}
	}
	return found
}

func (ce *CookieExtractor) hasProfile(bt BrowserType) bool {
	dirs := profileDirs[bt]
	if custom := ce.customPaths[string(bt)]; custom != "" {
		dirs = append([]string{custom}, dirs...)
	}
	for _, dir := range dirs {
		if _, err := ce.stat(expandPath(dir)); err == nil {
			return true
		}
	}
	return false
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}

	if strings.Contains(path, "%LOCALAPPDATA%") {
		return strings.Replace(path, "%LOCALAPPDATA%", os.Getenv("LOCALAPPDATA"), 1)
	}

	if strings.Contains(path, "%APPDATA%") {
		return strings.Replace(path, "%APPDATA%", os.Getenv("APPDATA"), 1)
	}

	return path
}
