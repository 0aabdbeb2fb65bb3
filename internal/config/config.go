package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EngineHTTP     = "http"
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
	EngineReader   = "reader"

	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatSQLite = "sqlite"

	FullTextRendered = "rendered"
	FullTextAlways   = "always"
	FullTextNever    = "never"
)

type Config struct {
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Network    NetworkConfig    `mapstructure:"network"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Robots     RobotsConfig     `mapstructure:"robots"`
	Output     OutputConfig     `mapstructure:"output"`
	Debug      DebugConfig      `mapstructure:"debug"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Range is an inclusive interval used for randomized waits.
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

func (r Range) Valid() bool {
	return r.Min >= 0 && r.Max >= r.Min
}

type FetchConfig struct {
	Engine          string       `mapstructure:"engine"`
	BrowserFallback bool         `mapstructure:"browser_fallback"`
	FallbackEngine  string       `mapstructure:"fallback_engine"`
	Reader          ReaderConfig `mapstructure:"reader"`
}

type ReaderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	UserAgent       string            `mapstructure:"user_agent"`
	UserAgents      []string          `mapstructure:"user_agents"`
	BrowserAgent    string            `mapstructure:"browser_agent"`
	FollowRedirects bool              `mapstructure:"follow_redirects"`
	MaxRedirects    int               `mapstructure:"max_redirects"`
	ProxyURL        string            `mapstructure:"proxy_url"`
	MaxBodyBytes    int64             `mapstructure:"max_body_bytes"`
	Headers         map[string]string `mapstructure:"headers"`
}

type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	Backoff         time.Duration `mapstructure:"backoff"`
	PreRequestDelay Range         `mapstructure:"pre_request_delay"`
}

type BatchConfig struct {
	URLs              []string        `mapstructure:"urls"`
	InterRequestDelay Range           `mapstructure:"inter_request_delay"`
	MinHostInterval   time.Duration   `mapstructure:"min_host_interval"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type BrowserConfig struct {
	Headless     bool              `mapstructure:"headless"`
	ExecPath     string            `mapstructure:"exec_path"`
	WaitTimeout  time.Duration     `mapstructure:"wait_timeout"`
	WaitSelector string            `mapstructure:"wait_selector"`
	HumanDelay   Range             `mapstructure:"human_delay"`
	UserAgent    string            `mapstructure:"user_agent"`
	WindowWidth  int               `mapstructure:"window_width"`
	WindowHeight int               `mapstructure:"window_height"`
	CookiesFrom  string            `mapstructure:"cookies_from"`
	Paths        map[string]string `mapstructure:"paths"`
}

type ExtractionConfig struct {
	FullTextFallback string `mapstructure:"full_text_fallback"`
}

type RobotsConfig struct {
	Respect   bool          `mapstructure:"respect"`
	UserAgent string        `mapstructure:"user_agent"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type OutputConfig struct {
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
}

type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// DefaultUserAgents returns a copy of the built-in user agent pool.
func DefaultUserAgents() []string {
	return append([]string(nil), defaultUserAgents...)
}

func Default() *Config {
	return &Config{
		Fetch: FetchConfig{
			Engine:          EngineHTTP,
			BrowserFallback: false,
			FallbackEngine:  EngineChromedp,
			Reader: ReaderConfig{
				BaseURL: "https://r.jina.ai/",
			},
		},
		Network: NetworkConfig{
			Timeout:         15 * time.Second,
			UserAgents:      DefaultUserAgents(),
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodyBytes:    8 * 1024 * 1024,
			Headers:         map[string]string{},
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			Backoff:         10 * time.Second,
			PreRequestDelay: Range{Min: 2 * time.Second, Max: 5 * time.Second},
		},
		Batch: BatchConfig{
			InterRequestDelay: Range{Min: 5 * time.Second, Max: 10 * time.Second},
			MinHostInterval:   5 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:     true,
			WaitTimeout:  10 * time.Second,
			WaitSelector: "h1",
			HumanDelay:   Range{Min: 3 * time.Second, Max: 6 * time.Second},
			UserAgent:    defaultUserAgents[0],
			WindowWidth:  1920,
			WindowHeight: 1080,
			Paths:        map[string]string{},
		},
		Extraction: ExtractionConfig{
			FullTextFallback: FullTextRendered,
		},
		Robots: RobotsConfig{
			Respect:  false,
			CacheTTL: 30 * time.Minute,
		},
		Output: OutputConfig{
			File:   "attractions_duration.csv",
			Format: "",
		},
		Debug: DebugConfig{
			Enabled: true,
			File:    "debug_page.html",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/visitdur/config.toml, or "" when no home is known.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "visitdur", "config.toml")
}

// Load reads configFile (or the default location) over the built-in defaults.
// A missing default config file is not an error; an explicit one must exist.
func Load(configFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		path := DefaultPath()
		if path == "" {
			return cfg, errors.New("error finding home directory")
		}
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigType("toml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("VISITDUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"fetch.engine",
		"fetch.reader.api_key",
		"network.proxy_url",
		"retry.max_retries",
		"output.format",
		"output.file",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Fetch.Engine {
	case EngineHTTP, EngineChromedp, EngineRod, EngineReader:
	default:
		return fmt.Errorf("unknown fetch engine %q (available: http, chromedp, rod, reader)", c.Fetch.Engine)
	}
	if c.Fetch.BrowserFallback && c.Fetch.FallbackEngine != EngineChromedp && c.Fetch.FallbackEngine != EngineRod {
		return fmt.Errorf("fallback engine must be chromedp or rod, got %q", c.Fetch.FallbackEngine)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry.backoff must not be negative, got %s", c.Retry.Backoff)
	}
	ranges := map[string]Range{
		"retry.pre_request_delay":   c.Retry.PreRequestDelay,
		"batch.inter_request_delay": c.Batch.InterRequestDelay,
		"browser.human_delay":       c.Browser.HumanDelay,
	}
	for name, r := range ranges {
		if !r.Valid() {
			return fmt.Errorf("%s: invalid range [%s, %s]", name, r.Min, r.Max)
		}
	}
	switch c.Output.Format {
	case "", FormatCSV, FormatJSON, FormatSQLite:
	default:
		return fmt.Errorf("unknown output format %q (available: csv, json, sqlite)", c.Output.Format)
	}
	switch c.Extraction.FullTextFallback {
	case FullTextRendered, FullTextAlways, FullTextNever:
	default:
		return fmt.Errorf("unknown full_text_fallback %q (available: rendered, always, never)", c.Extraction.FullTextFallback)
	}
	return nil
}

// OutputFormat resolves the sink format, inferring it from the output file extension
// when not set explicitly.
func (c *Config) OutputFormat() string {
	if c.Output.Format != "" {
		return c.Output.Format
	}
	switch strings.ToLower(filepath.Ext(c.Output.File)) {
	case ".json":
		return FormatJSON
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatCSV
	}
}

func (c *Config) CreateExampleConfig(configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	exampleContent := `# visitdur configuration file

[fetch]
engine = "http"              # http, chromedp, rod, reader
browser_fallback = false     # retry a blocked HTTP fetch once in a real browser
fallback_engine = "chromedp" # chromedp, rod

[fetch.reader]
base_url = "https://r.jina.ai/"
api_key = ""                 # optional, raises reader rate limits

[network]
timeout = "15s"
user_agent = ""              # fixed user agent (empty = rotate through user_agents)
browser_agent = ""           # auto, chrome, firefox, safari, edge (used when user_agents is empty)
follow_redirects = true
max_redirects = 10
proxy_url = ""
max_body_bytes = 8388608

[retry]
max_retries = 3              # extra attempts after an HTTP 403
backoff = "10s"              # wait attempt * backoff after each 403
pre_request_delay = { min = "2s", max = "5s" }

[batch]
urls = []
inter_request_delay = { min = "5s", max = "10s" }
min_host_interval = "5s"

[batch.rate_limit]
requests = 0                 # 0 disables the token bucket
window = "1m"

[browser]
headless = true
exec_path = ""
wait_timeout = "10s"         # bounded wait for wait_selector, continues regardless
wait_selector = "h1"
human_delay = { min = "3s", max = "6s" }
window_width = 1920
window_height = 1080
cookies_from = ""            # "", auto, chrome, firefox, safari, zen

[extraction]
full_text_fallback = "rendered"  # rendered, always, never

[robots]
respect = false
cache_ttl = "30m"

[output]
file = "attractions_duration.csv"
format = ""                  # csv, json, sqlite (empty = infer from file extension)

[debug]
enabled = true
file = "debug_page.html"

[logging]
level = "info"               # debug, info, warn, error
file = ""                    # log file path (empty = stderr only)
`

	return os.WriteFile(configPath, []byte(exampleContent), 0644)
}
