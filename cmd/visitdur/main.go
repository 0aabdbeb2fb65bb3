package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/byteowlz/visitdur/internal/config"
	core "github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/logging"
	"github.com/byteowlz/visitdur/internal/runner"
	"github.com/byteowlz/visitdur/internal/sink"
	"github.com/byteowlz/visitdur/pkg/extractor"
)

// Exit codes for granular error handling
const (
	ExitSuccess      = 0
	ExitNoneScraped  = 1
	ExitInvalidInput = 3
	ExitConfigError  = 4
	ExitFileIOError  = 5
	ExitPartialError = 6 // some URLs failed, some succeeded
	ExitInterrupted  = 130
)

var (
	cfgFile      string
	file         string
	outputFile   string
	outputFormat string
	engine       string
	maxRetries   int
	headless     bool
	debugFile    string
	verbose      bool
	quiet        bool
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "visitdur [urls...]",
	Short: "Extract suggested visit durations from attraction pages",
	Long: `visitdur fetches tourist attraction pages one at a time and extracts the
suggested visit duration ("2-3 hours") and attraction name from each.
Results are written as CSV (default), JSON or SQLite.`,
	Version:       version,
	RunE:          run,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var (
	inspectMarkdown bool
	inspectRendered bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file|url>",
	Short: "Show how a saved or fetched page is read",
	Long: `inspect runs the extractor on a saved debug page or a freshly fetched URL and
prints the matching strategy, a readable summary, JSON-LD blocks mentioning a
duration and, with --markdown, the page as markdown.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitInvalidInput)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/visitdur/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "fetch engine (http|chromedp|rod|reader)")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "max-retries", 3, "retries after an HTTP 403")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "run browser engines headless")
	rootCmd.PersistentFlags().StringVar(&debugFile, "debug-file", "", "save the first fetched document of each URL here")

	// Input/Output flags
	rootCmd.Flags().StringVarP(&file, "file", "f", "", "read URLs from file (one per line, # comments)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: attractions_duration.csv)")
	rootCmd.Flags().StringVar(&outputFormat, "format", "", "output format (csv|json|sqlite), inferred from -o by default")

	inspectCmd.Flags().BoolVar(&inspectMarkdown, "markdown", false, "also print the page as markdown")
	inspectCmd.Flags().BoolVar(&inspectRendered, "rendered", false, "treat a saved file as browser-rendered output")
	rootCmd.AddCommand(inspectCmd)
}

// loadConfig reads .env, the config file and the flags that were explicitly set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if cfgFile == "" {
		ensureDefaultConfig()
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Fetch.Engine = engine
	}
	if flags.Changed("max-retries") {
		cfg.Retry.MaxRetries = maxRetries
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("debug-file") {
		cfg.Debug.Enabled = debugFile != ""
		cfg.Debug.File = debugFile
	}
	if flags.Lookup("output") != nil && flags.Changed("output") {
		cfg.Output.File = outputFile
	}
	if flags.Lookup("format") != nil && flags.Changed("format") {
		cfg.Output.Format = outputFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDefaultConfig writes the example config on first run.
func ensureDefaultConfig() {
	path := config.DefaultPath()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return
	}
	if err := config.Default().CreateExampleConfig(path); err == nil && !quiet {
		fmt.Fprintf(os.Stderr, "Created config file: %s\n", path)
	}
}

func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, io.Closer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, exitError(ExitConfigError, "failed to load config: %v", err)
	}
	logger, closer, err := logging.New(cfg.Logging, verbose, quiet)
	if err != nil {
		return nil, nil, nil, exitError(ExitConfigError, "failed to set up logging: %v", err)
	}
	return cfg, logger, closer, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	urls, err := collectURLs(args, file, pipedStdin(), cfg.Batch.URLs)
	if err != nil {
		return exitError(ExitInvalidInput, "failed to collect URLs: %v", err)
	}
	if len(urls) == 0 {
		return exitError(ExitInvalidInput, "no URLs provided")
	}

	out, err := sink.New(cfg.OutputFormat(), cfg.Output.File)
	if err != nil {
		return exitError(ExitConfigError, "%v", err)
	}

	pipeline, err := extractor.New(cfg, logger)
	if err != nil {
		return exitError(ExitConfigError, "failed to build pipeline: %v", err)
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.WithError(err).Warn("failed to close fetcher")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("count", len(urls)).Info("processing attractions")
	stdout := cmd.OutOrStdout()
	batch, runErr := pipeline.Run(ctx, urls, func(i int, o core.Outcome) {
		if !quiet {
			printOutcome(stdout, i, len(urls), o)
		}
	})

	// Partial results of an interrupted batch are still written.
	if err := out.Write(context.Background(), batch); err != nil {
		return exitError(ExitFileIOError, "failed to write results: %v", err)
	}
	if !quiet {
		fmt.Fprintf(stdout, "\nSuccessfully scraped: %d/%d\n", batch.Succeeded(), len(urls))
		fmt.Fprintf(stdout, "Results saved to %s\n", cfg.Output.File)
	}

	if runErr != nil {
		return exitError(ExitInterrupted, "interrupted after %d/%d URLs", len(batch.Outcomes), len(urls))
	}
	if code := exitCode(batch); code != ExitSuccess {
		return &exitErr{code: code}
	}
	return nil
}

func printOutcome(w io.Writer, i, total int, o core.Outcome) {
	status := "ok"
	if !o.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "[%d/%d] %s: %s (%s)\n", i+1, total, o.Name, o.Duration, status)
}

// exitCode maps a finished batch to 0 (all scraped), 6 (some) or 1 (none).
func exitCode(batch *runner.Run) int {
	succeeded := batch.Succeeded()
	switch {
	case succeeded == len(batch.Outcomes):
		return ExitSuccess
	case succeeded > 0:
		return ExitPartialError
	default:
		return ExitNoneScraped
	}
}

// collectURLs merges args, the URL file and piped stdin, falling back to the
// configured batch when none of them yields a URL.
func collectURLs(args []string, urlFile string, stdin io.Reader, configured []string) ([]string, error) {
	var urls []string
	urls = append(urls, args...)

	if urlFile != "" {
		f, err := os.Open(urlFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read URLs from file %s: %w", urlFile, err)
		}
		fileURLs, err := readURLs(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read URLs from file %s: %w", urlFile, err)
		}
		urls = append(urls, fileURLs...)
	}

	if len(args) == 0 && urlFile == "" && stdin != nil {
		stdinURLs, err := readURLs(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read URLs from stdin: %w", err)
		}
		urls = append(urls, stdinURLs...)
	}

	if len(urls) == 0 {
		urls = append(urls, configured...)
	}

	var clean []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if isValidURL(u) {
			clean = append(clean, u)
		}
	}
	return clean, nil
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

// pipedStdin returns os.Stdin only when data is piped in.
func pipedStdin() io.Reader {
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return os.Stdin
}

func isValidURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string {
	return e.msg
}

func exitError(code int, format string, args ...interface{}) *exitErr {
	msg := fmt.Sprintf(format, args...)
	if msg != "" && !quiet {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	}
	return &exitErr{code: code, msg: msg}
}
