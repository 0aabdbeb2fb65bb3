package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Document is the raw page handed to the extractor.
type Document struct {
	URL      string
	Body     []byte
	Rendered bool // produced by a browser, scripts have run
}

// Result is what the extractor read from one document. Strategy names the strategy
// that produced Duration and is empty when nothing matched.
type Result struct {
	Name     string
	Duration string
	Success  bool
	Strategy string
}

type Options struct {
	// FullText is one of config.FullTextRendered, FullTextAlways or FullTextNever.
	FullText   string
	Strategies []Strategy // overrides DefaultStrategies when set
	Logger     logrus.FieldLogger
}

// Extractor reads the attraction name and visit duration from a page. It holds no
// per-document state, so one Extractor serves a whole batch.
type Extractor struct {
	strategies []Strategy
	logger     logrus.FieldLogger
}

func New(opts Options) *Extractor {
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies(opts.FullText)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{strategies: strategies, logger: logger}
}

// Strategies returns the strategy names in evaluation order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract runs the strategies in order and returns the first duration found, or
// DurationNotFound. Parse failures and strategy panics come back as *ParseError.
func (e *Extractor) Extract(doc Document) (result Result, err error) {
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return Result{}, &ParseError{URL: doc.URL, Err: fmt.Errorf("parse html: %w", err)}
	}

	current := ""
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = &ParseError{URL: doc.URL, Strategy: current, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result.Name = Name(parsed)
	result.Duration = DurationNotFound

	for _, s := range e.strategies {
		current = s.Name()
		if duration, ok := s.Find(parsed, doc); ok {
			result.Duration = duration
			result.Success = true
			result.Strategy = current
			break
		}
	}

	e.logger.WithFields(logrus.Fields{
		"url":      doc.URL,
		"name":     result.Name,
		"duration": result.Duration,
		"strategy": result.Strategy,
		"rendered": doc.Rendered,
	}).Debug("extracted")

	return result, nil
}

// Name returns the trimmed text of the first h1, or NameUnknown without one.
func Name(doc *goquery.Document) string {
	h1 := doc.Find("h1").First()
	if h1.Length() == 0 {
		return NameUnknown
	}
	return strings.TrimSpace(h1.Text())
}

