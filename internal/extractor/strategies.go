package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/byteowlz/visitdur/internal/config"
	"github.com/byteowlz/visitdur/internal/processor"
)

// Strategy looks for a duration in a parsed page.
type Strategy interface {
	// Name identifies the strategy in logs and inspect output.
	Name() string

	// Find returns the duration and true on a hit.
	Find(doc *goquery.Document, src Document) (string, bool)
}

// DefaultStrategies returns markers, keywords and fulltext, most specific first.
func DefaultStrategies(fullText string) []Strategy {
	return []Strategy{
		NewMarkerStrategy(DefaultMarkers()),
		NewKeywordStrategy(DefaultKeywords()),
		NewFullTextStrategy(fullText),
	}
}

// Marker matches a single element. Selector is a CSS attribute selector appended to
// the tag; Match, when set, filters candidates instead.
type Marker struct {
	Label    string
	Selector string
	Match    func(*goquery.Selection) bool
}

func DefaultMarkers() []Marker {
	return []Marker{
		{Label: "data-test-target", Selector: `[data-test-target="duration"]`},
		{Label: "class", Match: hasClass("duration")},
		{Label: "class-contains", Match: classContains("duration")},
		{Label: "data-automation", Selector: `[data-automation="WebPresentation_PoiDuration"]`},
	}
}

func hasClass(name string) func(*goquery.Selection) bool {
	return func(s *goquery.Selection) bool {
		return s.HasClass(name)
	}
}

func classContains(fragment string) func(*goquery.Selection) bool {
	fragment = strings.ToLower(fragment)
	return func(s *goquery.Selection) bool {
		for _, token := range strings.Fields(s.AttrOr("class", "")) {
			if strings.Contains(strings.ToLower(token), fragment) {
				return true
			}
		}
		return false
	}
}

// MarkerStrategy returns the text of the first element carrying a known duration
// marker. Markers are tried in order; for each one a div is preferred over a span.
// Elements with blank text are skipped.
type MarkerStrategy struct {
	markers []Marker
}

func NewMarkerStrategy(markers []Marker) *MarkerStrategy {
	return &MarkerStrategy{markers: markers}
}

func (ms *MarkerStrategy) Name() string { return "markers" }

func (ms *MarkerStrategy) Find(doc *goquery.Document, _ Document) (string, bool) {
	for _, m := range ms.markers {
		for _, tag := range []string{"div", "span"} {
			el := ms.first(doc, tag, m)
			if el.Length() == 0 {
				continue
			}
			if text := strings.TrimSpace(el.Text()); text != "" {
				return text, true
			}
		}
	}
	return "", false
}

func (ms *MarkerStrategy) first(doc *goquery.Document, tag string, m Marker) *goquery.Selection {
	if m.Match != nil {
		return doc.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return m.Match(s)
		}).First()
	}
	return doc.Find(tag + m.Selector).First()
}

// timePattern finds "2 hours", "2-3 hrs", "45 minutes" and the like.
var timePattern = regexp.MustCompile(`(?i)(\d+[-–]\d+|\d+)\s*(hour|hr|minute|min)s?`)

func DefaultKeywords() []string {
	return []string{"Duration", "Suggested duration", "length of visit"}
}

// KeywordStrategy anchors on text mentioning a duration keyword and reads a time
// expression from the enclosing element. Keywords are tried in order; for each, text
// nodes are visited in document order and the first parent yielding a time wins.
type KeywordStrategy struct {
	keywords []string
}

func NewKeywordStrategy(keywords []string) *KeywordStrategy {
	return &KeywordStrategy{keywords: keywords}
}

func (ks *KeywordStrategy) Name() string { return "keywords" }

func (ks *KeywordStrategy) Find(doc *goquery.Document, _ Document) (string, bool) {
	roots := doc.Nodes
	for _, keyword := range ks.keywords {
		needle := strings.ToLower(keyword)
		for _, root := range roots {
			if duration, ok := ks.search(root, needle); ok {
				return duration, true
			}
		}
	}
	return "", false
}

func (ks *KeywordStrategy) search(n *html.Node, needle string) (string, bool) {
	switch n.Type {
	case html.TextNode:
		if n.Parent == nil || !strings.Contains(strings.ToLower(n.Data), needle) {
			return "", false
		}
		text := processor.VisibleText(goquery.NewDocumentFromNode(n.Parent).Selection)
		if match := timePattern.FindString(text); match != "" {
			return match, true
		}
		return "", false
	case html.ElementNode:
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template":
			return "", false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if duration, ok := ks.search(c, needle); ok {
			return duration, true
		}
	}
	return "", false
}

// fullTextPatterns are tried in order over the page's visible text.
var fullTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+[-–]\d+\s*(?:hour|hr)s?`),
	regexp.MustCompile(`(?i)\d+\s*to\s*\d+\s*(?:hour|hr)s?`),
	regexp.MustCompile(`(?i)about\s*\d+\s*(?:hour|hr)s?`),
	regexp.MustCompile(`(?i)\d+\s*(?:hour|hr)s?`),
}

// FullTextStrategy is the loosest fallback: any time expression anywhere in the
// visible text. Static pages are full of unrelated numbers, so by default it only
// runs on browser-rendered documents.
type FullTextStrategy struct {
	mode string
}

func NewFullTextStrategy(mode string) *FullTextStrategy {
	if mode == "" {
		mode = config.FullTextRendered
	}
	return &FullTextStrategy{mode: mode}
}

func (fs *FullTextStrategy) Name() string { return "fulltext" }

func (fs *FullTextStrategy) Find(doc *goquery.Document, src Document) (string, bool) {
	switch fs.mode {
	case config.FullTextNever:
		return "", false
	case config.FullTextRendered:
		if !src.Rendered {
			return "", false
		}
	}

	text := processor.VisibleText(doc.Selection)
	for _, pattern := range fullTextPatterns {
		if match := strings.TrimSpace(pattern.FindString(text)); match != "" {
			return match, true
		}
	}
	return "", false
}
