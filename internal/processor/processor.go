package processor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Summary is the readable view of an attraction page used by the inspect command.
type Summary struct {
	Title    string
	Byline   string
	Excerpt  string
	SiteName string
	Length   int
	Text     string
	Metadata map[string]string
}

type ContentProcessor struct{}

func NewContentProcessor() *ContentProcessor {
	return &ContentProcessor{}
}

// Summarize runs readability over the page and collects the page's meta tags.
func (cp *ContentProcessor) Summarize(page, pageURL string) (*Summary, error) {
	var parsed *url.URL
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
			parsed = u
		}
	}

	article, err := readability.FromReader(strings.NewReader(page), parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to process with readability: %w", err)
	}

	summary := &Summary{
		Title:    article.Title,
		Byline:   article.Byline,
		Excerpt:  article.Excerpt,
		SiteName: article.SiteName,
		Length:   article.Length,
		Text:     cp.CleanNewlines(article.TextContent),
		Metadata: map[string]string{},
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		summary.Metadata = cp.extractMetadata(doc)
	}
	return summary, nil
}

func (cp *ContentProcessor) extractMetadata(doc *goquery.Document) map[string]string {
	metadata := make(map[string]string)

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}
	if desc := cp.findMetaContent(doc, []string{"description", "og:description"}); desc != "" {
		metadata["description"] = desc
	}
	if u := cp.findMetaContent(doc, []string{"og:url"}); u != "" {
		metadata["url"] = u
	} else if canonical := doc.Find("link[rel='canonical']").AttrOr("href", ""); canonical != "" {
		metadata["url"] = canonical
	}
	if image := cp.findMetaContent(doc, []string{"og:image", "twitter:image"}); image != "" {
		metadata["image"] = image
	}

	return metadata
}

func (cp *ContentProcessor) findMetaContent(doc *goquery.Document, properties []string) string {
	for _, prop := range properties {
		if content := doc.Find(fmt.Sprintf("meta[name='%s']", prop)).AttrOr("content", ""); content != "" {
			return strings.TrimSpace(content)
		}
		// Open Graph uses property=
		if content := doc.Find(fmt.Sprintf("meta[property='%s']", prop)).AttrOr("content", ""); content != "" {
			return strings.TrimSpace(content)
		}
	}
	return ""
}

// ToMarkdown renders the page as markdown. domain resolves relative links.
func (cp *ContentProcessor) ToMarkdown(page, domain string) (string, error) {
	converter := md.NewConverter(domain, true, nil)
	converter.Remove("script", "style", "noscript", "template")

	markdown, err := converter.ConvertString(page)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

// JSONLDMentions returns the ld+json blocks whose text contains keyword
// (case-insensitive), re-indented when they parse.
func (cp *ContentProcessor) JSONLDMentions(doc *goquery.Document, keyword string) []string {
	var blocks []string
	needle := strings.ToLower(keyword)

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" || !strings.Contains(strings.ToLower(raw), needle) {
			return
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			blocks = append(blocks, raw)
			return
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			blocks = append(blocks, raw)
			return
		}
		blocks = append(blocks, string(pretty))
	})

	return blocks
}

var invisibleElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// VisibleText returns the text a reader would see: every text node outside
// script, style, noscript, template and head, trimmed and joined by single spaces.
func VisibleText(sel *goquery.Selection) string {
	var parts []string
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.TextNode:
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			*parts = append(*parts, text)
		}
		return
	case html.ElementNode:
		if invisibleElements[strings.ToLower(n.Data)] {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// WrapText wraps paragraphs to lineWidth columns. lineWidth <= 0 disables wrapping.
func (cp *ContentProcessor) WrapText(text string, lineWidth int) string {
	if lineWidth <= 0 {
		return text
	}

	var result strings.Builder
	paragraphs := strings.Split(text, "\n\n")

	for i, paragraph := range paragraphs {
		if i > 0 {
			result.WriteString("\n\n")
		}

		words := strings.Fields(paragraph)
		if len(words) == 0 {
			continue
		}

		currentLine := words[0]
		for _, word := range words[1:] {
			if len(currentLine)+1+len(word) <= lineWidth {
				currentLine += " " + word
			} else {
				result.WriteString(currentLine + "\n")
				currentLine = word
			}
		}
		result.WriteString(currentLine)
	}

	return result.String()
}

// CleanNewlines removes unwanted newlines that break up sentences
func (cp *ContentProcessor) CleanNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	paragraphs := strings.Split(text, "\n\n")

	var cleanedParagraphs []string
	for _, paragraph := range paragraphs {
		lines := strings.Split(paragraph, "\n")
		var cleanedLines []string

		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			// join with the previous line unless it ended a sentence or this one starts a new one
			if len(cleanedLines) > 0 {
				prevLine := cleanedLines[len(cleanedLines)-1]

				endsWithPunctuation := strings.HasSuffix(prevLine, ".") ||
					strings.HasSuffix(prevLine, "!") ||
					strings.HasSuffix(prevLine, "?") ||
					strings.HasSuffix(prevLine, ":") ||
					strings.HasSuffix(prevLine, ";")

				startsNewSentence := line[0] >= 'A' && line[0] <= 'Z' ||
					line[0] >= '0' && line[0] <= '9' ||
					strings.HasPrefix(line, "- ") ||
					strings.HasPrefix(line, "* ") ||
					strings.HasPrefix(line, "• ")

				if !endsWithPunctuation && !startsNewSentence {
					cleanedLines[len(cleanedLines)-1] = prevLine + " " + line
					continue
				}
			}

			cleanedLines = append(cleanedLines, line)
		}

		if len(cleanedLines) > 0 {
			cleanedParagraphs = append(cleanedParagraphs, strings.Join(cleanedLines, "\n"))
		}
	}

	result := strings.Join(cleanedParagraphs, "\n\n")

	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}

	return strings.TrimSpace(result)
}
