package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// BlockParser lifts grant-like blocks out of one page of HTML.
type BlockParser interface {
	Name() string
	Parse(html string, baseURL string) ([]RawBlock, error)
}

type parserRoute struct {
	domain string
	parser string
}

// ParserRegistry maps parser names and source domains to parsers.
// Routing checks domains in registration order and falls back to the generic parser.
type ParserRegistry struct {
	parsers  map[string]BlockParser
	routes   []parserRoute
	fallback BlockParser
}

func NewParserRegistry(fallback BlockParser) *ParserRegistry {
	r := &ParserRegistry{
		parsers:  make(map[string]BlockParser),
		fallback: fallback,
	}
	if fallback != nil {
		r.parsers[fallback.Name()] = fallback
	}
	return r
}

// Register adds a parser, routed to any URL containing one of domains.
func (r *ParserRegistry) Register(p BlockParser, domains ...string) {
	r.parsers[p.Name()] = p
	for _, d := range domains {
		r.routes = append(r.routes, parserRoute{domain: strings.ToLower(d), parser: p.Name()})
	}
}

func (r *ParserRegistry) Get(name string) (BlockParser, error) {
	p, ok := r.parsers[name]
	if !ok {
		return nil, fmt.Errorf("parser not found: %s", name)
	}
	return p, nil
}

// Route picks the parser for a page URL by domain substring.
func (r *ParserRegistry) Route(pageURL string) BlockParser {
	lower := strings.ToLower(pageURL)
	for _, rt := range r.routes {
		if strings.Contains(lower, rt.domain) {
			return r.parsers[rt.parser]
		}
	}
	return r.fallback
}

// For returns the source's explicit parser, or routes by its URL.
func (r *ParserRegistry) For(src SourceConfig) (BlockParser, error) {
	if src.Parser != "" {
		return r.Get(src.Parser)
	}
	p := r.Route(src.URL)
	if p == nil {
		return nil, fmt.Errorf("no parser for %s", src.URL)
	}
	return p, nil
}

// DefaultParsers returns the registry with the built-in site parsers.
func DefaultParsers() *ParserRegistry {
	r := NewParserRegistry(&GenericParser{MaxBlocks: 10, MinTitleLen: 11})
	r.Register(&GrantsGovAUParser{}, "grants.gov.au")
	r.Register(&CreativeAustraliaParser{}, "creative.gov.au")
	return r
}

func loadDocument(content string) (*goquery.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty document")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// classMatches keeps elements whose class attribute matches re.
func classMatches(re *regexp.Regexp) func(int, *goquery.Selection) bool {
	return func(_ int, s *goquery.Selection) bool {
		class, ok := s.Attr("class")
		return ok && re.MatchString(class)
	}
}

// headingText returns the text of the first heading in tags whose class matches re.
func headingText(s *goquery.Selection, tags string, re *regexp.Regexp) string {
	h := s.Find(tags).FilterFunction(classMatches(re)).First()
	if h.Length() == 0 {
		return ""
	}
	return normalizeSpace(h.Text())
}

// blockText returns the visible text of s with a space between text nodes.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return normalizeSpace(b.String())
}

// firstLink resolves the first a[href] in s against baseURL; no link yields baseURL.
func firstLink(s *goquery.Selection, baseURL string) string {
	href, ok := s.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return baseURL
	}
	return resolveURL(baseURL, href)
}

// pdfLink resolves the first link to a PDF in s, or returns "".
func pdfLink(s *goquery.Selection, baseURL string) string {
	var found string
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if isPDFLink(href) {
			found = resolveURL(baseURL, href)
			return false
		}
		return true
	})
	return found
}
