package ingest

import (
	"regexp"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var genericBlockRe = regexp.MustCompile(`(?i)grant|funding|opportunit|application`)

// GenericParser is the fallback for sites without a dedicated parser.
// Candidates are div/article/section elements that mention grants in their
// class, id or text. The innermost matches are preferred so page wrappers do
// not shadow the listings inside them; an innermost match without a usable
// title (a card's detail row) is replaced by its nearest titled matching
// ancestor, unless that ancestor already encloses a titled listing.
type GenericParser struct {
	MaxBlocks   int // candidates kept per page
	MinTitleLen int // shorter titles are navigation noise
}

func (p *GenericParser) Name() string { return "generic" }

func (p *GenericParser) Parse(content string, baseURL string) ([]RawBlock, error) {
	doc, err := loadDocument(content)
	if err != nil {
		return nil, err
	}

	all := doc.Find("div, article, section")
	sel := make(map[*html.Node]*goquery.Selection, all.Length())
	matched := make(map[*html.Node]bool)
	all.Each(func(_ int, s *goquery.Selection) {
		sel[s.Nodes[0]] = s
		if p.mentionsGrant(s) {
			matched[s.Nodes[0]] = true
		}
	})

	titles := make(map[*html.Node]string)
	var titled, untitled []*html.Node
	all.Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		if !matched[n] || hasMatchedDescendant(n, matched) {
			return
		}
		if title := genericTitle(s); p.usableTitle(title) {
			titles[n] = title
			titled = append(titled, n)
		} else {
			untitled = append(untitled, n)
		}
	})

	chosen := make(map[*html.Node]bool, len(titled))
	for _, n := range titled {
		chosen[n] = true
	}
	for _, n := range untitled {
		for a := n.Parent; a != nil; a = a.Parent {
			if !matched[a] {
				continue
			}
			if enclosesAny(a, titled) {
				break
			}
			if title := genericTitle(sel[a]); p.usableTitle(title) {
				chosen[a] = true
				titles[a] = title
				break
			}
		}
	}

	source := extractDomain(baseURL)
	var blocks []RawBlock
	all.Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		if !chosen[n] || (p.MaxBlocks > 0 && len(blocks) >= p.MaxBlocks) {
			return
		}
		blocks = append(blocks, RawBlock{
			Title:  titles[n],
			Text:   blockText(s),
			URL:    firstLink(s, baseURL),
			PDFURL: pdfLink(s, baseURL),
			Source: source,
		})
	})
	return blocks, nil
}

func (p *GenericParser) usableTitle(title string) bool {
	return title != "" && utf8.RuneCountInString(title) >= p.MinTitleLen
}

func (p *GenericParser) mentionsGrant(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	if genericBlockRe.MatchString(class) || genericBlockRe.MatchString(id) {
		return true
	}
	return genericBlockRe.MatchString(blockText(s))
}

// enclosesAny reports whether any of nodes sits inside anc.
func enclosesAny(anc *html.Node, nodes []*html.Node) bool {
	for _, n := range nodes {
		for p := n.Parent; p != nil; p = p.Parent {
			if p == anc {
				return true
			}
		}
	}
	return false
}

func hasMatchedDescendant(n *html.Node, matched map[*html.Node]bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if matched[c] || hasMatchedDescendant(c, matched) {
			return true
		}
	}
	return false
}

// genericTitle takes the first heading by rank, then the first link's text.
func genericTitle(s *goquery.Selection) string {
	for _, tag := range []string{"h1", "h2", "h3", "h4", "h5"} {
		if h := s.Find(tag).First(); h.Length() > 0 {
			return normalizeSpace(h.Text())
		}
	}
	if a := s.Find("a").First(); a.Length() > 0 {
		return normalizeSpace(a.Text())
	}
	return ""
}
