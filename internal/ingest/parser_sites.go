package ingest

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var (
	grantsGovBlockRe = regexp.MustCompile(`(?i)grant|funding|opportunity`)
	grantsGovTitleRe = regexp.MustCompile(`(?i)title|heading|name`)
	creativeBlockRe  = regexp.MustCompile(`(?i)funding|grant|program`)
	creativeTitleRe  = regexp.MustCompile(`(?i)title|heading`)
)

// GrantsGovAUParser reads the GrantConnect listing at grants.gov.au.
type GrantsGovAUParser struct{}

func (p *GrantsGovAUParser) Name() string { return "grants_gov_au" }

func (p *GrantsGovAUParser) Parse(content string, baseURL string) ([]RawBlock, error) {
	doc, err := loadDocument(content)
	if err != nil {
		return nil, err
	}

	var blocks []RawBlock
	doc.Find("div, article").FilterFunction(classMatches(grantsGovBlockRe)).Each(func(_ int, item *goquery.Selection) {
		blocks = append(blocks, RawBlock{
			Title:  firstNonEmpty(headingText(item, "h1, h2, h3, h4", grantsGovTitleRe), UnknownTitle),
			Text:   blockText(item),
			URL:    firstLink(item, baseURL),
			PDFURL: pdfLink(item, baseURL),
			Source: "grants.gov.au",
		})
	})
	return blocks, nil
}

// CreativeAustraliaParser reads funding listings on creative.gov.au.
// Blocks without a titled heading are navigation chrome and are skipped.
type CreativeAustraliaParser struct{}

func (p *CreativeAustraliaParser) Name() string { return "creative_gov_au" }

func (p *CreativeAustraliaParser) Parse(content string, baseURL string) ([]RawBlock, error) {
	doc, err := loadDocument(content)
	if err != nil {
		return nil, err
	}

	var blocks []RawBlock
	doc.Find("div, section").FilterFunction(classMatches(creativeBlockRe)).Each(func(_ int, item *goquery.Selection) {
		title := headingText(item, "h1, h2, h3", creativeTitleRe)
		if title == "" {
			return
		}
		blocks = append(blocks, RawBlock{
			Title:     title,
			Text:      blockText(item),
			URL:       firstLink(item, baseURL),
			PDFURL:    pdfLink(item, baseURL),
			Source:    "Creative Australia",
			GrantType: "Arts & Culture",
		})
	})
	return blocks, nil
}
