package ingest_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-discovery/internal/ingest"
)

const grantsGovPage = `<html><body>
<div class="grant-listing">
  <h3 class="grant-title">Documentary Production Fund</h3>
  <p>Up to $50,000 for documentary makers. Closes 30/06/2026.</p>
  <a href="/grants/doc-fund">Details</a>
  <a href="/docs/guidelines.pdf">Guidelines</a>
</div>
<article class="opportunity">
  <p>No heading here.</p>
</article>
<div class="footer"><h3 class="title">Contact us</h3></div>
</body></html>`

func TestGrantsGovAUParser(t *testing.T) {
	t.Parallel()

	p := &ingest.GrantsGovAUParser{}
	blocks, err := p.Parse(grantsGovPage, "https://www.grants.gov.au")
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	first := blocks[0]
	assert.Equal(t, "Documentary Production Fund", first.Title)
	assert.Equal(t, "https://www.grants.gov.au/grants/doc-fund", first.URL)
	assert.Equal(t, "https://www.grants.gov.au/docs/guidelines.pdf", first.PDFURL)
	assert.Equal(t, "grants.gov.au", first.Source)
	assert.Contains(t, first.Text, "Up to $50,000")

	assert.Equal(t, ingest.UnknownTitle, blocks[1].Title)
	assert.Equal(t, "https://www.grants.gov.au", blocks[1].URL, "no link falls back to the page URL")
	assert.Empty(t, blocks[1].PDFURL)
}

func TestCreativeAustraliaParser(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<section class="funding-card">
  <h2 class="card-title">Arts Projects for Organisations</h2>
  <p>Support for arts projects. Closes 3 March 2026.</p>
  <a href="https://www.creative.gov.au/funding/arts-projects">Apply</a>
</section>
<div class="funding-nav"><a href="/menu">Menu</a></div>
</body></html>`

	p := &ingest.CreativeAustraliaParser{}
	blocks, err := p.Parse(page, "https://www.creative.gov.au/funding-opportunities/")
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	assert.Equal(t, "Arts Projects for Organisations", blocks[0].Title)
	assert.Equal(t, "Creative Australia", blocks[0].Source)
	assert.Equal(t, "Arts & Culture", blocks[0].GrantType)
	assert.Equal(t, "https://www.creative.gov.au/funding/arts-projects", blocks[0].URL)
}

func TestGenericParser(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div id="content" class="page">
  <div class="grant-item"><h2>Community Media Grant Program</h2><p>Funding for community radio.</p></div>
  <div class="grant-item"><h2>Short</h2></div>
  <div class="grant-item"><h3>Youth Screen Fund 2026</h3><a href="/youth">More</a></div>
  <script>var grant = "ignored";</script>
</div>
</body></html>`

	p := &ingest.GenericParser{MaxBlocks: 10, MinTitleLen: 11}
	blocks, err := p.Parse(page, "https://example.org/grants")
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "Community Media Grant Program", blocks[0].Title)
	assert.Equal(t, "https://example.org/grants", blocks[0].URL)
	assert.Equal(t, "example.org", blocks[0].Source)
	assert.Equal(t, "Community Media Grant Program Funding for community radio.", blocks[0].Text)

	assert.Equal(t, "Youth Screen Fund 2026", blocks[1].Title)
	assert.Equal(t, "https://example.org/youth", blocks[1].URL)
}

func TestGenericParserUsesCardWhenDetailsHaveNoTitle(t *testing.T) {
	t.Parallel()

	page := `<html><body><main>
<div class="grant-card"><h3>Documentary Development Fund</h3>
  <div class="details">Applications close 30 June 2026. Funding up to $20,000.</div></div>
<div class="grant-card"><h3>Emerging Producers Program</h3>
  <div class="details">Applications open year round.</div><a href="/producers">Details</a></div>
</main></body></html>`

	p := &ingest.GenericParser{MaxBlocks: 10, MinTitleLen: 11}
	blocks, err := p.Parse(page, "https://screen.example.org/funding")
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "Documentary Development Fund", blocks[0].Title)
	assert.Contains(t, blocks[0].Text, "Funding up to $20,000.")
	assert.Equal(t, "https://screen.example.org/funding", blocks[0].URL)

	assert.Equal(t, "Emerging Producers Program", blocks[1].Title)
	assert.Equal(t, "https://screen.example.org/producers", blocks[1].URL)
}

func TestGenericParserCapsBlocks(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, `<div class="funding"><h2>Regional Funding Round %d</h2></div>`, i)
	}
	b.WriteString("</body></html>")

	p := &ingest.GenericParser{MaxBlocks: 10, MinTitleLen: 11}
	blocks, err := p.Parse(b.String(), "https://example.org")
	require.NoError(t, err)
	assert.Len(t, blocks, 10)
	assert.Equal(t, "Regional Funding Round 0", blocks[0].Title)
}

func TestParsersRejectEmptyDocument(t *testing.T) {
	t.Parallel()

	for _, p := range []ingest.BlockParser{
		&ingest.GrantsGovAUParser{},
		&ingest.CreativeAustraliaParser{},
		&ingest.GenericParser{},
	} {
		_, err := p.Parse("  ", "https://example.org")
		assert.Error(t, err, p.Name())
	}
}

func TestParserRegistry(t *testing.T) {
	t.Parallel()

	r := ingest.DefaultParsers()

	tests := []struct {
		name string
		src  ingest.SourceConfig
		want string
	}{
		{"explicit", ingest.SourceConfig{URL: "https://example.org", Parser: "creative_gov_au"}, "creative_gov_au"},
		{"routed by domain", ingest.SourceConfig{URL: "https://www.grants.gov.au/Go/List"}, "grants_gov_au"},
		{"fallback", ingest.SourceConfig{URL: "https://www.screen.org.au/funding-support/"}, "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.For(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}

	_, err := r.For(ingest.SourceConfig{URL: "https://example.org", Parser: "missing"})
	assert.Error(t, err)
}
