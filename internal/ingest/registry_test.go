package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-discovery/internal/ingest"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistryEmbedded(t *testing.T) {
	reg, err := ingest.LoadRegistry("")
	require.NoError(t, err)
	require.NotEmpty(t, reg.Sources)

	src, ok := reg.Find("grants_gov_au")
	require.True(t, ok)
	assert.Equal(t, "grants_gov_au", src.Parser)
	assert.Equal(t, "https://www.grants.gov.au", src.URL)

	for _, s := range reg.Active() {
		assert.True(t, s.Active)
		assert.NotEmpty(t, s.URL)
	}
}

func TestLoadRegistryFromFile(t *testing.T) {
	t.Setenv("TEST_SOURCE_URL", "https://example.org/funding")

	path := writeFile(t, "sources.yaml", `
sources:
  - name: Example
    url: ${TEST_SOURCE_URL}
    active: true
  - id: off
    name: Disabled
    url: https://disabled.example.org
    active: false
`)
	reg, err := ingest.LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, reg.Sources, 2)

	assert.Equal(t, "https://example.org/funding", reg.Sources[0].URL)
	assert.Equal(t, "example.org", reg.Sources[0].ID, "id defaults to the host")
	assert.Len(t, reg.Active(), 1)

	_, ok := reg.Find("missing")
	assert.False(t, ok)
}

func TestLoadRegistryErrors(t *testing.T) {
	_, err := ingest.LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = ingest.LoadRegistry(writeFile(t, "bad.yaml", "sources:\n  - id: x\n    name: No URL\n"))
	assert.ErrorContains(t, err, "no url")

	_, err = ingest.LoadRegistry(writeFile(t, "broken.yaml", "sources: [\n"))
	assert.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	p, err := ingest.LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, "media company", p.Type)
	assert.Equal(t, 70, p.Scoring.HighRelevance)
	assert.Equal(t, 14, p.Scoring.HotWindowDays)
	assert.Equal(t, 15, p.Scoring.EligibilityBonus)

	custom, err := ingest.LoadProfile(writeFile(t, "profile.yaml", `
type: research lab
scoring:
  focus_weights:
    - phrase: research
      weight: 50
`))
	require.NoError(t, err)
	assert.Equal(t, 70, custom.Scoring.HighRelevance, "threshold defaults")
	assert.Equal(t, 14, custom.Scoring.HotWindowDays)

	_, err = ingest.LoadProfile(writeFile(t, "empty.yaml", "type: nobody\n"))
	assert.Error(t, err)

	_, err = ingest.LoadProfile(writeFile(t, "neg.yaml", `
scoring:
  focus_weights:
    - phrase: x
      weight: -5
`))
	assert.ErrorContains(t, err, "negative")
}

func TestLoadVocabulary(t *testing.T) {
	v, err := ingest.LoadVocabulary("")
	require.NoError(t, err)
	assert.Equal(t, 200, v.SummaryMaxChars)
	assert.NotEmpty(t, v.EligibilityKeywords)

	_, err = ingest.LoadVocabulary(writeFile(t, "vocab.yaml", "summary_max_chars: 100\n"))
	assert.Error(t, err)
}
