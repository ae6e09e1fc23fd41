package export_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/david/grant-discovery/internal/export"
	"github.com/david/grant-discovery/internal/ingest"
)

func sample() []ingest.GrantCandidate {
	return []ingest.GrantCandidate{
		{
			Title: "Documentary Media Fund", Source: "grants.gov.au", Amount: "$5,000 - $60,000",
			DueDate: "15 March 2026", Summary: "Funding for documentary, film and media.",
			Eligibility: "Applicants must be Australian", Tags: []string{"Documentary", "Film"},
			URL: "https://www.grants.gov.au/fund", PDFURL: "https://www.grants.gov.au/fund.pdf", Score: 80,
		},
		{Title: "Community Arts Grant", Source: "Creative Australia", Score: 20},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, sample()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, export.Columns, records[0])
	assert.Equal(t, []string{
		"Documentary Media Fund", "grants.gov.au", "$5,000 - $60,000", "15 March 2026",
		"Funding for documentary, film and media.", "Applicants must be Australian",
		"Documentary, Film", "https://www.grants.gov.au/fund", "https://www.grants.gov.au/fund.pdf", "80", "",
	}, records[1])
	assert.Equal(t, "", records[2][6])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteJSON(&buf, sample()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, []any{"Documentary", "Film"}, decoded[0]["tags"])
	assert.Equal(t, []any{}, decoded[1]["tags"])
	assert.EqualValues(t, 80, decoded[0]["score"])

	buf.Reset()
	require.NoError(t, export.WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteXLSX(&buf, sample()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Grants")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.Columns, rows[0])
	assert.Equal(t, "Documentary Media Fund", rows[1][0])
	assert.Equal(t, "Documentary, Film", rows[1][6])
	assert.Equal(t, "80", rows[1][9])
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.csv", "out.json", "out.xlsx"} {
		path := filepath.Join(dir, name)
		require.NoError(t, export.WriteFile(path, sample()), name)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size(), name)
	}

	assert.Error(t, export.WriteFile(filepath.Join(dir, "out.txt"), sample()))
}
