// Package export writes discovered grant candidates as CSV, JSON or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/david/grant-discovery/internal/ingest"
)

// Columns is the header row shared by the CSV and XLSX writers.
var Columns = []string{
	"title", "source", "amount", "due_date", "summary", "eligibility",
	"tags", "url", "pdf_url", "score", "notes",
}

const sheetName = "Grants"

func row(c ingest.GrantCandidate) []string {
	return []string{
		c.Title,
		c.Source,
		c.Amount,
		c.DueDate,
		c.Summary,
		c.Eligibility,
		strings.Join(c.Tags, ", "),
		c.URL,
		c.PDFURL,
		strconv.Itoa(c.Score),
		c.Notes,
	}
}

func WriteCSV(w io.Writer, cands []ingest.GrantCandidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	for _, c := range cands {
		if err := cw.Write(row(c)); err != nil {
			return fmt.Errorf("csv row %q: %w", c.Title, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes an indented array. Tags are always a list, never null.
func WriteJSON(w io.Writer, cands []ingest.GrantCandidate) error {
	out := make([]ingest.GrantCandidate, len(cands))
	for i, c := range cands {
		if c.Tags == nil {
			c.Tags = []string{}
		}
		out[i] = c
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteXLSX writes a single-sheet workbook with the CSV columns. Scores are
// stored as numbers so the sheet can be sorted.
func WriteXLSX(w io.Writer, cands []ingest.GrantCandidate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, h := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	scoreCol := len(Columns) - 1 // 1-based index of "score"
	for r, c := range cands {
		for i, v := range row(c) {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return err
			}
			var value any = v
			if i+1 == scoreCol {
				value = c.Score
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 40) // title
	_ = f.SetColWidth(sheetName, "B", "D", 20)
	_ = f.SetColWidth(sheetName, "E", "F", 60) // summary, eligibility
	_ = f.SetColWidth(sheetName, "G", "I", 30)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// WriteFile picks the format from the file extension (.csv, .json, .xlsx).
func WriteFile(path string, cands []ingest.GrantCandidate) error {
	var write func(io.Writer, []ingest.GrantCandidate) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = WriteCSV
	case ".json":
		write = WriteJSON
	case ".xlsx":
		write = WriteXLSX
	default:
		return fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, cands); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
