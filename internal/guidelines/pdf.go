package guidelines

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	rpdf "rsc.io/pdf"
)

// ErrNotPDF is returned for input that does not start with a PDF header.
var ErrNotPDF = errors.New("only PDF files are supported")

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether header begins with the PDF magic bytes.
func IsPDF(header []byte) bool {
	return bytes.HasPrefix(header, pdfMagic)
}

// ExtractPDFText returns the text of every page, one output line per text
// line on the page and a blank line between pages. The PDF library panics
// on some malformed files; those panics come back as errors.
func ExtractPDFText(r io.ReaderAt, size int64) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	head := make([]byte, len(pdfMagic))
	if _, err := r.ReadAt(head, 0); err != nil || !IsPDF(head) {
		return "", ErrNotPDF
	}

	reader, err := rpdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("error reading PDF: %w", err)
	}
	if reader.NumPage() == 0 {
		return "", fmt.Errorf("error reading PDF: no pages")
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		writePageText(&b, page.Content().Text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ExtractPDFFile opens path and extracts its text.
func ExtractPDFFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return ExtractPDFText(f, info.Size())
}

// writePageText joins glyph runs into lines. A baseline shift of more than
// half the font size starts a new line; a horizontal gap wider than a space
// inserts one.
func writePageText(b *strings.Builder, glyphs []rpdf.Text) {
	var last *rpdf.Text
	for i := range glyphs {
		g := &glyphs[i]
		if g.S == "" {
			continue
		}
		if last != nil {
			size := math.Max(last.FontSize, 1)
			switch {
			case math.Abs(g.Y-last.Y) > size/2:
				b.WriteString("\n")
			case wordGap(last, g, size) && !strings.HasSuffix(last.S, " ") && g.S != " ":
				b.WriteString(" ")
			}
		}
		b.WriteString(g.S)
		last = g
	}
	if last != nil {
		b.WriteString("\n")
	}
}

func wordGap(prev, next *rpdf.Text, size float64) bool {
	if prev.W > 0 {
		return next.X-(prev.X+prev.W) > 0.2*size
	}
	// No advance width recorded: only a gap wider than a full em counts.
	return next.X-prev.X > size
}
