package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

// maxPageBytes bounds how much of a page is read into memory.
const maxPageBytes = 10 * 1024 * 1024

// DiscoveryResult is the outcome of one discovery run.
type DiscoveryResult struct {
	Candidates []GrantCandidate
	SourceRuns []models.SourceRun
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
}

// Discoverer runs fetch → parse → extract → score over a list of sources,
// one source at a time.
type Discoverer struct {
	Fetcher   Fetcher
	Parsers   *ParserRegistry
	Extractor *Extractor
	Scorer    *Scorer
	Delay     time.Duration    // pause between sources
	Now       func() time.Time // clock used for urgency; defaults to time.Now
}

// NewDiscoverer wires a Discoverer with the default parsers and a one second politeness delay.
func NewDiscoverer(fetcher Fetcher, vocab Vocabulary, profile OrganizationProfile) *Discoverer {
	return &Discoverer{
		Fetcher:   fetcher,
		Parsers:   DefaultParsers(),
		Extractor: NewExtractor(vocab),
		Scorer:    NewScorer(profile),
		Delay:     time.Second,
		Now:       time.Now,
	}
}

// Discover crawls sources in order. A failing source is logged and recorded in
// its SourceRun; it never aborts the batch. Cancellation stops before the next
// source and returns what was gathered so far. Results are deduplicated by
// title and sorted by descending score.
func (d *Discoverer) Discover(ctx context.Context, sources []SourceConfig) (*DiscoveryResult, error) {
	if d.Fetcher == nil || d.Parsers == nil || d.Extractor == nil || d.Scorer == nil {
		return nil, fmt.Errorf("discoverer is not fully configured")
	}

	res := &DiscoveryResult{StartedAt: d.now()}
	var all []GrantCandidate

	for i, src := range sources {
		if i > 0 && d.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.Delay):
			}
		}
		if ctx.Err() != nil {
			log.Printf("[Discovery] Cancelled before %s: %v", src.URL, ctx.Err())
			res.Cancelled = true
			break
		}

		log.Printf("[Discovery] Scraping %s...", src.URL)
		start := time.Now()
		found, run := d.discoverSource(ctx, src)
		run.DurationMs = time.Since(start).Milliseconds()
		res.SourceRuns = append(res.SourceRuns, run)
		all = append(all, found...)

		if run.Error != "" {
			log.Printf("[Discovery] Error scraping %s: %s", src.URL, run.Error)
			continue
		}
		log.Printf("[Discovery] Found %d grants from %s", len(found), src.URL)
	}
	// A cancel during the last fetch leaves the loop without passing the check above.
	if !res.Cancelled && ctx.Err() != nil {
		log.Printf("[Discovery] Cancelled: %v", ctx.Err())
		res.Cancelled = true
	}

	res.Candidates = SortByScore(Deduplicate(all))
	res.FinishedAt = d.now()
	return res, nil
}

func (d *Discoverer) discoverSource(ctx context.Context, src SourceConfig) ([]GrantCandidate, models.SourceRun) {
	run := models.SourceRun{SourceID: src.ID, Name: src.Name, URL: src.URL}

	parser, err := d.Parsers.For(src)
	if err != nil {
		run.Error = err.Error()
		return nil, run
	}
	run.Parser = parser.Name()

	doc, err := d.Fetcher.Fetch(ctx, src.URL)
	if err != nil {
		run.Error = fmt.Sprintf("fetch error: %v", err)
		return nil, run
	}
	body, err := io.ReadAll(io.LimitReader(doc.Body, maxPageBytes))
	doc.Body.Close()
	if err != nil {
		run.Error = fmt.Sprintf("read error: %v", err)
		return nil, run
	}

	blocks, err := parser.Parse(sanitizeUTF8(string(body)), src.URL)
	if err != nil {
		run.Error = fmt.Sprintf("parse error: %v", err)
		return nil, run
	}

	now := d.now()
	var out []GrantCandidate
	for _, block := range blocks {
		c, err := d.buildCandidate(block, now)
		if err != nil {
			run.Failed++
			log.Printf("[Discovery] Error extracting grant from %s: %v", src.URL, err)
			continue
		}
		out = append(out, c)
	}
	run.Found = len(out)
	return out, run
}

// buildCandidate isolates a single block so one malformed fragment cannot
// take down its whole page.
func (d *Discoverer) buildCandidate(block RawBlock, now time.Time) (c GrantCandidate, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("extract panic: %v", recovered)
		}
	}()

	c = d.Extractor.Build(block)
	d.Scorer.Annotate(&c, now)
	return c, nil
}

func (d *Discoverer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Deduplicate keeps the first candidate for each normalized title.
func Deduplicate(cands []GrantCandidate) []GrantCandidate {
	seen := make(map[string]struct{}, len(cands))
	out := make([]GrantCandidate, 0, len(cands))
	for _, c := range cands {
		key := NormalizeTitleKey(c.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// SortByScore orders candidates by descending score; ties keep input order.
func SortByScore(cands []GrantCandidate) []GrantCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
	return cands
}

// FilterMinScore returns the candidates scoring at least min, preserving order.
func FilterMinScore(cands []GrantCandidate, min int) []GrantCandidate {
	var out []GrantCandidate
	for _, c := range cands {
		if c.Score >= min {
			out = append(out, c)
		}
	}
	return out
}
