package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/db"
	"github.com/david/grant-discovery/internal/export"
	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/models"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Discover and export only; do not write to the database")
	sourceID := flag.String("source", "", "Run a single source by id (default: all active sources)")
	minScore := flag.Int("min-score", 0, "Only keep grants scoring at least this much [0,100]")
	outputs := flag.String("out", "", "Comma-separated export files; format follows the extension (.csv, .json, .xlsx)")
	top := flag.Int("top", 10, "Number of grants to print")
	flag.Parse()

	if *minScore < 0 || *minScore > 100 {
		exitErr(errors.New("min-score must be between 0 and 100"))
	}

	cfg, err := config.FromEnv()
	if err != nil {
		exitErr(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := ingest.LoadRegistry(cfg.SourcesPath)
	if err != nil {
		exitErr(err)
	}
	sources := registry.Active()
	if *sourceID != "" {
		src, ok := registry.Find(*sourceID)
		if !ok {
			exitErr(fmt.Errorf("unknown source %q", *sourceID))
		}
		sources = []ingest.SourceConfig{src}
	}
	if len(sources) == 0 {
		exitErr(errors.New("no active sources in registry"))
	}

	profile, err := ingest.LoadProfile(cfg.ProfilePath)
	if err != nil {
		exitErr(err)
	}
	vocab, err := ingest.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		exitErr(err)
	}

	fetcher := ingest.NewFetcher(cfg.Fetcher, cfg.FetchConfig())
	if closer, ok := fetcher.(interface{ Close() }); ok {
		defer closer.Close()
	}
	discoverer := ingest.NewDiscoverer(fetcher, vocab, profile)
	discoverer.Delay = cfg.SourceDelay

	runner := &ingest.Runner{Discoverer: discoverer, MinScore: *minScore}
	if !*dryRun {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			exitErr(err)
		}
		defer pool.Close()
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			exitErr(err)
		}
		runner.Persister = ingest.NewPersister(db.NewStore(pool))
	}

	fmt.Printf("Searching %d sources...\n", len(sources))
	summary, err := runner.Run(ctx, sources)
	if summary == nil {
		exitErr(err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	for _, path := range strings.Split(*outputs, ",") {
		if path = strings.TrimSpace(path); path == "" {
			continue
		}
		if err := export.WriteFile(path, summary.Candidates); err != nil {
			exitErr(err)
		}
		fmt.Printf("Saved %d grants to %s\n", len(summary.Candidates), path)
	}

	printSources(summary.Report.SourceRuns)
	printTop(summary.Candidates, *top)
	printSummary(summary)

	if err != nil {
		os.Exit(1)
	}
}

func printSources(runs []models.SourceRun) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Parser", "Found", "Failed", "ms", "Error"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.Name, r.Parser, r.Found, r.Failed, r.DurationMs, r.Error})
	}
	t.Render()
}

func printTop(cands []ingest.GrantCandidate, n int) {
	if len(cands) == 0 {
		fmt.Println("No grants found.")
		return
	}
	if n > len(cands) {
		n = len(cands)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Top %d grants", n))
	t.AppendHeader(table.Row{"#", "Score", "Title", "Source", "Amount", "Due", "Urgency", "Tags"})
	for i, c := range cands[:n] {
		t.AppendRow(table.Row{
			i + 1, c.Score, truncate(c.Title, 60), c.Source, c.Amount, c.DueDate, c.Urgency,
			strings.Join(c.Tags, ", "),
		})
	}
	t.Render()
}

func printSummary(s *ingest.RunSummary) {
	r := s.Report
	fmt.Printf("\nTotal: %d  High relevance: %d  Urgent: %d  Total amount: $%.0f\n",
		r.TotalGrants, r.HighRelevanceGrants, r.UrgentGrants, r.TotalAmount)
	if s.Cancelled {
		fmt.Println("Run was cancelled; nothing was saved.")
		return
	}
	fmt.Printf("Kept: %d  Inserted: %d  Updated: %d  Failed: %d\n",
		s.Kept, s.Persist.Inserted, s.Persist.Updated, s.Persist.Failed)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
