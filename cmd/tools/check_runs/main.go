package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/db"
)

func main() {
	limit := flag.Int("n", 10, "Number of reports to show")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	reports, err := db.NewStore(pool).LatestReports(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}
	if len(reports) == 0 {
		fmt.Println("No discovery runs recorded yet.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Date", "Grants", "High", "Urgent", "Total Amount", "Sources", "Failed Sources"})
	for _, r := range reports {
		failed := 0
		for _, run := range r.SourceRuns {
			if run.Error != "" {
				failed++
			}
		}
		t.AppendRow(table.Row{
			r.DiscoveryDate.Local().Format("2006-01-02 15:04"),
			r.TotalGrants, r.HighRelevanceGrants, r.UrgentGrants,
			fmt.Sprintf("$%.0f", r.TotalAmount),
			len(r.SourceRuns), failed,
		})
	}
	t.Render()

	// Per-source detail for the most recent run.
	latest := reports[0]
	runs := append(latest.SourceRuns[:0:0], latest.SourceRuns...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Found > runs[j].Found })

	st := table.NewWriter()
	st.SetOutputMirror(os.Stdout)
	st.SetTitle("Latest run by source")
	st.AppendHeader(table.Row{"Source", "Parser", "Found", "Failed", "Duration", "Error"})
	for _, run := range runs {
		st.AppendRow(table.Row{
			run.SourceID, run.Parser, run.Found, run.Failed,
			(time.Duration(run.DurationMs) * time.Millisecond).Round(time.Millisecond).String(),
			run.Error,
		})
	}
	st.Render()
}
