package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-discovery/internal/guidelines"
)

func main() {
	asJSON := flag.Bool("json", false, "Print the full analysis as JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: analyze_pdf [-json] <file.pdf>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	text, err := guidelines.ExtractPDFFile(flag.Arg(0))
	if err != nil {
		exitErr(err)
	}
	analysis := guidelines.Analyze(text)
	eligibility := guidelines.AnalyzeEligibility(text)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"analysis": analysis, "eligibility": eligibility}); err != nil {
			exitErr(err)
		}
		return
	}

	fmt.Println(analysis.AnalysisSummary)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Task", "Category", "Section", "Priority", "Hours"})
	total := 0
	for i, task := range analysis.Tasks {
		t.AppendRow(table.Row{i + 1, task.Task, task.Category, task.Section, task.Priority, task.EstimatedHours})
		total += task.EstimatedHours
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", total})
	t.Render()

	if len(analysis.KeyDates) > 0 {
		fmt.Println("\nKey dates:")
		for _, d := range analysis.KeyDates {
			fmt.Println("  - " + d)
		}
	}

	verdict := "likely not eligible"
	if eligibility.IsEligible {
		verdict = "likely eligible"
	}
	fmt.Printf("\nEligibility: %s (confidence %.2f)\n", verdict, eligibility.ConfidenceScore)
	if len(eligibility.EligibilityFactors) > 0 {
		fmt.Println("  factors: " + strings.Join(eligibility.EligibilityFactors, "; "))
	}
	for _, r := range eligibility.Recommendations {
		fmt.Println("  - " + r)
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
