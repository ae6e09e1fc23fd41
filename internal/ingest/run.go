package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/david/grant-discovery/internal/models"
)

// Runner is one full batch: discover, keep what clears MinScore, persist it
// and store the run report. A nil Persister makes it a dry run.
type Runner struct {
	Discoverer *Discoverer
	Persister  *Persister
	MinScore   int
}

// RunSummary is what a batch produced.
type RunSummary struct {
	Report     models.DiscoveryReport `json:"report"`
	Persist    PersistStats           `json:"persist"`
	Kept       int                    `json:"kept"`
	Cancelled  bool                   `json:"cancelled"`
	Candidates []GrantCandidate       `json:"-"`
}

// Run discovers over sources and persists the kept candidates. The report
// covers every discovered candidate. If ctx ends during discovery nothing is
// persisted and the partial summary is returned with ctx's error.
func (r *Runner) Run(ctx context.Context, sources []SourceConfig) (*RunSummary, error) {
	if r.Discoverer == nil {
		return nil, fmt.Errorf("runner has no discoverer")
	}

	res, err := r.Discoverer.Discover(ctx, sources)
	if err != nil {
		return nil, err
	}

	kept := res.Candidates
	if r.MinScore > 0 {
		kept = FilterMinScore(kept, r.MinScore)
	}

	sum := &RunSummary{
		Report:     BuildReport(res, r.Discoverer.Scorer),
		Kept:       len(kept),
		Cancelled:  res.Cancelled,
		Candidates: kept,
	}
	if res.Cancelled {
		return sum, ctx.Err()
	}
	if r.Persister == nil {
		log.Printf("[Discovery] Dry run: %d of %d grants kept, nothing saved", len(kept), len(res.Candidates))
		return sum, nil
	}

	sum.Persist, err = r.Persister.Persist(ctx, kept)
	if err != nil {
		return sum, fmt.Errorf("persist: %w", err)
	}
	if err := r.Persister.SaveReport(ctx, &sum.Report); err != nil {
		return sum, err
	}
	return sum, nil
}
