package ingest

import (
	"sort"

	"github.com/google/uuid"

	"github.com/david/grant-discovery/internal/models"
)

const (
	reportTopTags   = 10
	reportTopGrants = 20
)

// BuildReport summarizes a discovery run. Candidates are expected in score
// order, as Discover returns them.
func BuildReport(res *DiscoveryResult, scorer *Scorer) models.DiscoveryReport {
	r := models.DiscoveryReport{
		ID:            uuid.New(),
		DiscoveryDate: res.FinishedAt,
		TotalGrants:   len(res.Candidates),
		Sources:       make(map[string]int),
		SourceRuns:    res.SourceRuns,
		TopTags:       []models.TagCount{},
		TopGrants:     []models.TopGrant{},
	}
	if r.DiscoveryDate.IsZero() {
		r.DiscoveryDate = res.StartedAt
	}

	tagCounts := make(map[string]int)
	for _, c := range res.Candidates {
		if scorer != nil && scorer.IsHighRelevance(c.Score) {
			r.HighRelevanceGrants++
		}
		if c.Urgency == UrgencyHot {
			r.UrgentGrants++
		}
		r.TotalAmount += ParseAmountValue(c.Amount)
		r.Sources[c.Source]++
		for _, t := range c.Tags {
			tagCounts[t]++
		}
	}

	r.TopTags = topTags(tagCounts, reportTopTags)

	for i, c := range res.Candidates {
		if i == reportTopGrants {
			break
		}
		r.TopGrants = append(r.TopGrants, models.TopGrant{
			Title:   c.Title,
			Source:  c.Source,
			Score:   c.Score,
			Amount:  c.Amount,
			DueDate: c.DueDate,
			Urgency: string(c.Urgency),
			Tags:    c.Tags,
		})
	}
	return r
}

// topTags returns the n most frequent tags; ties break alphabetically.
func topTags(counts map[string]int, n int) []models.TagCount {
	out := make([]models.TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, models.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
