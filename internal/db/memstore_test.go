package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/models"
)

func candidates() []ingest.GrantCandidate {
	return []ingest.GrantCandidate{
		{Title: "Documentary Media Fund", Source: "grants.gov.au", Amount: "Up to $80,000", DueDate: "15 March 2026",
			Summary: "Support for <b>documentary</b> makers.", Tags: []string{"Documentary", "Film"}, Score: 80, Urgency: ingest.UrgencyHot,
			CallStatus: ingest.CallOpen, URL: "https://www.grants.gov.au/fund?utm_source=x"},
		{Title: "Community Arts Grant", Source: "Creative Australia", Amount: ingest.AmountNotSpecified, DueDate: ingest.DateNotSpecified,
			Tags: []string{"Arts"}, Score: 35, Urgency: ingest.UrgencyUnknown, CallStatus: ingest.CallNeedsReview},
		{Title: "Youth Innovation Pilot", Source: "example.org", Amount: "$10,000", DueDate: "1 July 2026",
			Tags: []string{"Youth", "Innovation"}, Score: 55, Urgency: ingest.UrgencyNormal, CallStatus: ingest.CallOpen},
	}
}

func TestMemoryStorePersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := ingest.NewPersister(store)
	p.Now = func() time.Time { return time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC) }

	stats, err := p.Persist(ctx, candidates())
	require.NoError(t, err)
	assert.Equal(t, ingest.PersistStats{Inserted: 3}, stats)

	first, err := store.ListGrants(ctx, ListParams{})
	require.NoError(t, err)

	p.Now = func() time.Time { return time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC) }
	stats, err = p.Persist(ctx, candidates())
	require.NoError(t, err)
	assert.Equal(t, ingest.PersistStats{Updated: 3}, stats)

	second, err := store.ListGrants(ctx, ListParams{})
	require.NoError(t, err)
	require.Equal(t, 3, second.Total)
	for i := range first.Grants {
		assert.Equal(t, first.Grants[i].ID, second.Grants[i].ID)
		assert.Equal(t, first.Grants[i].Metadata.DiscoveryDate, second.Grants[i].Metadata.DiscoveryDate)
	}

	top := second.Grants[0]
	assert.Equal(t, "Documentary Media Fund", top.Name)
	assert.Equal(t, "Support for documentary makers.", top.Description)
	assert.Equal(t, "https://www.grants.gov.au/fund", top.SourceURL)
	assert.Equal(t, models.StatusPotential, top.Status)
	require.NotNil(t, top.DueDate)
	assert.Equal(t, "open", top.Metadata.CallStatus)
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := ingest.NewPersister(store).Persist(ctx, candidates())
	require.NoError(t, err)

	tests := []struct {
		name   string
		params ListParams
		want   []string
	}{
		{"min score", ListParams{MinScore: 50}, []string{"Documentary Media Fund", "Youth Innovation Pilot"}},
		{"tag", ListParams{Tag: "Arts"}, []string{"Community Arts Grant"}},
		{"query", ListParams{Query: "DOCUMENTARY"}, []string{"Documentary Media Fund"}},
		{"source", ListParams{Source: "example.org"}, []string{"Youth Innovation Pilot"}},
		{"urgency", ListParams{Urgency: "Hot"}, []string{"Documentary Media Fund"}},
		{"call status", ListParams{CallStatus: "needs_review"}, []string{"Community Arts Grant"}},
		{"due date order", ListParams{SortBy: "due_date"}, []string{"Documentary Media Fund", "Youth Innovation Pilot", "Community Arts Grant"}},
		{"paging", ListParams{Limit: 1, Offset: 1}, []string{"Youth Innovation Pilot"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := store.ListGrants(ctx, tt.params)
			require.NoError(t, err)
			var names []string
			for _, g := range res.Grants {
				names = append(names, g.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestMemoryStoreReportsAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := ingest.NewPersister(store).Persist(ctx, candidates())
	require.NoError(t, err)

	older := models.DiscoveryReport{DiscoveryDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), TotalGrants: 1}
	newer := models.DiscoveryReport{DiscoveryDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), TotalGrants: 3}
	require.NoError(t, store.InsertReport(ctx, &older))
	require.NoError(t, store.InsertReport(ctx, &newer))
	assert.NotEqual(t, uuid.Nil, older.ID)

	reports, err := store.LatestReports(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].TotalGrants)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Sources)
	assert.Equal(t, 1, stats.HighRelevance)
	assert.Equal(t, 1, stats.Hot)
	assert.Equal(t, 2, stats.CallStatusCounts["open"])

	sources, err := store.GetSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Creative Australia", "example.org", "grants.gov.au"}, sources)
}

func TestMemoryStoreStatusAndTracking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := ingest.NewPersister(store).Persist(ctx, candidates())
	require.NoError(t, err)

	id, ok, err := store.FindGrantID(ctx, "Community Arts Grant", "Creative Australia")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.UpdateGrantStatus(ctx, id, models.StatusDrafting))
	assert.Error(t, store.UpdateGrantStatus(ctx, id, "won"))
	assert.ErrorIs(t, store.UpdateGrantStatus(ctx, uuid.New(), models.StatusDrafting), ErrNotFound)

	// a re-run refreshes scraped fields but keeps the workflow status
	_, err = ingest.NewPersister(store).Persist(ctx, candidates())
	require.NoError(t, err)
	v, err := store.GetGrant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDrafting, v.Status)

	user, err := store.CreateUser(ctx, "a@example.com", "hash")
	require.NoError(t, err)
	assert.Empty(t, user.PasswordHash)

	require.NoError(t, store.TrackGrant(ctx, user.ID, id))
	require.NoError(t, store.TrackGrant(ctx, user.ID, id))
	assert.ErrorIs(t, store.TrackGrant(ctx, user.ID, uuid.New()), ErrNotFound)

	tracked, err := store.ListTrackedGrants(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, "Community Arts Grant", tracked[0].Name)

	require.NoError(t, store.UntrackGrant(ctx, user.ID, id))
	tracked, err = store.ListTrackedGrants(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, tracked)
}
