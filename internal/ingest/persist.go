package ingest

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/david/grant-discovery/internal/models"
)

// GrantStore is the record store the Persister writes through.
// Uniqueness of (name, funder) is enforced by the store itself.
type GrantStore interface {
	FindGrantID(ctx context.Context, name, funder string) (uuid.UUID, bool, error)
	// InsertGrant may return uuid.Nil when the store does not echo ids back.
	InsertGrant(ctx context.Context, g *models.Grant) (uuid.UUID, error)
	UpdateGrant(ctx context.Context, id uuid.UUID, g *models.Grant) error
	UpsertGrantMetadata(ctx context.Context, m *models.GrantMetadata) error
	InsertReport(ctx context.Context, r *models.DiscoveryReport) error
}

// PersistStats counts what a Persist call did.
type PersistStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Persister writes candidates to a GrantStore as grant + metadata pairs.
type Persister struct {
	Store  GrantStore
	Now    func() time.Time
	policy *bluemonday.Policy
}

func NewPersister(store GrantStore) *Persister {
	return &Persister{
		Store:  store,
		Now:    time.Now,
		policy: bluemonday.StrictPolicy(),
	}
}

// Persist upserts each candidate by (title, source). A failing record is
// logged and counted, and the rest continue. Cancellation stops between
// records; records already written stay written.
func (p *Persister) Persist(ctx context.Context, cands []GrantCandidate) (PersistStats, error) {
	var stats PersistStats
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		inserted, err := p.persistOne(ctx, c)
		if err != nil {
			stats.Failed++
			log.Printf("[Persist] Failed to save %q: %v", c.Title, err)
			continue
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	log.Printf("[Persist] Complete: %d inserted, %d updated, %d failed", stats.Inserted, stats.Updated, stats.Failed)
	return stats, nil
}

// SaveReport stores the run summary.
func (p *Persister) SaveReport(ctx context.Context, r *models.DiscoveryReport) error {
	if err := p.Store.InsertReport(ctx, r); err != nil {
		return fmt.Errorf("save discovery report: %w", err)
	}
	return nil
}

func (p *Persister) persistOne(ctx context.Context, c GrantCandidate) (bool, error) {
	now := p.now()
	g := p.toGrant(c)
	if g.Name == "" {
		return false, fmt.Errorf("empty title")
	}

	id, found, err := p.Store.FindGrantID(ctx, g.Name, g.Funder)
	if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}

	inserted := false
	if found {
		g.UpdatedAt = now
		if err := p.Store.UpdateGrant(ctx, id, &g); err != nil {
			return false, fmt.Errorf("update: %w", err)
		}
	} else {
		g.CreatedAt = now
		g.UpdatedAt = now
		id, err = p.Store.InsertGrant(ctx, &g)
		if err != nil {
			return false, fmt.Errorf("insert: %w", err)
		}
		if id == uuid.Nil {
			id, found, err = p.Store.FindGrantID(ctx, g.Name, g.Funder)
			if err != nil {
				return false, fmt.Errorf("lookup after insert: %w", err)
			}
			if !found {
				return false, fmt.Errorf("grant id unavailable after insert")
			}
		}
		inserted = true
	}

	meta := p.toMetadata(id, c, now)
	if err := p.Store.UpsertGrantMetadata(ctx, &meta); err != nil {
		return inserted, fmt.Errorf("metadata: %w", err)
	}
	return inserted, nil
}

func (p *Persister) toGrant(c GrantCandidate) models.Grant {
	g := models.Grant{
		Name:         p.plain(c.Title),
		Funder:       p.plain(c.Source),
		Description:  p.plain(c.Summary),
		AmountString: p.plain(c.Amount),
		DueDateRaw:   p.plain(c.DueDate),
		Status:       models.StatusPotential,
		SourceURL:    canonicalizeURL(c.URL),
	}
	if due, ok := ParseDueDate(c.DueDate); ok {
		g.DueDate = &due
	}
	return g
}

func (p *Persister) toMetadata(id uuid.UUID, c GrantCandidate, now time.Time) models.GrantMetadata {
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = appendUnique(tags, p.plain(t))
	}
	return models.GrantMetadata{
		GrantID:              id,
		Tags:                 tags,
		RelevanceScore:       clampScore(c.Score),
		Urgency:              string(c.Urgency),
		CallStatus:           string(c.CallStatus),
		GrantType:            p.plain(c.GrantType),
		EligibilityText:      p.plain(c.Eligibility),
		PDFURL:               c.PDFURL,
		EstimatedEligibility: c.EstimatedEligibility,
		Recurrence:           c.Recurrence,
		OpenDate:             c.OpenDate,
		Notes:                p.plain(c.Notes),
		DiscoveryDate:        now,
	}
}

// plain strips markup from scraped text before it is stored.
func (p *Persister) plain(s string) string {
	if p.policy == nil {
		p.policy = bluemonday.StrictPolicy()
	}
	return normalizeSpace(html.UnescapeString(p.policy.Sanitize(sanitizeUTF8(s))))
}

func (p *Persister) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// canonicalizeURL lowercases the host and drops fragments and tracking parameters.
func canonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, k := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok"} {
		q.Del(k)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
