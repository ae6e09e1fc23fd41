package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-discovery/internal/models"
)

type grantKey struct {
	name   string
	funder string
}

type trackKey struct {
	user  uuid.UUID
	grant uuid.UUID
}

// MemoryStore is a process-local Store used by dry runs and tests.
// It enforces the same (name, funder) uniqueness as the schema.
type MemoryStore struct {
	mu       sync.RWMutex
	grants   map[uuid.UUID]models.Grant
	byKey    map[grantKey]uuid.UUID
	metadata map[uuid.UUID]models.GrantMetadata
	reports  []models.DiscoveryReport
	users    map[string]models.User
	tracked  map[trackKey]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants:   map[uuid.UUID]models.Grant{},
		byKey:    map[grantKey]uuid.UUID{},
		metadata: map[uuid.UUID]models.GrantMetadata{},
		users:    map[string]models.User{},
		tracked:  map[trackKey]time.Time{},
	}
}

func (s *MemoryStore) FindGrantID(_ context.Context, name, funder string) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[grantKey{name, funder}]
	return id, ok, nil
}

func (s *MemoryStore) InsertGrant(_ context.Context, g *models.Grant) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{g.Name, g.Funder}
	if _, exists := s.byKey[key]; exists {
		return uuid.Nil, nil
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	s.grants[g.ID] = *g
	s.byKey[key] = g.ID
	return g.ID, nil
}

func (s *MemoryStore) UpdateGrant(_ context.Context, id uuid.UUID, g *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	cur.Description = g.Description
	cur.AmountString = g.AmountString
	cur.DueDate = g.DueDate
	cur.DueDateRaw = g.DueDateRaw
	cur.SourceURL = g.SourceURL
	cur.UpdatedAt = g.UpdatedAt
	s.grants[id] = cur
	return nil
}

func (s *MemoryStore) UpdateGrantStatus(_ context.Context, id uuid.UUID, status string) error {
	if !models.ValidGrantStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	cur.Status = status
	cur.UpdatedAt = time.Now()
	s.grants[id] = cur
	return nil
}

func (s *MemoryStore) UpsertGrantMetadata(_ context.Context, m *models.GrantMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[m.GrantID]; !ok {
		return fmt.Errorf("grant %s: %w", m.GrantID, ErrNotFound)
	}
	next := *m
	next.Tags = append([]string{}, m.Tags...)
	if prev, ok := s.metadata[m.GrantID]; ok {
		next.DiscoveryDate = prev.DiscoveryDate
		if next.Notes == "" {
			next.Notes = prev.Notes
		}
	}
	s.metadata[m.GrantID] = next
	return nil
}

func (s *MemoryStore) InsertReport(_ context.Context, r *models.DiscoveryReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.reports = append(s.reports, *r)
	return nil
}

func (s *MemoryStore) LatestReports(_ context.Context, n int) ([]models.DiscoveryReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		n = 1
	}

	out := append([]models.DiscoveryReport{}, s.reports...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DiscoveryDate.After(out[j].DiscoveryDate)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// view must be called with the lock held.
func (s *MemoryStore) view(id uuid.UUID) models.GrantView {
	v := models.GrantView{Grant: s.grants[id]}
	if m, ok := s.metadata[id]; ok {
		m.Tags = append([]string{}, m.Tags...)
		v.Metadata = &m
	}
	return v
}

func (s *MemoryStore) GetGrant(_ context.Context, id uuid.UUID) (*models.GrantView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.grants[id]; !ok {
		return nil, ErrNotFound
	}
	v := s.view(id)
	return &v, nil
}

func (s *MemoryStore) ListGrants(_ context.Context, params ListParams) (*ListResult, error) {
	params.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []models.GrantView{}
	for id := range s.grants {
		v := s.view(id)
		if matchesList(v, params) {
			matched = append(matched, v)
		}
	}
	sortViews(matched, params.SortBy)

	total := len(matched)
	start := min(params.Offset, total)
	end := min(start+params.Limit, total)

	return &ListResult{
		Grants: matched[start:end],
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

// matchesList mirrors buildListWhere.
func matchesList(v models.GrantView, p ListParams) bool {
	m := v.Metadata
	if m == nil {
		m = &models.GrantMetadata{}
	}
	if p.Query != "" {
		q := strings.ToLower(p.Query)
		if !strings.Contains(strings.ToLower(v.Name), q) && !strings.Contains(strings.ToLower(v.Description), q) {
			return false
		}
	}
	if p.Source != "" && v.Funder != p.Source {
		return false
	}
	if p.MinScore > 0 && m.RelevanceScore < p.MinScore {
		return false
	}
	if p.Urgency != "" && m.Urgency != p.Urgency {
		return false
	}
	if p.CallStatus != "" && m.CallStatus != p.CallStatus {
		return false
	}
	if p.Tag != "" && !hasTag(m.Tags, p.Tag) {
		return false
	}
	if p.Status != "" && v.Status != p.Status {
		return false
	}
	return true
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sortViews(views []models.GrantView, sortBy string) {
	score := func(v models.GrantView) int {
		if v.Metadata == nil {
			return -1
		}
		return v.Metadata.RelevanceScore
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		switch sortBy {
		case "due_date":
			switch {
			case a.DueDate == nil && b.DueDate == nil:
				return a.Name < b.Name
			case a.DueDate == nil:
				return false
			case b.DueDate == nil:
				return true
			case !a.DueDate.Equal(*b.DueDate):
				return a.DueDate.Before(*b.DueDate)
			}
			return a.Name < b.Name
		case "newest":
			return a.CreatedAt.After(b.CreatedAt)
		default:
			if score(a) != score(b) {
				return score(a) > score(b)
			}
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
			return a.Name < b.Name
		}
	})
}

func (s *MemoryStore) GetSources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	sources := []string{}
	for _, g := range s.grants {
		if !seen[g.Funder] {
			seen[g.Funder] = true
			sources = append(sources, g.Funder)
		}
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *MemoryStore) GetStats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{CallStatusCounts: map[string]int{}}
	funders := map[string]bool{}
	now := time.Now()
	for id, g := range s.grants {
		stats.Total++
		funders[g.Funder] = true
		if g.DueDate != nil && g.DueDate.After(now) {
			stats.WithDeadline++
		}
		m, ok := s.metadata[id]
		if !ok {
			continue
		}
		if m.RelevanceScore >= 70 {
			stats.HighRelevance++
		}
		if m.Urgency == "Hot" {
			stats.Hot++
		}
		stats.CallStatusCounts[m.CallStatus]++
	}
	stats.Sources = len(funders)
	return stats, nil
}

func (s *MemoryStore) UserExists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[email]
	return ok, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return nil, fmt.Errorf("insert failed: duplicate email %q", email)
	}
	u := models.User{ID: uuid.New(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	s.users[email] = u
	u.PasswordHash = ""
	return &u, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return nil, false, nil
	}
	return &u, true, nil
}

func (s *MemoryStore) TrackGrant(_ context.Context, userID, grantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grantID]; !ok {
		return ErrNotFound
	}
	key := trackKey{userID, grantID}
	if _, ok := s.tracked[key]; !ok {
		s.tracked[key] = time.Now()
	}
	return nil
}

func (s *MemoryStore) UntrackGrant(_ context.Context, userID, grantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, trackKey{userID, grantID})
	return nil
}

func (s *MemoryStore) ListTrackedGrants(_ context.Context, userID uuid.UUID) ([]models.TrackedGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.TrackedGrant{}
	for key, at := range s.tracked {
		if key.user != userID {
			continue
		}
		if _, ok := s.grants[key.grant]; !ok {
			continue
		}
		out = append(out, models.TrackedGrant{GrantView: s.view(key.grant), TrackedAt: at})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TrackedAt.After(out[j].TrackedAt)
	})
	return out, nil
}
