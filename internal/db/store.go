package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-discovery/internal/models"
)

var ErrNotFound = errors.New("not found")

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	Query      string
	Source     string
	MinScore   int
	Urgency    string
	CallStatus string
	Tag        string
	Status     string
	SortBy     string // "score" (default), "due_date", "newest"
	Limit      int
	Offset     int
}

// Normalize clamps paging to sane bounds.
func (p *ListParams) Normalize() {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	p.Query = strings.TrimSpace(p.Query)
	p.Tag = strings.TrimSpace(p.Tag)
}

type ListResult struct {
	Grants []models.GrantView `json:"grants"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Stats is the dashboard summary of the grant table.
type Stats struct {
	Total            int            `json:"total"`
	Sources          int            `json:"sources"`
	HighRelevance    int            `json:"high_relevance"`
	Hot              int            `json:"hot"`
	WithDeadline     int            `json:"with_deadline"`
	CallStatusCounts map[string]int `json:"call_status_counts"`
}

// grantCols selects a grant joined with its (possibly missing) metadata row.
const grantCols = `g.id, g.name, g.funder, g.description, g.amount_string,
	g.due_date, g.due_date_raw, g.status, g.source_url, g.created_at, g.updated_at,
	m.grant_id, m.tags, m.relevance_score, m.urgency, m.call_status, m.grant_type,
	m.eligibility_text, m.pdf_url, m.estimated_eligibility, m.recurrence, m.open_date,
	m.notes, m.discovery_date`

const grantFrom = `FROM grants g LEFT JOIN grant_metadata m ON m.grant_id = g.id`

func scanGrantView(scan func(dest ...any) error) (models.GrantView, error) {
	var v models.GrantView
	var description, amount, dueRaw, sourceURL *string
	var metaID *uuid.UUID
	var tags []string
	var score *int
	var urgency, callStatus, grantType, eligibility, pdfURL, estimated, recurrence, openDate, notes *string
	var discovered *time.Time

	err := scan(
		&v.ID, &v.Name, &v.Funder, &description, &amount,
		&v.DueDate, &dueRaw, &v.Status, &sourceURL, &v.CreatedAt, &v.UpdatedAt,
		&metaID, &tags, &score, &urgency, &callStatus, &grantType,
		&eligibility, &pdfURL, &estimated, &recurrence, &openDate,
		&notes, &discovered,
	)
	if err != nil {
		return v, err
	}

	v.Description = deref(description)
	v.AmountString = deref(amount)
	v.DueDateRaw = deref(dueRaw)
	v.SourceURL = deref(sourceURL)

	if metaID == nil {
		return v, nil
	}

	m := &models.GrantMetadata{
		GrantID:              *metaID,
		Tags:                 tags,
		Urgency:              deref(urgency),
		CallStatus:           deref(callStatus),
		GrantType:            deref(grantType),
		EligibilityText:      deref(eligibility),
		PDFURL:               deref(pdfURL),
		EstimatedEligibility: deref(estimated),
		Recurrence:           deref(recurrence),
		OpenDate:             deref(openDate),
		Notes:                deref(notes),
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if score != nil {
		m.RelevanceScore = *score
	}
	if discovered != nil {
		m.DiscoveryDate = *discovered
	}
	v.Metadata = m
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// buildListWhere turns list filters into a WHERE clause with positional args.
func buildListWhere(params ListParams) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if params.Query != "" {
		where += fmt.Sprintf(" AND (g.name ILIKE '%%' || $%d || '%%' OR g.description ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, params.Query)
		argIdx++
	}
	if params.Source != "" {
		where += fmt.Sprintf(" AND g.funder = $%d", argIdx)
		args = append(args, params.Source)
		argIdx++
	}
	if params.MinScore > 0 {
		where += fmt.Sprintf(" AND COALESCE(m.relevance_score, 0) >= $%d", argIdx)
		args = append(args, params.MinScore)
		argIdx++
	}
	if params.Urgency != "" {
		where += fmt.Sprintf(" AND m.urgency = $%d", argIdx)
		args = append(args, params.Urgency)
		argIdx++
	}
	if params.CallStatus != "" {
		where += fmt.Sprintf(" AND m.call_status = $%d", argIdx)
		args = append(args, params.CallStatus)
		argIdx++
	}
	if params.Tag != "" {
		where += fmt.Sprintf(" AND $%d = ANY(m.tags)", argIdx)
		args = append(args, params.Tag)
		argIdx++
	}
	if params.Status != "" {
		where += fmt.Sprintf(" AND g.status = $%d", argIdx)
		args = append(args, params.Status)
	}

	return where, args
}

func orderClause(sortBy string) string {
	switch sortBy {
	case "due_date":
		return " ORDER BY g.due_date ASC NULLS LAST, g.name ASC"
	case "newest":
		return " ORDER BY g.created_at DESC"
	default:
		return " ORDER BY m.relevance_score DESC NULLS LAST, g.updated_at DESC"
	}
}

func (s *Store) ListGrants(ctx context.Context, params ListParams) (*ListResult, error) {
	params.Normalize()
	where, args := buildListWhere(params)

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) %s %s", grantFrom, where)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	argIdx := len(args) + 1
	selectSQL := fmt.Sprintf("SELECT %s %s %s", grantCols, grantFrom, where) + orderClause(params.SortBy)
	selectSQL += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	grants := []models.GrantView{}
	for rows.Next() {
		v, err := scanGrantView(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		grants = append(grants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &ListResult{
		Grants: grants,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

func (s *Store) GetGrant(ctx context.Context, id uuid.UUID) (*models.GrantView, error) {
	sql := fmt.Sprintf("SELECT %s %s WHERE g.id = $1", grantCols, grantFrom)
	v, err := scanGrantView(s.pool.QueryRow(ctx, sql, id).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return &v, nil
}

func (s *Store) FindGrantID(ctx context.Context, name, funder string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, "SELECT id FROM grants WHERE name = $1 AND funder = $2", name, funder).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// InsertGrant returns uuid.Nil when a concurrent writer already created the
// same (name, funder) row; the caller looks the id up again.
func (s *Store) InsertGrant(ctx context.Context, g *models.Grant) (uuid.UUID, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO grants (id, name, funder, description, amount_string, due_date, due_date_raw,
			status, source_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name, funder) DO NOTHING
		RETURNING id
	`, g.ID, g.Name, g.Funder, g.Description, g.AmountString, g.DueDate, g.DueDateRaw,
		g.Status, g.SourceURL, g.CreatedAt, g.UpdatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// UpdateGrant refreshes the scraped fields. The workflow status is left alone.
func (s *Store) UpdateGrant(ctx context.Context, id uuid.UUID, g *models.Grant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE grants
		SET description = $2, amount_string = $3, due_date = $4, due_date_raw = $5,
			source_url = $6, updated_at = $7
		WHERE id = $1
	`, id, g.Description, g.AmountString, g.DueDate, g.DueDateRaw, g.SourceURL, g.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateGrantStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !models.ValidGrantStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE grants SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertGrantMetadata keeps the first discovery date and any notes already
// recorded when the new candidate has none.
func (s *Store) UpsertGrantMetadata(ctx context.Context, m *models.GrantMetadata) error {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO grant_metadata (grant_id, tags, relevance_score, urgency, call_status, grant_type,
			eligibility_text, pdf_url, estimated_eligibility, recurrence, open_date, notes, discovery_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (grant_id) DO UPDATE SET
			tags = EXCLUDED.tags,
			relevance_score = EXCLUDED.relevance_score,
			urgency = EXCLUDED.urgency,
			call_status = EXCLUDED.call_status,
			grant_type = EXCLUDED.grant_type,
			eligibility_text = EXCLUDED.eligibility_text,
			pdf_url = EXCLUDED.pdf_url,
			estimated_eligibility = EXCLUDED.estimated_eligibility,
			recurrence = EXCLUDED.recurrence,
			open_date = EXCLUDED.open_date,
			notes = COALESCE(NULLIF(EXCLUDED.notes, ''), grant_metadata.notes)
	`, m.GrantID, tags, m.RelevanceScore, m.Urgency, m.CallStatus, m.GrantType,
		m.EligibilityText, m.PDFURL, m.EstimatedEligibility, m.Recurrence, m.OpenDate, m.Notes, m.DiscoveryDate)
	return err
}

func (s *Store) InsertReport(ctx context.Context, r *models.DiscoveryReport) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	sources, err := json.Marshal(r.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	runs, err := json.Marshal(r.SourceRuns)
	if err != nil {
		return fmt.Errorf("encode source runs: %w", err)
	}
	tags, err := json.Marshal(r.TopTags)
	if err != nil {
		return fmt.Errorf("encode top tags: %w", err)
	}
	top, err := json.Marshal(r.TopGrants)
	if err != nil {
		return fmt.Errorf("encode top grants: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO discovery_reports (id, discovery_date, total_grants, high_relevance_grants,
			urgent_grants, total_amount, sources, source_runs, top_tags, top_grants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.DiscoveryDate, r.TotalGrants, r.HighRelevanceGrants, r.UrgentGrants, r.TotalAmount,
		sources, runs, tags, top)
	return err
}

// LatestReports returns up to n reports, newest first.
func (s *Store) LatestReports(ctx context.Context, n int) ([]models.DiscoveryReport, error) {
	if n <= 0 {
		n = 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, discovery_date, total_grants, high_relevance_grants, urgent_grants, total_amount,
			sources, source_runs, top_tags, top_grants
		FROM discovery_reports
		ORDER BY discovery_date DESC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	reports := []models.DiscoveryReport{}
	for rows.Next() {
		var r models.DiscoveryReport
		var sources, runs, tags, top []byte
		if err := rows.Scan(&r.ID, &r.DiscoveryDate, &r.TotalGrants, &r.HighRelevanceGrants,
			&r.UrgentGrants, &r.TotalAmount, &sources, &runs, &tags, &top); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if err := decodeReportColumns(&r, sources, runs, tags, top); err != nil {
			return nil, fmt.Errorf("report %s: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// decodeReportColumns fills the JSONB parts of r. NULL or empty columns are left zero.
func decodeReportColumns(r *models.DiscoveryReport, sources, runs, tags, top []byte) error {
	cols := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"sources", sources, &r.Sources},
		{"source_runs", runs, &r.SourceRuns},
		{"top_tags", tags, &r.TopTags},
		{"top_grants", top, &r.TopGrants},
	}
	for _, c := range cols {
		if len(c.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return fmt.Errorf("decode %s: %w", c.name, err)
		}
	}
	return nil
}

func (s *Store) GetSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT funder FROM grants ORDER BY funder")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []string{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err == nil {
			sources = append(sources, src)
		}
	}
	return sources, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CallStatusCounts: map[string]int{}}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(DISTINCT g.funder),
			COUNT(*) FILTER (WHERE m.relevance_score >= 70),
			COUNT(*) FILTER (WHERE m.urgency = 'Hot'),
			COUNT(*) FILTER (WHERE g.due_date IS NOT NULL AND g.due_date > NOW())
	`+grantFrom).Scan(&stats.Total, &stats.Sources, &stats.HighRelevance, &stats.Hot, &stats.WithDeadline)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, "SELECT call_status, COUNT(*) FROM grant_metadata GROUP BY call_status")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if scanErr := rows.Scan(&status, &count); scanErr == nil {
				stats.CallStatusCounts[status] = count
			}
		}
	}

	return stats, nil
}

// Users

func (s *Store) UserExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", email).Scan(&exists)
	return exists, err
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, created_at
	`, email, passwordHash).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}
	return &user, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	var user models.User
	err := s.pool.QueryRow(ctx, "SELECT id, email, password_hash, created_at FROM users WHERE email = $1", email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

// Tracked grants

func (s *Store) TrackGrant(ctx context.Context, userID, grantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_grants (user_id, grant_id)
		SELECT $1, id FROM grants WHERE id = $2
		ON CONFLICT (user_id, grant_id) DO NOTHING
	`, userID, grantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM grants WHERE id = $1)", grantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Store) UntrackGrant(ctx context.Context, userID, grantID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM tracked_grants WHERE user_id = $1 AND grant_id = $2", userID, grantID)
	return err
}

func (s *Store) ListTrackedGrants(ctx context.Context, userID uuid.UUID) ([]models.TrackedGrant, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, t.tracked_at
		%s
		JOIN tracked_grants t ON t.grant_id = g.id
		WHERE t.user_id = $1
		ORDER BY t.tracked_at DESC
	`, grantCols, grantFrom), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tracked := []models.TrackedGrant{}
	for rows.Next() {
		var trackedAt time.Time
		v, err := scanGrantView(func(dest ...any) error {
			return rows.Scan(append(dest, &trackedAt)...)
		})
		if err != nil {
			return nil, err
		}
		tracked = append(tracked, models.TrackedGrant{GrantView: v, TrackedAt: trackedAt})
	}
	return tracked, rows.Err()
}
