package models

import (
	"time"

	"github.com/google/uuid"
)

// Grant is the persisted core record. (Name, Funder) is the natural key.
type Grant struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Funder       string     `json:"funder"`
	Description  string     `json:"description"`
	AmountString string     `json:"amount_string"`
	DueDate      *time.Time `json:"due_date"`
	DueDateRaw   string     `json:"due_date_raw"`
	Status       string     `json:"status"`
	SourceURL    string     `json:"source_url"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// GrantMetadata holds discovery-specific attributes, one row per grant.
type GrantMetadata struct {
	GrantID              uuid.UUID `json:"grant_id"`
	Tags                 []string  `json:"tags"`
	RelevanceScore       int       `json:"relevance_score"`
	Urgency              string    `json:"urgency"`
	CallStatus           string    `json:"call_status"`
	GrantType            string    `json:"grant_type"`
	EligibilityText      string    `json:"eligibility_text"`
	PDFURL               string    `json:"pdf_url"`
	EstimatedEligibility string    `json:"estimated_eligibility"`
	Recurrence           string    `json:"recurrence"`
	OpenDate             string    `json:"open_date"`
	Notes                string    `json:"notes"`
	DiscoveryDate        time.Time `json:"discovery_date"`
}

// GrantView is a grant joined with its metadata, as served by the API.
type GrantView struct {
	Grant
	Metadata *GrantMetadata `json:"metadata,omitempty"`
}

// SourceRun records what a single source yielded during a discovery run.
type SourceRun struct {
	SourceID   string `json:"source_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Parser     string `json:"parser"`
	Found      int    `json:"found"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// TopGrant is the compact summary of a candidate listed in a report.
type TopGrant struct {
	Title   string   `json:"title"`
	Source  string   `json:"source"`
	Score   int      `json:"score"`
	Amount  string   `json:"amount"`
	DueDate string   `json:"due_date"`
	Urgency string   `json:"urgency"`
	Tags    []string `json:"tags"`
}

// DiscoveryReport summarizes one discovery run.
type DiscoveryReport struct {
	ID                  uuid.UUID      `json:"id"`
	DiscoveryDate       time.Time      `json:"discovery_date"`
	TotalGrants         int            `json:"total_grants"`
	HighRelevanceGrants int            `json:"high_relevance_grants"`
	UrgentGrants        int            `json:"urgent_grants"`
	TotalAmount         float64        `json:"total_amount"`
	Sources             map[string]int `json:"sources"`
	SourceRuns          []SourceRun    `json:"source_runs"`
	TopTags             []TagCount     `json:"top_tags"`
	TopGrants           []TopGrant     `json:"top_grants"`
}

// TrackedGrant is a grant a user has chosen to follow.
type TrackedGrant struct {
	GrantView
	TrackedAt time.Time `json:"tracked_at"`
}

// Workflow statuses a grant moves through once a user starts working on it.
const (
	StatusPotential    = "potential"
	StatusDrafting     = "drafting"
	StatusSubmitted    = "submitted"
	StatusSuccessful   = "successful"
	StatusUnsuccessful = "unsuccessful"
)

// ValidGrantStatus reports whether s is one of the workflow statuses.
func ValidGrantStatus(s string) bool {
	switch s {
	case StatusPotential, StatusDrafting, StatusSubmitted, StatusSuccessful, StatusUnsuccessful:
		return true
	}
	return false
}
