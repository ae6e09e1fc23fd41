package ingest

import (
	"context"
	"io"
	"time"
)

// Sentinel values used when a field cannot be extracted.
const (
	UnknownTitle            = "Unknown"
	AmountNotSpecified      = "Amount not specified"
	DateNotSpecified        = "Date not specified"
	EligibilityNotSpecified = "Eligibility criteria not specified"
)

// Urgency classifies how soon a grant closes.
type Urgency string

const (
	UrgencyHot     Urgency = "Hot"
	UrgencyNormal  Urgency = "Normal"
	UrgencyUnknown Urgency = "Unknown"
)

// GrantCandidate is a discovered, not yet persisted, grant opportunity.
// Amount and DueDate stay free text; consumers that need numbers re-parse them.
type GrantCandidate struct {
	Title                string     `json:"title"`
	Source               string     `json:"source"`
	Amount               string     `json:"amount"`
	DueDate              string     `json:"due_date"`
	Summary              string     `json:"summary"`
	Eligibility          string     `json:"eligibility"`
	Tags                 []string   `json:"tags"`
	URL                  string     `json:"url"`
	PDFURL               string     `json:"pdf_url,omitempty"`
	Score                int        `json:"score"`
	Urgency              Urgency    `json:"urgency"`
	CallStatus           CallStatus `json:"call_status,omitempty"`
	GrantType            string     `json:"grant_type,omitempty"`
	OpenDate             string     `json:"open_date,omitempty"`
	Recurrence           string     `json:"recurrence,omitempty"`
	EstimatedEligibility string     `json:"estimated_eligibility,omitempty"`
	Notes                string     `json:"notes,omitempty"`
}

// RawBlock is a single grant-like fragment lifted out of a page by a parser.
type RawBlock struct {
	Title     string
	Text      string
	URL       string
	PDFURL    string
	Source    string
	GrantType string
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}
