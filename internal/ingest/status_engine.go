package ingest

import (
	"strings"
	"time"
)

// CallStatus says whether a grant round is currently accepting applications.
// It is separate from the grant's workflow status (potential, drafting, ...).
type CallStatus string

const (
	CallOpen        CallStatus = "open"
	CallUpcoming    CallStatus = "upcoming"
	CallClosed      CallStatus = "closed"
	CallRolling     CallStatus = "rolling"
	CallNeedsReview CallStatus = "needs_review"
)

// resultsKeywords mark pages announcing outcomes rather than an open round.
var resultsKeywords = []string{
	"final results",
	"winners announced",
	"awards announced",
	"awarded to",
	"recipients announced",
	"successful applicants",
	"results published",
	"results available",
}

var rollingHints = []string{
	"rolling", "rolling basis", "open continuously", "ongoing",
	"open until filled", "no deadline", "applications accepted at any time",
	"open all year",
}

var closedHints = []string{
	"applications closed", "applications have closed", "now closed",
	"no longer accepting", "round closed",
}

// DecideCallStatus classifies a candidate from its dates and wording.
func DecideCallStatus(c GrantCandidate, now time.Time) CallStatus {
	text := strings.ToLower(strings.Join([]string{c.Title, c.Summary, c.Eligibility, c.Notes}, " \n "))

	if containsAny(text, resultsKeywords) {
		return CallClosed
	}

	if open, ok := ParseDueDate(c.OpenDate); ok && open.After(now) {
		return CallUpcoming
	}

	due, hasDue := ParseDueDate(c.DueDate)
	if hasDue {
		if due.Before(now) {
			if c.Recurrence == "Annual" {
				return CallUpcoming
			}
			return CallClosed
		}
		return CallOpen
	}

	if containsAny(text, closedHints) {
		return CallClosed
	}
	if c.Recurrence == "Ongoing" || containsAny(text, rollingHints) {
		return CallRolling
	}
	return CallNeedsReview
}
