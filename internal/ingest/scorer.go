package ingest

import (
	"strings"
	"time"
	"unicode"
)

// Scorer ranks candidates against an OrganizationProfile.
type Scorer struct {
	profile OrganizationProfile
	focus   []FocusWeight // phrases lowercased with whitespace removed
	terms   []string
	urgency []string
}

func NewScorer(profile OrganizationProfile) *Scorer {
	s := &Scorer{profile: profile}
	for _, fw := range profile.Scoring.FocusWeights {
		phrase := stripSpaces(strings.ToLower(fw.Phrase))
		if phrase == "" {
			continue
		}
		s.focus = append(s.focus, FocusWeight{Phrase: phrase, Weight: fw.Weight})
	}
	s.terms = lowerAll(profile.Scoring.EligibilityTerms)
	s.urgency = lowerAll(profile.Scoring.UrgencyKeywords)
	return s
}

func (s *Scorer) Profile() OrganizationProfile {
	return s.profile
}

// Score sums the weights of focus phrases present in the title, summary and
// eligibility text, adds the eligibility bonus, and clamps to [0, 100].
func (s *Scorer) Score(c GrantCandidate) int {
	text := strings.ToLower(c.Title + " " + c.Summary + " " + c.Eligibility)
	compact := stripSpaces(text)

	score := 0
	for _, fw := range s.focus {
		if strings.Contains(compact, fw.Phrase) {
			score += fw.Weight
		}
	}
	if containsAny(text, s.terms) {
		score += s.profile.Scoring.EligibilityBonus
	}

	return clampScore(score)
}

// Urgency classifies a due date relative to now. Sentinel dates are Unknown.
// Parseable dates are Hot inside the configured window and Normal otherwise;
// other text falls back to keywords such as "soon" or "next week".
func (s *Scorer) Urgency(dueDate string, now time.Time) Urgency {
	lower := strings.ToLower(strings.TrimSpace(dueDate))
	if lower == "" || strings.Contains(lower, "not specified") {
		return UrgencyUnknown
	}

	if due, ok := ParseDueDate(dueDate); ok {
		remaining := due.Sub(now)
		if remaining < 0 {
			return UrgencyNormal
		}
		if int(remaining.Hours()/24) <= s.profile.Scoring.HotWindowDays {
			return UrgencyHot
		}
		return UrgencyNormal
	}

	if containsAny(lower, s.urgency) {
		return UrgencyHot
	}
	return UrgencyNormal
}

// EstimateEligibility gives a coarse read on whether the organization can apply.
func (s *Scorer) EstimateEligibility(c GrantCandidate) string {
	if c.Eligibility == "" || c.Eligibility == EligibilityNotSpecified {
		return "Unknown"
	}
	if containsAny(strings.ToLower(c.Eligibility), s.terms) {
		return "Likely"
	}
	return "Review required"
}

// Annotate fills in the score, urgency, call status and eligibility estimate of c.
func (s *Scorer) Annotate(c *GrantCandidate, now time.Time) {
	c.Score = s.Score(*c)
	c.Urgency = s.Urgency(c.DueDate, now)
	c.CallStatus = DecideCallStatus(*c, now)
	c.EstimatedEligibility = s.EstimateEligibility(*c)
}

// IsHighRelevance reports whether score meets the profile's high-relevance threshold.
func (s *Scorer) IsHighRelevance(score int) bool {
	return score >= s.profile.Scoring.HighRelevance
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
