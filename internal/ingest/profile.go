package ingest

import "fmt"

// FocusWeight is a phrase and the points it contributes to a grant's score.
type FocusWeight struct {
	Phrase string `yaml:"phrase"`
	Weight int    `yaml:"weight"`
}

// ScoringConfig holds the relevance rules derived from an organization's focus.
type ScoringConfig struct {
	FocusWeights     []FocusWeight `yaml:"focus_weights"`
	EligibilityTerms []string      `yaml:"eligibility_terms"`
	EligibilityBonus int           `yaml:"eligibility_bonus"`
	HighRelevance    int           `yaml:"high_relevance"`
	HotWindowDays    int           `yaml:"hot_window_days"`
	UrgencyKeywords  []string      `yaml:"urgency_keywords"`
}

// OrganizationProfile describes the organization grants are ranked for.
type OrganizationProfile struct {
	Type             string        `yaml:"type"`
	FocusAreas       []string      `yaml:"focus_areas"`
	EligibilityTypes []string      `yaml:"eligibility_types"`
	Scoring          ScoringConfig `yaml:"scoring"`
}

// LoadProfile reads a profile file, or the embedded default when path is empty.
func LoadProfile(path string) (OrganizationProfile, error) {
	var p OrganizationProfile
	if err := loadYAML(path, "config/profile.yaml", &p); err != nil {
		return OrganizationProfile{}, err
	}
	if len(p.Scoring.FocusWeights) == 0 {
		return OrganizationProfile{}, fmt.Errorf("profile %q has no focus weights", p.Type)
	}
	for _, fw := range p.Scoring.FocusWeights {
		if fw.Weight < 0 {
			return OrganizationProfile{}, fmt.Errorf("focus weight for %q is negative", fw.Phrase)
		}
	}
	if p.Scoring.HighRelevance == 0 {
		p.Scoring.HighRelevance = 70
	}
	if p.Scoring.HotWindowDays == 0 {
		p.Scoring.HotWindowDays = 14
	}
	return p, nil
}

// DefaultProfile returns the embedded profile. It panics if the embedded file is invalid.
func DefaultProfile() OrganizationProfile {
	p, err := LoadProfile("")
	if err != nil {
		panic(err)
	}
	return p
}
