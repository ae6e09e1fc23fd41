package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TagCategory maps a tag to the keywords that trigger it.
type TagCategory struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label,omitempty"`
	Keywords []string `yaml:"keywords"`
}

// Vocabulary is the keyword configuration used by the Extractor.
type Vocabulary struct {
	SummaryMaxChars     int           `yaml:"summary_max_chars"`
	EligibilityKeywords []string      `yaml:"eligibility_keywords"`
	Categories          []TagCategory `yaml:"categories"`
	BonusTags           []TagCategory `yaml:"bonus_tags"`
}

// LoadVocabulary reads a vocabulary file, or the embedded default when path is empty.
func LoadVocabulary(path string) (Vocabulary, error) {
	var v Vocabulary
	if err := loadYAML(path, "config/vocabulary.yaml", &v); err != nil {
		return Vocabulary{}, err
	}
	if v.SummaryMaxChars <= 0 {
		v.SummaryMaxChars = 200
	}
	if len(v.Categories) == 0 {
		return Vocabulary{}, fmt.Errorf("vocabulary has no tag categories")
	}
	return v, nil
}

// DefaultVocabulary returns the embedded vocabulary. It panics if the
// embedded file is invalid.
func DefaultVocabulary() Vocabulary {
	v, err := LoadVocabulary("")
	if err != nil {
		panic(err)
	}
	return v
}

const amountSuffix = `(?:\s*(?:million|mil|thousand|k)\b)?`

// Ordered: the first pattern that matches wins, so ranges come before single values.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$[\d,]+(?:\.\d{2})?` + amountSuffix + `\s*(?:-|–|—|to)\s*\$[\d,]+(?:\.\d{2})?` + amountSuffix),
	regexp.MustCompile(`(?i)(?:up to|maximum of|max)\s*\$[\d,]+(?:\.\d{2})?` + amountSuffix),
	regexp.MustCompile(`(?i)\$[\d,]+(?:\.\d{2})?` + amountSuffix),
	regexp.MustCompile(`(?i)\d[\d,]*\s*(?:dollars|AUD)\b`),
}

const monthNames = `(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*`

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{4}`),
	regexp.MustCompile(`\d{4}[/-]\d{1,2}[/-]\d{1,2}`),
	regexp.MustCompile(`(?i)\d{1,2}\s+` + monthNames + `\s+\d{4}`),
	regexp.MustCompile(`(?i)` + monthNames + `\s+\d{1,2},?\s+\d{4}`),
}

var (
	openDateRe   = regexp.MustCompile(`(?i)\bopen(?:s|ing|ed)?(?:\s+date)?\s*:?\s*(?:on\s+)?(\d{1,2}\s+` + monthNames + `\s+\d{4}|\d{1,2}[/-]\d{1,2}[/-]\d{4})`)
	annualRe     = regexp.MustCompile(`(?i)\b(?:annual|annually|each year|every year)\b`)
	ongoingRe    = regexp.MustCompile(`(?i)\b(?:ongoing|rolling|open all year|year-round)\b`)
	pdfSuffixRe  = regexp.MustCompile(`(?i)\.pdf(?:[?#].*)?$`)
	punctStripRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// Extractor turns raw page text into grant fields. It holds only read-only
// configuration and is safe for concurrent use.
type Extractor struct {
	vocab     Vocabulary
	catLabels []string
}

func NewExtractor(vocab Vocabulary) *Extractor {
	if vocab.SummaryMaxChars <= 0 {
		vocab.SummaryMaxChars = 200
	}

	vocab.EligibilityKeywords = lowerAll(vocab.EligibilityKeywords)
	vocab.Categories = lowerCategories(vocab.Categories)
	vocab.BonusTags = lowerCategories(vocab.BonusTags)

	title := cases.Title(language.English)
	labels := make([]string, len(vocab.Categories))
	for i, cat := range vocab.Categories {
		if cat.Label != "" {
			labels[i] = cat.Label
			continue
		}
		labels[i] = title.String(strings.ReplaceAll(cat.Name, "_", " "))
	}

	return &Extractor{vocab: vocab, catLabels: labels}
}

// ExtractAmount returns the first currency expression found in text.
func (e *Extractor) ExtractAmount(text string) string {
	for _, re := range amountPatterns {
		if m := re.FindString(text); m != "" {
			return strings.TrimRight(strings.TrimSpace(m), ",")
		}
	}
	return AmountNotSpecified
}

// ExtractDate returns the first date-like expression found in text.
// Matches are not validated as calendar dates.
func (e *Extractor) ExtractDate(text string) string {
	for _, re := range datePatterns {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return DateNotSpecified
}

// ExtractOpenDate returns the date following an "opens" phrase, if any.
func (e *Extractor) ExtractOpenDate(text string) string {
	if m := openDateRe.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	return ""
}

// ExtractRecurrence labels grants that run on a cycle.
func (e *Extractor) ExtractRecurrence(text string) string {
	switch {
	case annualRe.MatchString(text):
		return "Annual"
	case ongoingRe.MatchString(text):
		return "Ongoing"
	}
	return ""
}

// ExtractSummary accumulates whole sentences while the result stays within
// the configured length. If not even the first sentence fits, the text is
// hard-truncated and suffixed with "...".
func (e *Extractor) ExtractSummary(text string) string {
	limit := e.vocab.SummaryMaxChars
	text = normalizeSpace(text)
	if text == "" {
		return ""
	}

	summary := ""
	for _, sentence := range splitSentences(text) {
		if sentence == "" {
			continue
		}
		if utf8.RuneCountInString(summary+sentence) > limit {
			break
		}
		summary += sentence + ". "
	}

	if summary = strings.TrimSpace(summary); summary != "" {
		return summary
	}
	return truncateRunes(text, limit) + "..."
}

// ExtractEligibility joins up to three sentences that mention eligibility.
func (e *Extractor) ExtractEligibility(text string) string {
	var found []string
	for _, sentence := range splitSentences(normalizeSpace(text)) {
		if sentence == "" {
			continue
		}
		if containsAny(strings.ToLower(sentence), e.vocab.EligibilityKeywords) {
			found = append(found, sentence)
			if len(found) == 3 {
				break
			}
		}
	}
	if len(found) == 0 {
		return EligibilityNotSpecified
	}
	return strings.Join(found, ". ")
}

// GenerateTags returns the sorted, de-duplicated set of tags whose keywords occur in text.
func (e *Extractor) GenerateTags(text string) []string {
	lower := strings.ToLower(text)
	tags := []string{}

	for i, cat := range e.vocab.Categories {
		if containsAny(lower, cat.Keywords) {
			tags = appendUnique(tags, e.catLabels[i])
		}
	}
	for _, bonus := range e.vocab.BonusTags {
		if containsAny(lower, bonus.Keywords) {
			tags = appendUnique(tags, firstNonEmpty(bonus.Label, bonus.Name))
		}
	}

	sort.Strings(tags)
	return tags
}

// Build converts a parsed block into a candidate with every text field filled.
// Score and urgency are left for the Scorer.
func (e *Extractor) Build(block RawBlock) GrantCandidate {
	text := normalizeSpace(block.Text)
	title := normalizeSpace(block.Title)
	if title == "" {
		title = UnknownTitle
	}

	return GrantCandidate{
		Title:       title,
		Source:      block.Source,
		Amount:      e.ExtractAmount(text),
		DueDate:     e.ExtractDate(text),
		Summary:     e.ExtractSummary(text),
		Eligibility: e.ExtractEligibility(text),
		Tags:        e.GenerateTags(title + " " + text),
		URL:         block.URL,
		PDFURL:      block.PDFURL,
		GrantType:   block.GrantType,
		OpenDate:    e.ExtractOpenDate(text),
		Recurrence:  e.ExtractRecurrence(text),
	}
}

func lowerCategories(cats []TagCategory) []TagCategory {
	out := make([]TagCategory, len(cats))
	for i, c := range cats {
		out[i] = TagCategory{Name: c.Name, Label: c.Label, Keywords: lowerAll(c.Keywords)}
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// NormalizeTitleKey is the dedup key for a title: lowercased, punctuation
// removed, surrounding whitespace trimmed.
func NormalizeTitleKey(title string) string {
	return strings.TrimSpace(punctStripRe.ReplaceAllString(strings.ToLower(title), ""))
}

func isPDFLink(href string) bool {
	return pdfSuffixRe.MatchString(strings.TrimSpace(href))
}
