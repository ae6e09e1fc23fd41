// Package guidelines turns the text of grant guideline documents into
// checklists: application tasks, section headers, key dates, mandatory
// requirements and a rough eligibility verdict.
package guidelines

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Task categories.
const (
	CategoryBusiness   = "Business"
	CategoryTeam       = "Team"
	CategoryCompany    = "Company"
	CategorySubmission = "Submission"
	CategoryGeneral    = "General"
)

const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
)

const (
	minLineLen     = 10
	previewLen     = 500
	defaultSection = "General"
	defaultHours   = 2
)

// TaskRecord is one actionable line from a guideline document.
type TaskRecord struct {
	Task           string `json:"task"`
	Category       string `json:"category"`
	Section        string `json:"section"`
	Priority       string `json:"priority"`
	EstimatedHours int    `json:"estimated_hours"`
	Description    string `json:"description"`
}

// KeyInfo groups the lines worth surfacing from a document.
type KeyInfo struct {
	Sections     []string `json:"sections"`
	KeyDates     []string `json:"key_dates"`
	Requirements []string `json:"requirements"`
}

// EligibilityAnalysis is a keyword-based read on whether the organization qualifies.
type EligibilityAnalysis struct {
	IsEligible          bool     `json:"is_eligible"`
	ConfidenceScore     float64  `json:"confidence_score"`
	EligibilityFactors  []string `json:"eligibility_factors"`
	MissingRequirements []string `json:"missing_requirements"`
	Recommendations     []string `json:"recommendations"`
}

// Analysis is the full result for one document.
type Analysis struct {
	TextContent     string       `json:"text_content"`
	Tasks           []TaskRecord `json:"tasks"`
	Sections        []string     `json:"sections"`
	KeyDates        []string     `json:"key_dates"`
	Requirements    []string     `json:"requirements"`
	WordCount       int          `json:"word_count"`
	AnalysisSummary string       `json:"analysis_summary"`
}

// TaskCategory maps keywords to a category. Categories are checked in order.
type TaskCategory struct {
	Name     string
	Keywords []string
	Hours    int
}

// EligibilitySignal adds Weight to the confidence score when any keyword occurs.
type EligibilitySignal struct {
	Keywords []string
	Factor   string
	Weight   float64
}

// MissingCheck reports Message when none of its keywords occur.
type MissingCheck struct {
	Keywords []string
	Message  string
}

// Rules holds the keyword tables the analyzer runs on.
type Rules struct {
	Categories        []TaskCategory
	ActionVerbs       []string
	MandatoryWords    []string
	RequirementWords  []string
	HighCategories    []string
	Signals           []EligibilitySignal
	MissingChecks     []MissingCheck
	EligibleThreshold float64
	Recommendations   []string
}

// DefaultRules returns the tables used for Australian screen and media funding guidelines.
func DefaultRules() Rules {
	return Rules{
		Categories: []TaskCategory{
			{Name: CategoryBusiness, Keywords: []string{"finance", "budget", "eligibility", "rights", "funding"}, Hours: 4},
			{Name: CategoryTeam, Keywords: []string{"team", "bios", "crew", "cast", "producer", "director"}, Hours: 2},
			{Name: CategoryCompany, Keywords: []string{"abn", "contact", "legal", "company", "entity"}, Hours: 1},
			{Name: CategorySubmission, Keywords: []string{"upload", "deadline", "forms", "submit", "application"}, Hours: 3},
		},
		ActionVerbs:      []string{"provide", "submit", "complete"},
		MandatoryWords:   []string{"must", "required", "mandatory"},
		RequirementWords: []string{"must", "required", "mandatory", "need to", "should"},
		HighCategories:   []string{CategoryBusiness, CategorySubmission},
		Signals: []EligibilitySignal{
			{Keywords: []string{"australian", "australia"}, Factor: "Australian entity requirement likely met", Weight: 0.2},
			{Keywords: []string{"abn", "business number"}, Factor: "Business registration requirements mentioned", Weight: 0.15},
			{Keywords: []string{"first nations", "indigenous"}, Factor: "First Nations content/involvement mentioned", Weight: 0.25},
			{Keywords: []string{"documentary", "film", "screen"}, Factor: "Screen/documentary content aligned", Weight: 0.2},
		},
		MissingChecks: []MissingCheck{
			{Keywords: []string{"budget"}, Message: "Budget information may be required"},
			{Keywords: []string{"team", "crew", "producer"}, Message: "Team/crew information may be required"},
		},
		EligibleThreshold: 0.3,
		Recommendations: []string{
			"Review complete eligibility criteria",
			"Ensure all required documents are prepared",
			"Check deadline and submission requirements",
		},
	}
}

var (
	capsSectionRe = regexp.MustCompile(`^[A-Z][A-Z\s&]+(?:SECTION|FORM|REQUIREMENTS)`)
	numberedRe    = regexp.MustCompile(`^\d+(?:\.\d+)*\.?\s+[A-Z][A-Za-z\s&,'()-]*$`)
	colonHeadRe   = regexp.MustCompile(`^[A-Z][A-Za-z\s&]*:$`)

	dateLineRes = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
		regexp.MustCompile(`(?i)\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{2,4}`),
		regexp.MustCompile(`(?i)deadline|due date|close`),
	}
)

// Analyzer applies a set of Rules. The zero value is not usable; use NewAnalyzer.
type Analyzer struct {
	rules Rules
}

func NewAnalyzer(rules Rules) *Analyzer {
	return &Analyzer{rules: rules}
}

var defaultAnalyzer = NewAnalyzer(DefaultRules())

// ExtractTasks runs Analyzer.ExtractTasks with the default rules.
func ExtractTasks(text string) []TaskRecord {
	return defaultAnalyzer.ExtractTasks(text)
}

func ExtractKeyInfo(text string) KeyInfo {
	return defaultAnalyzer.ExtractKeyInfo(text)
}

func AnalyzeEligibility(text string) EligibilityAnalysis {
	return defaultAnalyzer.AnalyzeEligibility(text)
}

func Analyze(text string) Analysis {
	return defaultAnalyzer.Analyze(text)
}

// ExtractTasks walks the document line by line. Header lines set the
// section for the tasks that follow them.
func (a *Analyzer) ExtractTasks(text string) []TaskRecord {
	tasks := []TaskRecord{}
	section := defaultSection

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < minLineLen {
			continue
		}
		if a.IsSectionHeader(line) {
			section = line
			continue
		}
		if a.isTaskLine(line) {
			tasks = append(tasks, a.newTask(line, section))
		}
	}
	return tasks
}

// IsSectionHeader reports whether line heads a section: an all-caps phrase,
// a "... SECTION/FORM/REQUIREMENTS" title, a short numbered heading, or a
// short line ending in a colon. Lines with an action verb are instructions,
// not headings, unless they are in capitals.
func (a *Analyzer) IsSectionHeader(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if capsSectionRe.MatchString(line) || isAllCaps(line) {
		return true
	}

	words := len(strings.Fields(line))
	lower := strings.ToLower(line)
	if containsAny(lower, a.rules.ActionVerbs) {
		return false
	}
	if numberedRe.MatchString(line) && words <= 8 {
		return true
	}
	return colonHeadRe.MatchString(line) && words <= 4
}

func (a *Analyzer) isTaskLine(line string) bool {
	if strings.HasSuffix(line, "?") || strings.HasSuffix(line, ":") {
		return true
	}
	return containsAny(strings.ToLower(line), a.rules.ActionVerbs)
}

func (a *Analyzer) newTask(line, section string) TaskRecord {
	category, hours := a.categorize(line)
	return TaskRecord{
		Task:           strings.TrimSpace(strings.TrimSuffix(line, ":")),
		Category:       category,
		Section:        section,
		Priority:       a.priority(line, category),
		EstimatedHours: hours,
		Description:    "Task extracted from section: " + section,
	}
}

func (a *Analyzer) categorize(line string) (string, int) {
	lower := strings.ToLower(line)
	for _, c := range a.rules.Categories {
		if containsAny(lower, c.Keywords) {
			hours := c.Hours
			if hours <= 0 {
				hours = defaultHours
			}
			return c.Name, hours
		}
	}
	return CategoryGeneral, defaultHours
}

func (a *Analyzer) priority(line, category string) string {
	if containsAny(strings.ToLower(line), a.rules.MandatoryWords) {
		return PriorityHigh
	}
	for _, c := range a.rules.HighCategories {
		if c == category {
			return PriorityHigh
		}
	}
	return PriorityMedium
}

// ExtractKeyInfo collects section headers, date-bearing lines and
// requirement lines. A line can land in more than one list.
func (a *Analyzer) ExtractKeyInfo(text string) KeyInfo {
	info := KeyInfo{Sections: []string{}, KeyDates: []string{}, Requirements: []string{}}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if a.IsSectionHeader(line) {
			info.Sections = append(info.Sections, line)
		}
		if containsDate(line) {
			info.KeyDates = append(info.KeyDates, line)
		}
		if containsAny(strings.ToLower(line), a.rules.RequirementWords) {
			info.Requirements = append(info.Requirements, line)
		}
	}
	return info
}

// AnalyzeEligibility sums the weights of the signals found in text. The
// score is capped at 1 and the document counts as eligible above the
// configured threshold.
func (a *Analyzer) AnalyzeEligibility(text string) EligibilityAnalysis {
	lower := strings.ToLower(text)
	res := EligibilityAnalysis{
		EligibilityFactors:  []string{},
		MissingRequirements: []string{},
		Recommendations:     append([]string(nil), a.rules.Recommendations...),
	}

	score := 0.0
	for _, s := range a.rules.Signals {
		if containsAny(lower, s.Keywords) {
			res.EligibilityFactors = append(res.EligibilityFactors, s.Factor)
			score += s.Weight
		}
	}
	for _, m := range a.rules.MissingChecks {
		if !containsAny(lower, m.Keywords) {
			res.MissingRequirements = append(res.MissingRequirements, m.Message)
		}
	}

	score = math.Round(score*100) / 100
	res.IsEligible = score > a.rules.EligibleThreshold
	res.ConfidenceScore = math.Min(score, 1.0)
	return res
}

// Analyze runs task and key-info extraction over a whole document.
func (a *Analyzer) Analyze(text string) Analysis {
	tasks := a.ExtractTasks(text)
	info := a.ExtractKeyInfo(text)
	return Analysis{
		TextContent:     preview(text, previewLen),
		Tasks:           tasks,
		Sections:        info.Sections,
		KeyDates:        info.KeyDates,
		Requirements:    info.Requirements,
		WordCount:       len(strings.Fields(text)),
		AnalysisSummary: fmt.Sprintf("Extracted %d tasks from %d sections", len(tasks), len(info.Sections)),
	}
}

func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// isAllCaps reports whether s has at least three letters and no lowercase ones.
func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}

func containsDate(line string) bool {
	for _, re := range dateLineRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}
