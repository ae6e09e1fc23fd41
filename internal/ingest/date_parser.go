package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// dateLayouts are tried in order. Numeric dates are day-first, as published
// by Australian funders.
var dateLayouts = []string{
	"2/1/2006",
	"02/01/2006",
	"2-1-2006",
	"02-01-2006",
	"2006-01-02",
	"2006/1/2",
	"2 January 2006",
	"02 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
}

var (
	dayMonthYearRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(` + monthNames + `)\s+(\d{4})\b`)
	monthDayYearRe = regexp.MustCompile(`(?i)\b(` + monthNames + `)\s+(\d{1,2}),?\s+(\d{4})\b`)
	numericDateRe  = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
	isoDateRe      = regexp.MustCompile(`\b(\d{4})[/-](\d{1,2})[/-](\d{1,2})\b`)
)

// ParseDueDate converts extracted due-date text into a calendar date.
// The second result is false for sentinels and text that is not a real date.
func ParseDueDate(text string) (time.Time, bool) {
	if strings.Contains(strings.ToLower(text), "not specified") {
		return time.Time{}, false
	}
	t, err := parseDateRobust(text)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseDateRobust attempts to parse dates in multiple formats
func parseDateRobust(text string) (time.Time, error) {
	text = normalizeSpace(cleanDateString(text))
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, titleMonth(text)); err == nil {
			return toEndOfDay(t), nil
		}
	}

	if t := parseDateWithRegex(text); !t.IsZero() {
		return toEndOfDay(t), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// parseDateWithRegex finds a date embedded in surrounding text.
func parseDateWithRegex(text string) time.Time {
	if m := numericDateRe.FindStringSubmatch(text); len(m) == 4 {
		if t, err := time.Parse("2/1/2006", m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return t
		}
	}

	if m := isoDateRe.FindStringSubmatch(text); len(m) == 4 {
		if t, err := time.Parse("2006/1/2", m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return t
		}
	}

	if m := dayMonthYearRe.FindStringSubmatch(text); len(m) == 4 {
		if t, ok := parseMonthName(m[1], m[2], m[3]); ok {
			return t
		}
	}

	if m := monthDayYearRe.FindStringSubmatch(text); len(m) == 4 {
		if t, ok := parseMonthName(m[2], m[1], m[3]); ok {
			return t
		}
	}

	return time.Time{}
}

func parseMonthName(day, month, year string) (time.Time, bool) {
	month = titleMonth(month)
	for _, layout := range []string{"2 January 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, day+" "+month+" "+year); err == nil {
			return t, true
		}
	}
	// "Sept" and similar abbreviations: fall back to the first three letters.
	if len(month) > 3 {
		if t, err := time.Parse("2 Jan 2006", day+" "+month[:3]+" "+year); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// titleMonth capitalizes month words so time.Parse accepts "15 MARCH 2026".
func titleMonth(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 1 && isLetters(w) {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}

func isLetters(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// cleanDateString removes common prefixes and cleans up date strings
func cleanDateString(s string) string {
	prefixes := []string{
		"Closing date:", "Closes:", "Deadline:", "Due date:", "Applications close:",
		"Expires:", "Ends:",
	}
	sLower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(sLower, strings.ToLower(p)); idx != -1 {
			s = s[idx+len(p):]
			sLower = sLower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
