package ingest

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentenceSplitRe = regexp.MustCompile(`[.!?]+`)

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendUnique appends a string to a slice if it doesn't already exist (case-insensitive).
func appendUnique(list []string, v string) []string {
	vClean := strings.TrimSpace(v)
	if vClean == "" {
		return list
	}

	for _, existing := range list {
		if strings.EqualFold(existing, vClean) {
			return list
		}
	}
	return append(list, vClean)
}

// splitSentences splits on runs of sentence terminators. Fragments are
// trimmed; empty fragments are kept so callers see the original boundaries.
func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// sanitizeUTF8 removes invalid UTF-8 sequences and null bytes.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// extractDomain returns the host of rawURL, or rawURL itself when it has none.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// resolveURL resolves href against base. Absolute hrefs are returned as-is.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return base
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base
	}
	return baseURL.ResolveReference(ref).String()
}
