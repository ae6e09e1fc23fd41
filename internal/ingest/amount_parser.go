package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var amountNumberRe = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(million|mil|thousand|k)?\b`)

// ParseAmountRange re-parses extracted amount text into numeric bounds.
// "Up to $X" yields (0, X); a single figure yields (X, X). Sentinels and
// text without figures return ok=false.
func ParseAmountRange(text string) (min, max float64, ok bool) {
	textLower := strings.ToLower(text)
	if strings.Contains(textLower, "not specified") {
		return 0, 0, false
	}

	var amounts []float64
	for _, m := range amountNumberRe.FindAllStringSubmatch(text, -1) {
		clean := strings.ReplaceAll(m[1], ",", "")
		val, err := strconv.ParseFloat(clean, 64)
		if err != nil || val <= 0 {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "million", "mil":
			val *= 1_000_000
		case "thousand", "k":
			val *= 1_000
		}
		amounts = append(amounts, val)
	}

	if len(amounts) == 0 {
		return 0, 0, false
	}

	if len(amounts) == 1 {
		if strings.Contains(textLower, "up to") || strings.Contains(textLower, "max") {
			return 0, amounts[0], true
		}
		return amounts[0], amounts[0], true
	}

	min, max = amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
	}
	return min, max, true
}

// ParseAmountValue returns the upper bound of an amount, or 0 when the text
// carries no usable figure. Safe for totals over untrusted free text.
func ParseAmountValue(text string) float64 {
	_, max, ok := ParseAmountRange(text)
	if !ok {
		return 0
	}
	return max
}
