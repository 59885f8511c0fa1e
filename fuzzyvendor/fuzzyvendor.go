// Package fuzzyvendor implements C10: canonicalizing a free-text
// transaction or group description into a vendor pattern, plus a
// normalized-Levenshtein similarity used by the matching engine's vendor
// score. The normalization rules themselves have no teacher analogue —
// the gateway does not parse merchant strings — so they are written fresh
// in the style of the gateway's other small, rule-driven string
// transforms (e.g. provider.DetectProvider's prefix table).
package fuzzyvendor

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

var trailingDigitsRun = regexp.MustCompile(`\s*[\d#][\dA-Z]*$`)
var groupChargesSuffix = regexp.MustCompile(`(?i)^(.*?)\s*\(\d+\s+charges?\)\s*$`)

// CanonicalPattern extracts a canonical vendor pattern from a transaction
// description, per §4.8's "Vendor extraction (C10)" rules.
func CanonicalPattern(description string) string {
	trimmed := strings.TrimSpace(description)
	upper := strings.ToUpper(trimmed)

	if strings.HasPrefix(upper, "AMAZON.COM") {
		return "AMAZON"
	}
	if rest, ok := cutPrefix(upper, "SQ *"); ok {
		return "SQ " + firstUppercaseWords(rest, 2)
	}
	if rest, ok := cutPrefix(upper, "PAYPAL *"); ok {
		return "PAYPAL " + firstUppercaseWords(rest, 2)
	}

	stripped := trailingDigitsRun.ReplaceAllString(trimmed, "")
	return strings.ToUpper(firstWords(stripped, 3))
}

// CanonicalGroupPattern extracts a canonical vendor pattern from a
// transaction group's name, per §4.8: "<VENDOR> (N charges)" -> VENDOR,
// otherwise the trimmed name.
func CanonicalGroupPattern(groupName string) string {
	trimmed := strings.TrimSpace(groupName)
	if m := groupChargesSuffix.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// Similarity returns normalized Levenshtein similarity in [0, 1]: 1 minus
// edit distance divided by the longer string's length. Two empty strings
// are defined as dissimilar (0), since an empty vendor never matches.
//
// Before comparing, whichever side has more whitespace-separated words is
// truncated to the other side's word count: a canonical pattern like
// "TWILIO" is a deliberately-shortened form of a fuller vendor name like
// "Twilio Inc", and comparing the full strings directly would penalize
// the pattern for being short rather than for actually differing.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	a, b = equalizeWordCount(a, b)
	if a == b {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(maxLen)
}

func equalizeWordCount(a, b string) (string, string) {
	aw, bw := strings.Fields(a), strings.Fields(b)
	if len(aw) > len(bw) && len(bw) > 0 {
		a = strings.Join(aw[:len(bw)], " ")
	} else if len(bw) > len(aw) && len(aw) > 0 {
		b = strings.Join(bw[:len(aw)], " ")
	}
	return a, b
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

func firstUppercaseWords(s string, n int) string {
	words := strings.Fields(s)
	var out []string
	for _, w := range words {
		if len(out) >= n {
			break
		}
		out = append(out, strings.ToUpper(w))
	}
	return strings.Join(out, " ")
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
