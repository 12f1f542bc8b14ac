// Package fuzzy matches free-form labels, such as a team name returned by a language model, against a known list.
package fuzzy

import (
	"strings"
	"unicode"
)

// LevenshteinDistance calculates the edit distance between two strings
// after lowercasing and collapsing whitespace
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(normalizeString(s1))
	r2 := []rune(normalizeString(s2))

	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// Closest returns the option nearest to query. An exact match (ignoring case and punctuation) wins,
// then an option appearing as a word of query ("Sales team"), then the smallest edit distance
// within maxDistance. Ties keep the earlier option.
func Closest(query string, options []string, maxDistance int) (string, bool) {
	q := normalizeString(query)
	if q == "" || len(options) == 0 {
		return "", false
	}

	for _, opt := range options {
		if normalizeString(opt) == q {
			return opt, true
		}
	}

	for _, opt := range options {
		if containsWord(q, normalizeString(opt)) {
			return opt, true
		}
	}

	best, bestDistance := "", maxDistance+1
	for _, opt := range options {
		if d := LevenshteinDistance(q, opt); d < bestDistance {
			best, bestDistance = opt, d
		}
	}
	return best, best != ""
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// normalizeString lowercases, drops punctuation and collapses whitespace
func normalizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// containsWord checks if text contains query as a whole word
func containsWord(text, query string) bool {
	if query == "" {
		return false
	}
	for _, word := range strings.Fields(text) {
		if word == query {
			return true
		}
	}
	return false
}
