package dedup

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	digitRunPattern = regexp.MustCompile(`[0-9]+`)
	separatorRegex  = regexp.MustCompile(`[^a-zDN]+`)
)

// NormalizeName prepares a file name for similarity comparison. The name is
// lowercased and its extension dropped. 8-digit runs (dates) become "D",
// other digit runs become "N", and remaining punctuation is removed.
func NormalizeName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	s := strings.ToLower(base)
	s = digitRunPattern.ReplaceAllStringFunc(s, func(run string) string {
		if len(run) == 8 {
			return "D"
		}
		return "N"
	})
	return separatorRegex.ReplaceAllString(s, "")
}

// NameSimilarity returns 1 - editDistance/max(len) over normalized names
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	if longest == 0 {
		return 0
	}
	return 1 - float64(Levenshtein(na, nb))/float64(longest)
}

// Levenshtein computes the edit distance between two strings over runes
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
