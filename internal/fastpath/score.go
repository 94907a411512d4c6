package fastpath

import "strings"

// patternScore rates a normalized input against a command pattern.
// Equality scores 1.0, containment 0.9 or 0.8 depending on direction,
// and word overlap above 0.3 is clamped into the acceptance band at 0.7.
func patternScore(input, pattern string) float64 {
	if input == "" || pattern == "" {
		return 0
	}
	if input == pattern {
		return 1.0
	}
	if strings.Contains(input, pattern) {
		return 0.9
	}
	if strings.Contains(pattern, input) {
		return 0.8
	}
	overlap := wordOverlap(input, pattern)
	if overlap <= 0.3 {
		return 0
	}
	if overlap < 0.7 {
		return 0.7
	}
	return overlap
}

// wordOverlap is the share of words the two strings have in common,
// relative to the longer of the two.
func wordOverlap(a, b string) float64 {
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	if len(aw) == 0 || len(bw) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(aw))
	for _, w := range aw {
		seen[w] = struct{}{}
	}
	shared := 0
	for _, w := range bw {
		if _, ok := seen[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(aw), len(bw)))
}

// fuzzyScore is Levenshtein similarity with a prefix boost. A prefix of
// three or more characters is floored at 0.85 so short abbreviations of
// long names stay above the fuzzy threshold.
func fuzzyScore(input, candidate string) float64 {
	if input == "" || candidate == "" {
		return 0
	}
	if input == candidate {
		return 1.0
	}
	ri := []rune(input)
	rc := []rune(candidate)
	score := 1.0 - float64(levenshtein(ri, rc))/float64(max(len(ri), len(rc)))
	if strings.HasPrefix(candidate, input) || strings.HasPrefix(input, candidate) {
		score += 0.1
		if min(len(ri), len(rc)) >= nontrivialPrefix && score < 0.85 {
			score = 0.85
		}
	}
	return min(score, 1.0)
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
