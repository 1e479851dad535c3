// pkg/patterns/similarity.go
package patterns

import "regexp"

var regexSyntaxRe = regexp.MustCompile(`[\.\*\+\?\[\]\(\)\{\}\|\^\$\\]`)

// PatternCore strips regex syntax from an expression, leaving the literal
// text used for similarity comparison and subset checks.
func PatternCore(expression string) string {
	return regexSyntaxRe.ReplaceAllString(expression, "")
}

// Similarity returns the normalized edit-distance similarity of two strings:
// 1 - editDistance(a,b)/max(len(a),len(b)). Two empty strings are identical.
func Similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1.0 - float64(editDistance(a, b))/float64(longest)
}

// editDistance computes classic Levenshtein distance with the two-row
// dynamic-programming scheme.
func editDistance(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 0; i < len(a); i++ {
		curr[0] = i + 1
		for j := 0; j < len(b); j++ {
			insertion := prev[j+1] + 1
			deletion := curr[j] + 1
			substitution := prev[j]
			if a[i] != b[j] {
				substitution++
			}
			curr[j+1] = min3(insertion, deletion, substitution)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
