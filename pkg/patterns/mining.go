// pkg/patterns/mining.go
package patterns

import (
	"regexp"
	"unicode"
)

// Propose generates candidate patterns from common character n-grams across
// the given subject names. An n-gram survives when it occurs in at least two
// distinct subjects and contains at least one letter; each survivor becomes a
// `.*<escaped n-gram>.*` candidate. Candidates still have to pass Admit.
func (s *Store) Propose(subjects []string) []string {
	if len(subjects) < 2 {
		return nil
	}

	// Count in how many distinct subjects each n-gram appears.
	subjectCounts := make(map[string]int)
	order := []string{} // deterministic candidate order
	for _, subject := range subjects {
		if len(subject) < s.cfg.MinLength {
			continue
		}
		seen := make(map[string]bool)
		maxLen := s.cfg.MaxLength
		if len(subject) < maxLen {
			maxLen = len(subject)
		}
		for n := s.cfg.MinLength; n <= maxLen; n++ {
			for i := 0; i+n <= len(subject); i++ {
				gram := subject[i : i+n]
				if seen[gram] || !containsLetter(gram) {
					continue
				}
				seen[gram] = true
				if subjectCounts[gram] == 0 {
					order = append(order, gram)
				}
				subjectCounts[gram]++
			}
		}
	}

	var candidates []string
	for _, gram := range order {
		if subjectCounts[gram] >= 2 {
			candidates = append(candidates, ".*"+regexp.QuoteMeta(gram)+".*")
		}
	}
	return candidates
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
