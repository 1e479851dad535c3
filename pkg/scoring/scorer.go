// pkg/scoring/scorer.go
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxIntervalHistory bounds the per-subject resurrection interval history.
	maxIntervalHistory = 20
	// staleAfterSeconds: subjects unseen for longer are excluded from scoring.
	staleAfterSeconds = 604800.0 // 7 days
)

// SubjectStats accumulates per-subject behavior. Created on first observed
// event for the subject and never deleted; stale subjects are simply ignored
// by scoring.
type SubjectStats struct {
	KillCount             int             `json:"kill_count"`
	ResurrectionCount     int             `json:"resurrection_count"`
	ResurrectionIntervals []float64       `json:"resurrection_intervals"`
	FirstSeen             float64         `json:"first_seen"`
	LastSeen              float64         `json:"last_seen"`
	PatternsMatched       map[string]bool `json:"patterns_matched"`
}

// Threat is one high-priority scoring result.
type Threat struct {
	Subject           string   `json:"subject"`
	Score             float64  `json:"score"`
	KillCount         int      `json:"kill_count"`
	ResurrectionCount int      `json:"resurrection_count"`
	AvgInterval       float64  `json:"avg_resurrection_interval"`
	PatternsMatched   []string `json:"patterns_matched"`
	LastSeen          float64  `json:"last_seen"`
}

// Scorer derives bounded, fully auditable threat scores from accumulated
// subject statistics. Scores are additive and independent across subjects, so
// a threshold reads the same for every subject.
type Scorer struct {
	stats  map[string]*SubjectStats
	logger zerolog.Logger
	now    func() time.Time
}

// NewScorer creates an empty scorer.
func NewScorer(logger zerolog.Logger) *Scorer {
	return &Scorer{
		stats:  make(map[string]*SubjectStats),
		logger: logger.With().Str("component", "threat_scorer").Logger(),
		now:    time.Now,
	}
}

func (s *Scorer) subject(name string) *SubjectStats {
	st, ok := s.stats[name]
	if !ok {
		nowSec := float64(s.now().Unix())
		st = &SubjectStats{
			FirstSeen:       nowSec,
			LastSeen:        nowSec,
			PatternsMatched: make(map[string]bool),
		}
		s.stats[name] = st
	}
	return st
}

// ObserveKill records a kill observation for the subject.
func (s *Scorer) ObserveKill(subject string) {
	st := s.subject(subject)
	st.LastSeen = float64(s.now().Unix())
	st.KillCount++
}

// ObserveResurrection records a resurrection observation. An interval greater
// than zero is appended to the bounded interval history.
func (s *Scorer) ObserveResurrection(subject string, intervalSeconds float64) {
	st := s.subject(subject)
	st.LastSeen = float64(s.now().Unix())
	st.ResurrectionCount++
	if intervalSeconds > 0 {
		st.ResurrectionIntervals = append(st.ResurrectionIntervals, intervalSeconds)
		if len(st.ResurrectionIntervals) > maxIntervalHistory {
			st.ResurrectionIntervals = st.ResurrectionIntervals[len(st.ResurrectionIntervals)-maxIntervalHistory:]
		}
	}
}

// RecordPatternMatch adds a matched pattern id to the subject's set.
func (s *Scorer) RecordPatternMatch(subject, patternID string) {
	s.subject(subject).PatternsMatched[patternID] = true
}

// ResurrectionIntervals returns a copy of every subject's interval history,
// the raw material for periodic-behavior countermeasure generation.
func (s *Scorer) ResurrectionIntervals() map[string][]float64 {
	out := make(map[string][]float64)
	for name, st := range s.stats {
		if len(st.ResurrectionIntervals) == 0 {
			continue
		}
		out[name] = append([]float64(nil), st.ResurrectionIntervals...)
	}
	return out
}

// KilledSubjects returns every subject with at least one recorded kill, in
// sorted order. Pattern mining feeds on this set.
func (s *Scorer) KilledSubjects() []string {
	var out []string
	for name, st := range s.stats {
		if st.KillCount > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ScoreAll computes the threat score for every subject seen within the last
// seven days. The score is deterministic given identical stats and always
// lies in [0,1].
func (s *Scorer) ScoreAll() map[string]float64 {
	nowSec := float64(s.now().Unix())
	scores := make(map[string]float64)

	for name, st := range s.stats {
		if nowSec-st.LastSeen > staleAfterSeconds {
			continue
		}

		score := 0.5

		if st.KillCount > 0 {
			ratio := float64(st.ResurrectionCount) / float64(st.KillCount)
			score += math.Min(0.3, ratio*0.1)
		}

		if avg, ok := avgInterval(st.ResurrectionIntervals); ok {
			switch {
			case avg < 10:
				score += 0.15
			case avg < 30:
				score += 0.10
			case avg < 60:
				score += 0.05
			}
		}

		score += math.Min(0.2, 0.05*float64(len(st.PatternsMatched)))

		scores[name] = math.Max(0.0, math.Min(1.0, score))
	}
	return scores
}

// HighPriority returns the subjects scoring at or above the threshold, sorted
// by descending score.
func (s *Scorer) HighPriority(threshold float64) []Threat {
	scores := s.ScoreAll()

	var threats []Threat
	for name, score := range scores {
		if score < threshold {
			continue
		}
		st := s.stats[name]
		avg, _ := avgInterval(st.ResurrectionIntervals)
		threats = append(threats, Threat{
			Subject:           name,
			Score:             score,
			KillCount:         st.KillCount,
			ResurrectionCount: st.ResurrectionCount,
			AvgInterval:       avg,
			PatternsMatched:   sortedKeys(st.PatternsMatched),
			LastSeen:          st.LastSeen,
		})
	}

	sort.Slice(threats, func(i, j int) bool {
		if threats[i].Score != threats[j].Score {
			return threats[i].Score > threats[j].Score
		}
		return threats[i].Subject < threats[j].Subject
	})
	return threats
}

func avgInterval(intervals []float64) (float64, bool) {
	if len(intervals) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range intervals {
		sum += v
	}
	return sum / float64(len(intervals)), true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
