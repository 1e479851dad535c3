// pkg/countermeasures/generate.go
package countermeasures

import (
	"fmt"
	"math"
	"sort"

	"github.com/madd-robots/android-security-suite/pkg/correlation"
)

const (
	// minIntervalSamples: resurrection intervals needed before a periodic
	// pattern is considered established.
	minIntervalSamples = 3
	// maxIntervalVariance: low variance means consistent periodic behavior,
	// the most actionable signal for a preemptive kill.
	maxIntervalVariance = 25.0
	// minCorrelationConfidence gates hook generation.
	minCorrelationConfidence = 0.7
	// escalationIntervalSeconds is the aggressive preemptive-kill interval
	// used when a hook is escalated into a combined strategy.
	escalationIntervalSeconds = 15
)

var hookForTrigger = map[correlation.TriggerType]Type{
	correlation.TriggerScreenStateChange:   TypeScreenStateHook,
	correlation.TriggerAppLaunch:           TypeAppLaunchHook,
	correlation.TriggerNetworkChange:       TypeNetworkHook,
	correlation.TriggerBluetoothEvent:      TypeBluetoothHook,
	correlation.TriggerUsbEvent:            TypeUsbHook,
	correlation.TriggerForegroundAppChange: TypeForegroundAppHook,
}

// Generate proposes countermeasures from observed behavior: a preemptive kill
// for every subject with a consistent resurrection period, and a hook for
// every high-confidence trigger correlation. Proposals carry the subject's
// threat score as severity and come back sorted by descending severity, so a
// capacity-constrained executor takes the most urgent ones first. Proposals
// still pass through Add's dedup rule.
func (m *Manager) Generate(
	resurrectionIntervals map[string][]float64,
	correlations []correlation.Correlation,
	threatScores map[string]float64,
) []*Countermeasure {
	var proposals []*Countermeasure

	subjects := make([]string, 0, len(resurrectionIntervals))
	for subject := range resurrectionIntervals {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		intervals := resurrectionIntervals[subject]
		if len(intervals) < minIntervalSamples {
			continue
		}
		avg, variance := meanAndVariance(intervals)
		if variance >= maxIntervalVariance {
			continue
		}

		// Kill slightly before the expected resurrection.
		killInterval := int(math.Max(1, math.Round(avg)-2))
		proposals = append(proposals, &Countermeasure{
			Type:        TypePreemptiveKill,
			Subject:     subject,
			Params:      Params{IntervalSeconds: killInterval},
			Severity:    scoreFor(threatScores, subject),
			Description: fmt.Sprintf("Preemptively kill %s every %d seconds", subject, killInterval),
		})
	}

	for _, corr := range correlations {
		if corr.Confidence < minCorrelationConfidence {
			continue
		}
		hookType, ok := hookForTrigger[corr.TriggerType]
		if !ok {
			continue
		}
		proposals = append(proposals, &Countermeasure{
			Type:        hookType,
			Subject:     corr.Subject,
			Severity:    scoreFor(threatScores, corr.Subject),
			Description: fmt.Sprintf("Monitor and kill %s immediately after %s", corr.Subject, corr.TriggerType),
		})
	}

	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].Severity > proposals[j].Severity
	})
	return proposals
}

// Escalate produces a more aggressive replacement for an ineffective
// countermeasure. The replacement is a brand-new proposal: its id is cleared
// so Add mints a fresh one, tracking restarts, the TTL doubles for a longer
// evaluation period, and severity is bumped. The original is never mutated.
func (m *Manager) Escalate(cm *Countermeasure) *Countermeasure {
	escalated := *cm
	escalated.ID = ""
	escalated.RetryCount = 0
	escalated.Tracking = Tracking{LastChecked: float64(m.now().Unix())}
	escalated.Severity = math.Min(1.0, cm.Severity+0.2)
	escalated.TTLSeconds = cm.TTLSeconds * 2

	switch {
	case cm.Type == TypePreemptiveKill:
		// Halve the interval for more frequent kills.
		interval := cm.Params.IntervalSeconds / 2
		if interval < 1 {
			interval = 1
		}
		escalated.Params = Params{IntervalSeconds: interval}
		escalated.Description = fmt.Sprintf("Escalated: Preemptively kill %s every %d seconds", cm.Subject, interval)

	case cm.Type.IsHook():
		escalated.Type = TypeCombinedStrategy
		escalated.Params = Params{
			IntervalSeconds: escalationIntervalSeconds,
			Components:      []Type{cm.Type, TypePreemptiveKill},
		}
		escalated.Description = fmt.Sprintf("Escalated: Combined strategy for %s with %ds preemptive kills",
			cm.Subject, escalationIntervalSeconds)
	}

	return &escalated
}

func scoreFor(scores map[string]float64, subject string) float64 {
	if score, ok := scores[subject]; ok {
		return score
	}
	return 0.5
}

func meanAndVariance(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, variance / float64(len(values))
}
