// pkg/countermeasures/effectiveness.go
package countermeasures

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	enginerr "github.com/madd-robots/android-security-suite/pkg/errors"
)

const (
	// minActiveSeconds is how long a countermeasure must have been active
	// before it is judged ineffective.
	minActiveSeconds = 1800.0
	// baselineHours is the assumed span of pre-countermeasure history used
	// to turn the baseline resurrection count into a rate.
	// TODO: replace with a measured pre-activation window; the fixed
	// baseline overweights subjects first seen mid-burst.
	baselineHours = 1.0

	epsilonSeconds = 1e-6
)

// EffectivenessRecord is the persisted measurement for one countermeasure.
type EffectivenessRecord struct {
	Effectiveness float64 `json:"effectiveness"`
	LastUpdated   float64 `json:"last_updated"`
}

// SubjectCounters are per-subject kill/resurrection observations reported by
// the executor feedback channel.
type SubjectCounters struct {
	TotalKills       int     `json:"total_kills"`
	Resurrections    int     `json:"resurrections"`
	LastKill         float64 `json:"last_kill"`
	LastResurrection float64 `json:"last_resurrection"`
}

// Metrics is the persisted effectiveness state: per-countermeasure
// measurements, per-subject behavioral counters, and the correlation
// counters snapshotted alongside them.
type Metrics struct {
	Countermeasures map[string]*EffectivenessRecord `json:"countermeasures"`
	Subjects        map[string]*SubjectCounters     `json:"subjects"`
	TriggerCounts   map[string]int                  `json:"trigger_counts,omitempty"`
}

func (m *Manager) loadMetrics() {
	m.metrics = Metrics{
		Countermeasures: make(map[string]*EffectivenessRecord),
		Subjects:        make(map[string]*SubjectCounters),
		TriggerCounts:   make(map[string]int),
	}

	data, err := os.ReadFile(m.cfg.MetricsFile)
	if err != nil {
		if !os.IsNotExist(err) {
			enginerr.NewPersistenceError("countermeasures", m.cfg.MetricsFile, err).Log(m.logger)
		}
		return
	}

	var loaded Metrics
	if err := json.Unmarshal(data, &loaded); err != nil {
		enginerr.NewPersistenceError("countermeasures", m.cfg.MetricsFile, err).Log(m.logger)
		return
	}
	if loaded.Countermeasures != nil {
		m.metrics.Countermeasures = loaded.Countermeasures
	}
	if loaded.Subjects != nil {
		m.metrics.Subjects = loaded.Subjects
	}
	if loaded.TriggerCounts != nil {
		m.metrics.TriggerCounts = loaded.TriggerCounts
	}
}

// SaveMetrics persists the effectiveness metrics file.
func (m *Manager) SaveMetrics() error {
	data, err := json.MarshalIndent(m.metrics, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.MetricsFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.MetricsFile, data, 0o644)
}

// TriggerCounts returns the persisted correlation counters.
func (m *Manager) TriggerCounts() map[string]int {
	return m.metrics.TriggerCounts
}

// SetTriggerCounts snapshots the correlation counters for persistence.
func (m *Manager) SetTriggerCounts(counts map[string]int) {
	m.metrics.TriggerCounts = counts
}

// Effectiveness returns the recorded measurement for a countermeasure id,
// defaulting to zero when none has been computed yet.
func (m *Manager) Effectiveness(id string) float64 {
	if rec, ok := m.metrics.Countermeasures[id]; ok {
		return rec.Effectiveness
	}
	return 0.0
}

// UpdateEffectiveness feeds one executor observation for a subject into the
// metrics: a kill, or a resurrection. Resurrections additionally update the
// tracking of every active countermeasure targeting the subject: a baseline
// is established on the first observation, later ones accumulate and refresh
// the measured effectiveness.
func (m *Manager) UpdateEffectiveness(subject string, killed bool) {
	nowSec := float64(m.now().Unix())

	counters, ok := m.metrics.Subjects[subject]
	if !ok {
		counters = &SubjectCounters{}
		m.metrics.Subjects[subject] = counters
	}

	if killed {
		counters.TotalKills++
		counters.LastKill = nowSec
	} else {
		counters.Resurrections++
		counters.LastResurrection = nowSec

		for _, cm := range m.items {
			if cm.Subject != subject {
				continue
			}
			if cm.Tracking.ResurrectionsBefore == 0 && cm.Tracking.ResurrectionsAfter == 0 {
				cm.Tracking.ResurrectionsBefore = counters.Resurrections
			} else {
				cm.Tracking.ResurrectionsAfter++
			}

			effectiveness := computeEffectiveness(cm.Tracking, nowSec)
			cm.Tracking.LastChecked = nowSec

			if cm.Tracking.ResurrectionsBefore > 0 {
				m.metrics.Countermeasures[cm.ID] = &EffectivenessRecord{
					Effectiveness: effectiveness,
					LastUpdated:   nowSec,
				}
			}
		}
	}

	if err := m.SaveMetrics(); err != nil {
		enginerr.NewPersistenceError("countermeasures", m.cfg.MetricsFile, err).Log(m.logger)
	}
}

// computeEffectiveness compares the post-activation resurrection rate with
// the baseline rate over the assumed one-hour history window, clamped to
// [0,1]. A zero baseline yields zero: no claim of effect without evidence of
// the prior behavior.
func computeEffectiveness(tracking Tracking, nowSec float64) float64 {
	elapsed := math.Max(epsilonSeconds, nowSec-tracking.LastChecked)
	rateAfter := float64(tracking.ResurrectionsAfter) / (elapsed / 3600.0)
	rateBefore := float64(tracking.ResurrectionsBefore) / baselineHours

	if rateBefore <= 0 {
		return 0.0
	}
	return math.Max(0.0, math.Min(1.0, 1.0-rateAfter/rateBefore))
}

// Ineffective returns the countermeasures that have been active for at least
// the minimum evaluation window and whose measured effectiveness sits below
// the threshold.
func (m *Manager) Ineffective(threshold float64) []*Countermeasure {
	var out []*Countermeasure
	for _, cm := range m.items {
		if cm.Tracking.LastChecked-cm.CreatedAt < minActiveSeconds {
			continue
		}
		if m.Effectiveness(cm.ID) < threshold {
			out = append(out, cm)
		}
	}
	return out
}
