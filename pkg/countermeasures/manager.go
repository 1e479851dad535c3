// pkg/countermeasures/manager.go
package countermeasures

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/madd-robots/android-security-suite/pkg/config"
	enginerr "github.com/madd-robots/android-security-suite/pkg/errors"
)

// fileEnvelope versions the persisted countermeasure list, keeping it
// inspectable and diffable between cycles.
type fileEnvelope struct {
	Countermeasures []*Countermeasure `json:"countermeasures"`
	Version         int               `json:"version"`
	LastUpdated     string            `json:"last_updated"`
}

// Manager owns the countermeasure list and its state machine: proposal,
// activation with TTL, dedup-damped re-adds, effectiveness measurement,
// escalation, and expiry pruning at every save.
type Manager struct {
	cfg     config.CountermeasureConfig
	logger  zerolog.Logger
	items   []*Countermeasure
	version int
	metrics Metrics
	now     func() time.Time
}

// NewManager loads persisted countermeasures and effectiveness metrics.
func NewManager(cfg config.CountermeasureConfig, logger zerolog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: logger.With().Str("component", "countermeasures").Logger(),
		now:    time.Now,
	}
	m.load()
	m.loadMetrics()
	return m
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.cfg.File)
	if err != nil {
		if !os.IsNotExist(err) {
			enginerr.NewPersistenceError("countermeasures", m.cfg.File, err).Log(m.logger)
		}
		return
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		enginerr.NewPersistenceError("countermeasures", m.cfg.File, err).Log(m.logger)
		return
	}
	m.items = envelope.Countermeasures
	m.version = envelope.Version
	m.logger.Info().Int("count", len(m.items)).Msg("Loaded countermeasures from configuration.")
}

// Save prunes expired and retry-exhausted countermeasures and persists the
// remainder. A write failure is logged and the in-memory state retained; the
// next cycle retries.
func (m *Manager) Save() error {
	m.prune()

	m.version++
	envelope := fileEnvelope{
		Countermeasures: m.items,
		Version:         m.version,
		LastUpdated:     m.now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.File), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(m.cfg.File, data, 0o644); err != nil {
		return err
	}
	m.logger.Info().Int("count", len(m.items)).Msg("Saved countermeasures to configuration.")
	return nil
}

// prune drops countermeasures past their TTL or retry budget.
func (m *Manager) prune() {
	nowSec := float64(m.now().Unix())
	active := m.items[:0]
	for _, cm := range m.items {
		if cm.ExpiresAt < nowSec {
			m.logger.Info().Str("id", cm.ID).Str("subject", cm.Subject).Msg("Countermeasure expired.")
			continue
		}
		if cm.MaxRetries > 0 && cm.RetryCount >= cm.MaxRetries {
			m.logger.Info().Str("id", cm.ID).Str("subject", cm.Subject).Msg("Countermeasure retry limit exceeded.")
			continue
		}
		active = append(active, cm)
	}
	m.items = active
}

// Add activates a countermeasure. Duplicates (same uniqueness key) extend the
// existing entry's TTL and bump its retry count instead of inserting; this is
// the self-damping mechanism against regenerating the same countermeasure
// every cycle. Returns true when the list was touched.
func (m *Manager) Add(cm *Countermeasure) bool {
	if cm == nil {
		return false
	}

	nowSec := float64(m.now().Unix())
	ttl := cm.TTLSeconds
	if ttl <= 0 {
		ttl = m.cfg.TTLSeconds
		cm.TTLSeconds = ttl
	}
	cm.CreatedAt = nowSec
	cm.ExpiresAt = nowSec + ttl
	if cm.MaxRetries == 0 {
		cm.MaxRetries = m.cfg.MaxRetries
	}
	if cm.Tracking.LastChecked == 0 {
		cm.Tracking = Tracking{LastChecked: nowSec}
	}
	if cm.ID == "" {
		cm.ID = mintID(cm.Type, cm.Subject, nowSec)
	}

	for _, existing := range m.items {
		if existing.DuplicateOf(cm) {
			existing.ExpiresAt = nowSec + ttl
			existing.RetryCount++
			m.logger.Debug().Str("id", existing.ID).Str("subject", existing.Subject).
				Msg("Updated existing countermeasure.")
			m.saveLogged()
			return true
		}
	}

	m.items = append(m.items, cm)
	m.logger.Info().Str("id", cm.ID).Str("type", string(cm.Type)).Str("subject", cm.Subject).
		Float64("severity", cm.Severity).Msg("Added new countermeasure.")
	m.saveLogged()
	return true
}

func (m *Manager) saveLogged() {
	if err := m.Save(); err != nil {
		enginerr.NewPersistenceError("countermeasures", m.cfg.File, err).Log(m.logger)
	}
}

// Active returns a copy of the current countermeasure list in insertion
// order.
func (m *Manager) Active() []*Countermeasure {
	out := make([]*Countermeasure, len(m.items))
	copy(out, m.items)
	return out
}

// Version returns the persisted list version.
func (m *Manager) Version() int {
	return m.version
}
