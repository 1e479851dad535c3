// pkg/patterns/store.go
package patterns

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/madd-robots/android-security-suite/pkg/config"
	enginerr "github.com/madd-robots/android-security-suite/pkg/errors"
)

const compiledCacheSize = 256

// Pattern is one detection rule over subject names.
type Pattern struct {
	Expression string    `json:"expression"`
	Core       string    `json:"-"` // expression with regex syntax stripped
	CreatedAt  time.Time `json:"created_at"`
}

// Metadata versions the persisted pattern list.
type Metadata struct {
	LastUpdated string `json:"last_updated"`
	Version     int    `json:"version"`
}

type fileState struct {
	Services []string  `json:"services"`
	Patterns []Pattern `json:"patterns"`
	Metadata Metadata  `json:"metadata"`
}

// Store owns the ordered, append-only pattern list and its compiled-regex
// cache. The store keeps the pattern set minimal: candidates too similar to
// an existing pattern, or subset/superset of one, are rejected on admission.
type Store struct {
	cfg      config.PatternConfig
	logger   zerolog.Logger
	patterns []Pattern
	services []string
	meta     Metadata
	compiled *lru.Cache[string, *regexp.Regexp]
}

// NewStore loads the persisted pattern list, seeding a default set when no
// state file exists yet.
func NewStore(cfg config.PatternConfig, logger zerolog.Logger) *Store {
	cache, _ := lru.New[string, *regexp.Regexp](compiledCacheSize)
	s := &Store{
		cfg:      cfg,
		logger:   logger.With().Str("component", "pattern_store").Logger(),
		compiled: cache,
	}
	s.load()
	return s
}

func defaultState() fileState {
	now := time.Now()
	mk := func(expr string) Pattern {
		return Pattern{Expression: expr, CreatedAt: now}
	}
	return fileState{
		Services: []string{
			"GoogleLocationService",
			"GoogleLocationManagerService",
			"OfflineBeaconService_Persistent",
			"LocationPersistentService",
			"CrisisAlertsPersistentService",
		},
		Patterns: []Pattern{
			mk(".*Location.*Service"),
			mk(".*Beacon.*Service"),
			mk(".*Persistent.*"),
			mk(".*KLMS.*"),
			mk(".*Tracking.*"),
		},
		Metadata: Metadata{Version: 1, LastUpdated: now.Format(time.RFC3339)},
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.cfg.File)
	if err != nil {
		if !os.IsNotExist(err) {
			enginerr.NewPersistenceError("pattern_store", s.cfg.File, err).Log(s.logger)
		}
		s.adopt(defaultState())
		if err := s.Save(); err != nil {
			enginerr.NewPersistenceError("pattern_store", s.cfg.File, err).Log(s.logger)
		}
		return
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		enginerr.NewPersistenceError("pattern_store", s.cfg.File, err).Log(s.logger)
		s.adopt(defaultState())
		return
	}
	s.adopt(state)
	s.logger.Info().Int("patterns", len(s.patterns)).Msg("Loaded patterns from configuration.")
}

func (s *Store) adopt(state fileState) {
	s.services = state.Services
	s.meta = state.Metadata
	s.patterns = state.Patterns
	for i := range s.patterns {
		s.patterns[i].Core = PatternCore(s.patterns[i].Expression)
	}
	s.compiled.Purge()
}

// Save persists the pattern list, bumping the metadata version.
func (s *Store) Save() error {
	s.meta.Version++
	s.meta.LastUpdated = time.Now().Format(time.RFC3339)

	state := fileState{Services: s.services, Patterns: s.patterns, Metadata: s.meta}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.File), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.cfg.File, data, 0o644); err != nil {
		return err
	}
	s.logger.Info().Int("patterns", len(s.patterns)).Int("version", s.meta.Version).
		Msg("Saved updated patterns configuration.")
	return nil
}

// Version returns the persisted metadata version.
func (s *Store) Version() int {
	return s.meta.Version
}

// Patterns returns a copy of the ordered pattern list.
func (s *Store) Patterns() []Pattern {
	out := make([]Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Match evaluates a subject against every stored pattern and returns the
// expressions that match. A pattern that fails to compile is evicted from the
// cache, logged, and skipped; one bad rule never aborts matching.
func (s *Store) Match(subject string) []string {
	var matched []string
	for _, p := range s.patterns {
		re, ok := s.compiled.Get(p.Expression)
		if !ok {
			var err error
			re, err = regexp.Compile(p.Expression)
			if err != nil {
				enginerr.NewPatternError("pattern_store", p.Expression, err).Log(s.logger)
				s.compiled.Remove(p.Expression)
				continue
			}
			s.compiled.Add(p.Expression, re)
		}
		if re.MatchString(subject) {
			matched = append(matched, p.Expression)
		}
	}
	return matched
}

// Admit appends the candidates that survive the anti-redundancy rules and
// returns how many were admitted. The compiled cache is invalidated when the
// set changes.
func (s *Store) Admit(candidates []string) int {
	admitted := 0
	for _, expr := range candidates {
		if s.exists(expr) || s.tooSimilar(expr) {
			continue
		}
		s.patterns = append(s.patterns, Pattern{
			Expression: expr,
			Core:       PatternCore(expr),
			CreatedAt:  time.Now(),
		})
		admitted++
	}
	if admitted > 0 {
		s.compiled.Purge()
		if err := s.Save(); err != nil {
			enginerr.NewPersistenceError("pattern_store", s.cfg.File, err).Log(s.logger)
		}
	}
	return admitted
}

func (s *Store) exists(expression string) bool {
	for _, p := range s.patterns {
		if p.Expression == expression {
			return true
		}
	}
	return false
}

// tooSimilar applies the admission invariant: a candidate whose core is too
// short, is a subset or superset of an existing core, or sits above the
// similarity threshold against any existing core is rejected.
func (s *Store) tooSimilar(expression string) bool {
	core := PatternCore(expression)
	if len(core) < s.cfg.MinLength {
		return true
	}
	for _, p := range s.patterns {
		if p.Core == "" {
			continue
		}
		if strings.Contains(p.Core, core) || strings.Contains(core, p.Core) {
			return true
		}
		if Similarity(core, p.Core) > s.cfg.SimilarityThreshold {
			return true
		}
	}
	return false
}
