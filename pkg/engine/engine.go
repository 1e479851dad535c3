// pkg/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/madd-robots/android-security-suite/pkg/config"
	"github.com/madd-robots/android-security-suite/pkg/correlation"
	"github.com/madd-robots/android-security-suite/pkg/countermeasures"
	enginerr "github.com/madd-robots/android-security-suite/pkg/errors"
	"github.com/madd-robots/android-security-suite/pkg/events"
	"github.com/madd-robots/android-security-suite/pkg/ingest"
	"github.com/madd-robots/android-security-suite/pkg/notify"
	"github.com/madd-robots/android-security-suite/pkg/patterns"
	"github.com/madd-robots/android-security-suite/pkg/scoring"
)

const (
	// miningMinSubjects: distinct killed subjects required before pattern
	// mining runs. Below this the n-gram candidates are too anecdotal.
	miningMinSubjects = 3
	// strongCorrelationMinCount: observations of a (subject, trigger) pair
	// required before it counts as a correlation.
	strongCorrelationMinCount = 3
)

// Status is the engine state snapshot served by the status API.
type Status struct {
	PatternVersion        int              `json:"pattern_version"`
	PatternCount          int              `json:"pattern_count"`
	ActiveCountermeasures int              `json:"active_countermeasures"`
	HighPriorityThreats   []scoring.Threat `json:"high_priority_threats"`
	LastCycle             string           `json:"last_cycle,omitempty"`
}

// Engine drives the adaptive defense loop: ingest new log lines, normalize
// them into events, feed the correlator and scorer, mine new detection
// patterns, generate and escalate countermeasures, persist state, and report
// high-priority threats.
//
// All mutable state is guarded by one coarse mutex held for the whole cycle.
// Cycles run on the order of minutes apart, so contention is not a concern,
// and the single lock makes every cycle observation atomic with respect to
// executor feedback and status reads.
type Engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	notifier notify.Notifier

	mu         sync.Mutex
	sources    *ingest.SourceSet
	normalizer *events.Normalizer
	patterns   *patterns.Store
	correlator *correlation.Correlator
	scorer     *scoring.Scorer
	manager    *countermeasures.Manager

	lastCycle time.Time
	now       func() time.Time
}

// New assembles an engine from configuration. Persisted pattern,
// countermeasure, and metrics state is loaded here; correlation counters
// survive restarts through the metrics file.
func New(cfg *config.Config, logger zerolog.Logger, notifier notify.Notifier) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "engine").Logger(),
		notifier:   notifier,
		sources:    ingest.NewSourceSet(cfg.LogSources, logger),
		normalizer: events.NewNormalizer(),
		patterns:   patterns.NewStore(cfg.Patterns, logger),
		correlator: correlation.NewCorrelator(logger),
		scorer:     scoring.NewScorer(logger),
		manager:    countermeasures.NewManager(cfg.Countermeasures, logger),
		now:        time.Now,
	}
	e.correlator.RestoreCounters(e.manager.TriggerCounts())
	return e
}

// Name implements the scheduler task interface.
func (e *Engine) Name() string {
	return "analysis_engine"
}

// Run executes one analysis cycle. Any unexpected failure, panics included,
// is wrapped as a cycle error so the scheduler applies its backoff instead of
// the process dying mid-defense.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ee := enginerr.NewCycleError("engine", fmt.Errorf("panic: %v", r))
			ee.Log(e.logger)
			err = ee
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ingestLocked()
	e.mineLocked()
	e.respondLocked()
	e.persistLocked()
	e.reportLocked(ctx)

	e.lastCycle = e.now()
	return nil
}

// ingestLocked reads and normalizes all new log lines, routing each event to
// the scorer, correlator, and effectiveness tracking.
func (e *Engine) ingestLocked() {
	batches := e.sources.ReadNew()

	paths := make([]string, 0, len(batches))
	for path := range batches {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		for _, line := range batches[path] {
			ev, ok := e.normalizer.Parse(line)
			if !ok {
				continue
			}
			total++
			switch ev.Kind {
			case events.KindKill:
				e.observeKillLocked(ev.Subject)
			case events.KindResurrection:
				interval, _ := ev.ResurrectionInterval()
				e.observeResurrectionLocked(ev.Subject, interval, ev.Timestamp)
			default:
				e.correlator.Record(ev.Kind, ev.Timestamp, ev.Attributes)
			}
		}
	}
	if total > 0 {
		e.logger.Debug().Int("events", total).Int("sources", len(paths)).Msg("Ingested new events.")
	}
}

func (e *Engine) observeKillLocked(subject string) {
	e.scorer.ObserveKill(subject)
	e.manager.UpdateEffectiveness(subject, true)
	for _, expr := range e.patterns.Match(subject) {
		e.scorer.RecordPatternMatch(subject, expr)
	}
}

func (e *Engine) observeResurrectionLocked(subject string, interval, timestamp float64) {
	e.scorer.ObserveResurrection(subject, interval)
	e.manager.UpdateEffectiveness(subject, false)

	for _, trigger := range e.correlator.Correlate(subject, timestamp) {
		e.logger.Info().Str("subject", subject).Str("trigger", string(trigger.Type)).
			Float64("time_diff", trigger.TimeDiff).Msg("Resurrection trigger suspected.")
	}
}

// mineLocked proposes and admits new detection patterns once enough distinct
// subjects have been killed to make shared n-grams meaningful.
func (e *Engine) mineLocked() {
	killed := e.scorer.KilledSubjects()
	if len(killed) < miningMinSubjects {
		return
	}
	candidates := e.patterns.Propose(killed)
	if admitted := e.patterns.Admit(candidates); admitted > 0 {
		e.logger.Info().Int("admitted", admitted).Int("candidates", len(candidates)).
			Msg("Admitted mined patterns.")
	}
}

// respondLocked generates countermeasures for the current threat picture and
// escalates the ones that measurably failed. Everything funnels through Add,
// whose dedup rule damps repeated proposals into TTL extensions.
func (e *Engine) respondLocked() {
	scores := e.scorer.ScoreAll()
	correlations := e.correlator.StrongCorrelations(strongCorrelationMinCount)

	for _, cm := range e.manager.Generate(e.scorer.ResurrectionIntervals(), correlations, scores) {
		e.manager.Add(cm)
	}

	for _, cm := range e.manager.Ineffective(e.cfg.Countermeasures.EffectivenessThreshold) {
		e.logger.Warn().Str("id", cm.ID).Str("subject", cm.Subject).
			Float64("effectiveness", e.manager.Effectiveness(cm.ID)).
			Msg("Countermeasure ineffective, escalating.")
		e.manager.Add(e.manager.Escalate(cm))
	}
}

// persistLocked flushes countermeasure state and metrics. The pattern store
// persists itself on every admission, so only a snapshot of the correlation
// counters and the countermeasure list is written here.
func (e *Engine) persistLocked() {
	e.manager.SetTriggerCounts(e.correlator.Counters())
	if err := e.manager.SaveMetrics(); err != nil {
		enginerr.NewPersistenceError("engine", e.cfg.Countermeasures.MetricsFile, err).Log(e.logger)
	}
	if err := e.manager.Save(); err != nil {
		enginerr.NewPersistenceError("engine", e.cfg.Countermeasures.File, err).Log(e.logger)
	}
}

// reportLocked notifies about subjects scoring at or above the high-priority
// threshold.
func (e *Engine) reportLocked(ctx context.Context) {
	for _, threat := range e.scorer.HighPriority(e.cfg.Analysis.HighPriority) {
		e.logger.Warn().Str("subject", threat.Subject).Float64("score", threat.Score).
			Int("kills", threat.KillCount).Int("resurrections", threat.ResurrectionCount).
			Msg("High-priority threat.")
		e.notifier.Notify(ctx, fmt.Sprintf("High-priority threat: %s (score %.2f, %d resurrections)",
			threat.Subject, threat.Score, threat.ResurrectionCount))
	}
}

// ReportKill is the executor feedback channel for a kill it performed.
func (e *Engine) ReportKill(subject string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeKillLocked(subject)
}

// ReportResurrection is the executor feedback channel for a resurrection it
// observed directly, outside the log pipeline.
func (e *Engine) ReportResurrection(subject string, intervalSeconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeResurrectionLocked(subject, intervalSeconds, float64(e.now().Unix()))
}

// ActiveCountermeasures returns the current countermeasure list for the
// executor.
func (e *Engine) ActiveCountermeasures() []*countermeasures.Countermeasure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Active()
}

// Status snapshots engine state for the status API.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		PatternVersion:        e.patterns.Version(),
		PatternCount:          len(e.patterns.Patterns()),
		ActiveCountermeasures: len(e.manager.Active()),
		HighPriorityThreats:   e.scorer.HighPriority(e.cfg.Analysis.HighPriority),
	}
	if !e.lastCycle.IsZero() {
		st.LastCycle = e.lastCycle.Format(time.RFC3339)
	}
	return st
}

// Close persists all state and releases the log watchers. Called once on
// shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.persistLocked()
	e.sources.Close()
	e.logger.Info().Msg("Engine state persisted, shutting down.")
}
