// pkg/actions/executor.go
package actions

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/madd-robots/android-security-suite/pkg/countermeasures"
)

// EngineFeedback is the slice of the engine the executor needs: the active
// countermeasure list to act on, and the feedback channel closing the loop so
// executor observations count toward scoring and effectiveness measurement.
type EngineFeedback interface {
	ActiveCountermeasures() []*countermeasures.Countermeasure
	ReportKill(subject string)
	ReportResurrection(subject string, intervalSeconds float64)
}

// ProcessProbe checks whether a subject is currently running.
type ProcessProbe interface {
	Running(ctx context.Context, subject string) (bool, error)
}

// Executor applies due preemptive-kill countermeasures. It runs as a fast
// scheduler task and keeps its own per-countermeasure schedule, so a 30s kill
// interval is honored even though the analysis cycle is minutes long.
//
// Disabled by default: enforcement touches other processes and is opt-in.
type Executor struct {
	enabled bool
	engine  EngineFeedback
	kill    Action
	probe   ProcessProbe
	logger  zerolog.Logger

	lastRun  map[string]time.Time
	killedAt map[string]time.Time
	now      func() time.Time
}

// NewExecutor creates an executor over the engine's countermeasure list.
func NewExecutor(enabled bool, engine EngineFeedback, kill Action, probe ProcessProbe, logger zerolog.Logger) *Executor {
	return &Executor{
		enabled:  enabled,
		engine:   engine,
		kill:     kill,
		probe:    probe,
		logger:   logger.With().Str("component", "executor").Logger(),
		lastRun:  make(map[string]time.Time),
		killedAt: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Name implements the scheduler task interface.
func (x *Executor) Name() string {
	return "countermeasure_executor"
}

// Run reports resurrections of previously killed subjects, then applies
// every due interval-bearing countermeasure once.
func (x *Executor) Run(ctx context.Context) error {
	if !x.enabled {
		return nil
	}

	active := x.engine.ActiveCountermeasures()
	now := x.now()

	x.detectResurrections(ctx, now)

	seen := make(map[string]bool, len(active))
	for _, cm := range active {
		seen[cm.ID] = true

		interval := cm.Params.IntervalSeconds
		if interval <= 0 {
			continue
		}
		if cm.Type != countermeasures.TypePreemptiveKill && cm.Type != countermeasures.TypeCombinedStrategy {
			continue
		}
		if last, ok := x.lastRun[cm.ID]; ok && now.Sub(last) < time.Duration(interval)*time.Second {
			continue
		}
		x.lastRun[cm.ID] = now

		killed, err := x.kill.Execute(ctx, cm.Subject)
		if err != nil {
			x.logger.Warn().Err(err).Str("id", cm.ID).Str("subject", cm.Subject).
				Msg("Kill action failed.")
			continue
		}
		if killed > 0 {
			x.logger.Info().Str("id", cm.ID).Str("subject", cm.Subject).Int("killed", killed).
				Msg("Preemptive kill applied.")
			x.engine.ReportKill(cm.Subject)
			x.killedAt[cm.Subject] = now
		}
	}

	// Forget schedules for countermeasures that expired or were pruned.
	for id := range x.lastRun {
		if !seen[id] {
			delete(x.lastRun, id)
		}
	}
	return nil
}

// detectResurrections reports subjects this executor killed that are running
// again, with the elapsed seconds since the kill.
func (x *Executor) detectResurrections(ctx context.Context, now time.Time) {
	for subject, killedAt := range x.killedAt {
		running, err := x.probe.Running(ctx, subject)
		if err != nil {
			x.logger.Debug().Err(err).Str("subject", subject).Msg("Resurrection probe failed.")
			continue
		}
		if !running {
			continue
		}
		interval := now.Sub(killedAt).Seconds()
		x.logger.Warn().Str("subject", subject).Float64("interval", interval).
			Msg("Killed subject is running again.")
		x.engine.ReportResurrection(subject, interval)
		delete(x.killedAt, subject)
	}
}
