// pkg/actions/kill_subject.go
package actions

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// terminateGrace is how long a process gets to exit after SIGTERM before the
// executor follows up with SIGKILL.
const terminateGrace = 500 * time.Millisecond

// KillSubjectAction terminates every running process whose name or command
// line contains the subject. Termination is polite first (SIGTERM), forced
// after the grace period.
type KillSubjectAction struct {
	logger zerolog.Logger
}

// NewKillSubjectAction creates the kill action.
func NewKillSubjectAction(logger zerolog.Logger) *KillSubjectAction {
	return &KillSubjectAction{
		logger: logger.With().Str("component", "kill_subject_action").Logger(),
	}
}

// Name implements Action.
func (a *KillSubjectAction) Name() string {
	return "kill_subject"
}

// Execute finds and terminates matching processes.
func (a *KillSubjectAction) Execute(ctx context.Context, subject string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, p := range procs {
		if !a.matches(ctx, p, subject) {
			continue
		}
		if err := p.TerminateWithContext(ctx); err != nil {
			a.logger.Debug().Err(err).Int32("pid", p.Pid).Str("subject", subject).
				Msg("SIGTERM failed.")
			continue
		}
		time.Sleep(terminateGrace)
		if running, _ := p.IsRunningWithContext(ctx); running {
			if err := p.KillWithContext(ctx); err != nil {
				a.logger.Warn().Err(err).Int32("pid", p.Pid).Str("subject", subject).
					Msg("SIGKILL failed.")
				continue
			}
		}
		a.logger.Info().Int32("pid", p.Pid).Str("subject", subject).Msg("Terminated process.")
		killed++
	}
	return killed, nil
}

// Running reports whether any process currently matches the subject. Used by
// the executor to notice resurrections between analysis cycles.
func (a *KillSubjectAction) Running(ctx context.Context, subject string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		if a.matches(ctx, p, subject) {
			return true, nil
		}
	}
	return false, nil
}

func (a *KillSubjectAction) matches(ctx context.Context, p *process.Process, subject string) bool {
	if name, err := p.NameWithContext(ctx); err == nil && strings.Contains(name, subject) {
		return true
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil && cmdline != "" {
		return strings.Contains(cmdline, subject)
	}
	return false
}
