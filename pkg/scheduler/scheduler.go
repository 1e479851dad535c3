package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task defines the interface for any periodic task the scheduler can run.
// A task run that returns an error is followed by the error backoff instead
// of the normal interval; the task itself is never unscheduled.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	task     Task
	interval time.Duration
}

// Scheduler manages the registration and execution of periodic tasks. Each
// task runs on its own goroutine, immediately on start and then on its
// interval; runs of one task never overlap. Cancellation is checked between
// runs only, so a run always completes once started.
type Scheduler struct {
	entries []entry
	backoff time.Duration
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler applying the given backoff after a failed
// task run.
func NewScheduler(errorBackoff time.Duration) *Scheduler {
	return &Scheduler{backoff: errorBackoff}
}

// RegisterTask adds a task with its run interval.
func (s *Scheduler) RegisterTask(t Task, interval time.Duration) {
	s.entries = append(s.entries, entry{task: t, interval: interval})
	log.Info().Str("task", t.Name()).Dur("interval", interval).Msg("Task registered.")
}

// Start launches all registered tasks.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("Scheduler starting...")
	for _, e := range s.entries {
		s.wg.Add(1)
		go func(e entry) {
			defer s.wg.Done()
			s.runTask(ctx, e)
		}(e)
	}
}

// Wait blocks until every task goroutine has observed cancellation and
// returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, e entry) {
	timer := time.NewTimer(0) // first run is immediate
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("task", e.task.Name()).Msg("Task received shutdown signal.")
			return
		case <-timer.C:
		}

		next := e.interval
		if err := e.task.Run(ctx); err != nil {
			log.Error().Err(err).Str("task", e.task.Name()).
				Dur("backoff", s.backoff).Msg("Task run failed, backing off.")
			next = s.backoff
		}
		timer.Reset(next)
	}
}
