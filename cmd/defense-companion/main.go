package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/madd-robots/android-security-suite/pkg/actions"
	"github.com/madd-robots/android-security-suite/pkg/api"
	"github.com/madd-robots/android-security-suite/pkg/config"
	"github.com/madd-robots/android-security-suite/pkg/engine"
	"github.com/madd-robots/android-security-suite/pkg/logger"
	"github.com/madd-robots/android-security-suite/pkg/notify"
	"github.com/madd-robots/android-security-suite/pkg/scheduler"
)

func main() {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().Msg("Defense companion starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s, Sources=%d",
		cfg.LogLevel, cfg.APIPort, len(cfg.LogSources))

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Goroutine to handle graceful shutdown
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	notifier := notify.New(cfg.Notifications, log.Logger)
	eng := engine.New(cfg, log.Logger, notifier)

	killAction := actions.NewKillSubjectAction(log.Logger)
	executor := actions.NewExecutor(cfg.Actions.Enabled, eng, killAction, killAction, log.Logger)

	// Start API server in a goroutine
	go api.StartAPIServer(cfg.APIPort, eng)

	// Initialize and start the scheduler
	sched := scheduler.NewScheduler(parseDuration(cfg.Analysis.ErrorBackoff, 60*time.Second))
	sched.RegisterTask(eng, parseDuration(cfg.Analysis.Interval, 300*time.Second))
	sched.RegisterTask(executor, parseDuration(cfg.Actions.Interval, 5*time.Second))
	sched.Start(ctx)

	<-ctx.Done()

	sched.Wait()
	eng.Close()
	log.Info().Msg("Defense companion stopped.")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("value", raw).Dur("fallback", fallback).Msg("Invalid duration, using fallback")
		return fallback
	}
	return d
}
