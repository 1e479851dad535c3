package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/madd-robots/android-security-suite/pkg/engine"
)

// StatusProvider supplies the engine state snapshot served on /status.
type StatusProvider interface {
	Status() engine.Status
}

// StartAPIServer initializes and starts a simple HTTP server in a goroutine.
// It provides endpoints for health checks (/healthz), Prometheus-style
// metrics (/metrics), and an engine state snapshot (/status).
// The server will run until the application is terminated.
func StartAPIServer(port string, provider StatusProvider) {
	http.HandleFunc("/healthz", healthzHandler)
	http.HandleFunc("/metrics", metricsHandler(provider))
	http.HandleFunc("/status", statusHandler(provider))

	log.Info().Msgf("API server starting on :%s", port)
	err := http.ListenAndServe(":"+port, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("API server failed to start")
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func metricsHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := provider.Status()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "# HELP companion_up Is the defense companion up and running.\n# TYPE companion_up gauge\ncompanion_up 1\n")
		fmt.Fprintf(w, "# HELP companion_patterns Number of stored detection patterns.\n# TYPE companion_patterns gauge\ncompanion_patterns %d\n", st.PatternCount)
		fmt.Fprintf(w, "# HELP companion_countermeasures_active Number of active countermeasures.\n# TYPE companion_countermeasures_active gauge\ncompanion_countermeasures_active %d\n", st.ActiveCountermeasures)
		fmt.Fprintf(w, "# HELP companion_threats_high_priority Number of subjects at or above the high-priority threshold.\n# TYPE companion_threats_high_priority gauge\ncompanion_threats_high_priority %d\n", len(st.HighPriorityThreats))
	}
}

func statusHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Status()); err != nil {
			log.Error().Err(err).Msg("Failed to encode status response")
		}
	}
}
