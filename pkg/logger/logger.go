package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with JSON output to stdout.
// When logFile is non-empty the stream is mirrored to that file, so the
// companion keeps an inspectable on-disk log next to its state files.
// The log level is set based on the provided string (e.g., "info", "debug").
func InitLogger(logLevel, logFile string) {
	var out io.Writer = os.Stdout

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			if f, ferr := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); ferr == nil {
				out = io.MultiWriter(os.Stdout, f)
			}
		}
		// A file that cannot be opened is not fatal; stdout logging continues.
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // Default to info if invalid
	}

	log.Info().Msgf("Logger initialized with level: %s", zerolog.GlobalLevel().String())
}
