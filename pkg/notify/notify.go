// pkg/notify/notify.go
package notify

import (
	"context"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/madd-robots/android-security-suite/pkg/config"
)

// commandTimeout bounds the external notification command so a hung binary
// never stalls an analysis cycle.
const commandTimeout = 5 * time.Second

// Notifier delivers a high-priority alert to the device user. Delivery is
// best effort; failures are logged by implementations and never propagated.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// CommandNotifier shells out to a notification command such as
// termux-notification. Each alert carries a unique id so delivered
// notifications can be matched back to engine logs.
type CommandNotifier struct {
	command string
	title   string
	logger  zerolog.Logger
}

// LogNotifier writes alerts to the structured log only. It is the fallback
// when notifications are disabled.
type LogNotifier struct {
	logger zerolog.Logger
}

// New selects the notifier for the given configuration.
func New(cfg config.NotificationConfig, logger zerolog.Logger) Notifier {
	l := logger.With().Str("component", "notifier").Logger()
	if !cfg.Enabled || cfg.Command == "" {
		return &LogNotifier{logger: l}
	}
	return &CommandNotifier{command: cfg.Command, title: cfg.Title, logger: l}
}

// Notify runs the notification command with a bounded timeout.
func (n *CommandNotifier) Notify(ctx context.Context, message string) {
	alertID := uuid.New().String()

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, n.command, "--title", n.title, "--content", message)
	if err := cmd.Run(); err != nil {
		n.logger.Warn().Err(err).Str("alert_id", alertID).Str("command", n.command).
			Msg("Notification command failed.")
		return
	}
	n.logger.Info().Str("alert_id", alertID).Str("message", message).Msg("Notification delivered.")
}

// Notify logs the alert.
func (n *LogNotifier) Notify(_ context.Context, message string) {
	n.logger.Info().Str("alert_id", uuid.New().String()).Str("message", message).
		Msg("High-priority alert.")
}
