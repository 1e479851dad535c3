// pkg/correlation/correlator.go
package correlation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/madd-robots/android-security-suite/pkg/events"
)

const (
	// windowCap bounds each ambient event window.
	windowCap = 20
	// triggerWindowSeconds is the time proximity treated as a suspected
	// causal link between an ambient event and a resurrection.
	triggerWindowSeconds = 5.0
)

// TriggerType names the ambient event class suspected of causing a
// resurrection. It is the identity persisted in correlation counters and
// consumed by countermeasure generation.
type TriggerType string

const (
	TriggerScreenStateChange   TriggerType = "screen_state_change"
	TriggerNetworkChange       TriggerType = "network_change"
	TriggerUsbEvent            TriggerType = "usb_event"
	TriggerBluetoothEvent      TriggerType = "bluetooth_event"
	TriggerAppLaunch           TriggerType = "app_launch"
	TriggerForegroundAppChange TriggerType = "foreground_app_change"
)

var triggerTypeForKind = map[events.Kind]TriggerType{
	events.KindScreenState:    TriggerScreenStateChange,
	events.KindNetworkChange:  TriggerNetworkChange,
	events.KindUsbEvent:       TriggerUsbEvent,
	events.KindBluetoothEvent: TriggerBluetoothEvent,
	events.KindAppLaunch:      TriggerAppLaunch,
	events.KindForegroundApp:  TriggerForegroundAppChange,
}

type windowEntry struct {
	Timestamp float64
	Details   map[string]string
}

// Trigger is an ambient event temporally close to a subject resurrection.
// Correlation is deliberately naive (time proximity only): false positives
// are tolerated and corrected by the countermeasure feedback loop.
type Trigger struct {
	Type     TriggerType       `json:"type"`
	Subject  string            `json:"subject"`
	TimeDiff float64           `json:"time_diff"`
	Details  map[string]string `json:"details,omitempty"`
}

// Correlation is a repeatedly observed (subject, trigger type) pairing.
type Correlation struct {
	Subject     string      `json:"subject"`
	TriggerType TriggerType `json:"trigger_type"`
	Count       int         `json:"count"`
	Confidence  float64     `json:"confidence"`
}

// Correlator maintains one bounded FIFO window per ambient event kind and the
// persistent (subject, trigger type) counters mined from them.
type Correlator struct {
	windows map[events.Kind][]windowEntry
	counts  map[string]int
	logger  zerolog.Logger
}

// NewCorrelator creates a correlator with empty windows and counters.
func NewCorrelator(logger zerolog.Logger) *Correlator {
	windows := make(map[events.Kind][]windowEntry, len(events.AmbientKinds))
	for _, kind := range events.AmbientKinds {
		windows[kind] = nil
	}
	return &Correlator{
		windows: windows,
		counts:  make(map[string]int),
		logger:  logger.With().Str("component", "correlator").Logger(),
	}
}

// Record appends an ambient event to its window, evicting the oldest entry
// beyond the cap. Unknown kinds are ignored.
func (c *Correlator) Record(kind events.Kind, timestamp float64, details map[string]string) {
	window, ok := c.windows[kind]
	if !ok {
		return
	}
	window = append(window, windowEntry{Timestamp: timestamp, Details: details})
	if len(window) > windowCap {
		window = window[len(window)-windowCap:]
	}
	c.windows[kind] = window
}

// Correlate returns every windowed ambient event within the trigger window of
// the resurrection timestamp, sorted by ascending time difference so the most
// likely causal trigger comes first. Each hit increments the persistent
// (subject, trigger type) counter.
func (c *Correlator) Correlate(subject string, resurrectionTime float64) []Trigger {
	var triggers []Trigger
	for kind, window := range c.windows {
		for _, entry := range window {
			diff := math.Abs(resurrectionTime - entry.Timestamp)
			if diff > triggerWindowSeconds {
				continue
			}
			triggers = append(triggers, Trigger{
				Type:     triggerTypeForKind[kind],
				Subject:  subject,
				TimeDiff: diff,
				Details:  entry.Details,
			})
			c.counts[counterKey(subject, triggerTypeForKind[kind])]++
		}
	}

	sort.Slice(triggers, func(i, j int) bool {
		return triggers[i].TimeDiff < triggers[j].TimeDiff
	})
	return triggers
}

// StrongCorrelations returns the (subject, trigger type) pairs seen at least
// minCount times, with confidence min(1, count/10), sorted by descending
// confidence.
func (c *Correlator) StrongCorrelations(minCount int) []Correlation {
	var out []Correlation
	for key, count := range c.counts {
		if count < minCount {
			continue
		}
		subject, kind, ok := splitCounterKey(key)
		if !ok {
			continue
		}
		out = append(out, Correlation{
			Subject:     subject,
			TriggerType: kind,
			Count:       count,
			Confidence:  math.Min(1.0, float64(count)/10.0),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Subject < out[j].Subject // stable order for equal confidence
	})
	return out
}

// Counters exposes the persistent counters for state snapshots.
func (c *Correlator) Counters() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// RestoreCounters reloads counters persisted by a previous run.
func (c *Correlator) RestoreCounters(counts map[string]int) {
	for k, v := range counts {
		c.counts[k] = v
	}
}

func counterKey(subject string, trigger TriggerType) string {
	return fmt.Sprintf("%s|%s", subject, trigger)
}

func splitCounterKey(key string) (string, TriggerType, bool) {
	idx := strings.LastIndex(key, "|")
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], TriggerType(key[idx+1:]), true
}
