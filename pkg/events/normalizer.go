// pkg/events/normalizer.go
package events

import (
	"regexp"
	"strings"
	"time"
)

var (
	killRe      = regexp.MustCompile(`\[(.*?)\] \[KILL\] Terminated (.*?) \(PID:`)
	parentRe    = regexp.MustCompile(`Terminated .*? \(PID:.*Parent:(.*?)(?:,|$)`)
	resurrectRe = regexp.MustCompile(`Service (.*?) resurrected after (\d+) seconds`)
	timestampRe = regexp.MustCompile(`\[([\d\-: ]+)\]`)
	launchRe    = regexp.MustCompile(`cmp=([^\s/]+)`)
	displayedRe = regexp.MustCompile(`([a-zA-Z0-9_.]+)/[a-zA-Z0-9_.]+`)
)

const logTimeLayout = "2006-01-02 15:04:05"

// Normalizer turns heterogeneous raw log lines into typed events. Extraction
// is keyed on literal substring markers and is advisory: a line that matches
// a marker but fails structured extraction yields no event and no error.
type Normalizer struct {
	// now supplies the wall-clock fallback for lines without an embedded
	// timestamp. Overridable in tests.
	now func() time.Time
}

// NewNormalizer creates a Normalizer using the real clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Parse extracts zero or one typed event from a raw log line. The second
// return value reports whether an event was produced. Parse is a pure
// function of the line (plus the clock fallback) and never errors.
func (n *Normalizer) Parse(line string) (Event, bool) {
	switch {
	case strings.Contains(line, "[KILL]"):
		return n.parseKill(line)
	case strings.Contains(line, "[PATTERN]"):
		return n.parseResurrection(line)
	default:
		return n.parseAmbient(line)
	}
}

func (n *Normalizer) parseKill(line string) (Event, bool) {
	m := killRe.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}

	ts, ok := parseLogTime(m[1])
	if !ok {
		ts = float64(n.now().Unix())
	}

	ev := Event{
		Kind:      KindKill,
		Subject:   m[2],
		Timestamp: ts,
	}

	// Supervisor kill lines may carry the parent process for correlation.
	if pm := parentRe.FindStringSubmatch(line); pm != nil {
		parent := strings.TrimSpace(pm[1])
		if parent != "" {
			ev.Attributes = map[string]string{"parent": parent}
		}
	}
	return ev, true
}

func (n *Normalizer) parseResurrection(line string) (Event, bool) {
	m := resurrectRe.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}

	ev := Event{
		Kind:       KindResurrection,
		Subject:    m[1],
		Timestamp:  n.embeddedOrNow(line),
		Attributes: map[string]string{"interval_seconds": m[2]},
	}
	return ev, true
}

// parseAmbient extracts system-state events used for trigger correlation.
func (n *Normalizer) parseAmbient(line string) (Event, bool) {
	ts := n.embeddedOrNow(line)
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(line, "mWakefulness="):
		state := "unknown"
		switch {
		case strings.Contains(line, "Awake"):
			state = "awake"
		case strings.Contains(line, "Asleep"):
			state = "asleep"
		case strings.Contains(line, "Dozing"):
			state = "dozing"
		}
		return Event{Kind: KindScreenState, Timestamp: ts, Attributes: map[string]string{"state": state}}, true

	case strings.Contains(line, "NetworkInfo") || strings.Contains(line, "ConnectivityService"):
		switch {
		case strings.Contains(line, "CONNECTED") && !strings.Contains(line, "DISCONNECTED"):
			return Event{Kind: KindNetworkChange, Timestamp: ts, Attributes: map[string]string{"state": "connected"}}, true
		case strings.Contains(line, "DISCONNECTED"):
			return Event{Kind: KindNetworkChange, Timestamp: ts, Attributes: map[string]string{"state": "disconnected"}}, true
		}
		return Event{}, false

	case strings.Contains(line, "UsbDeviceManager") || strings.Contains(line, "USB"):
		switch {
		case strings.Contains(lower, "attached") && !strings.Contains(lower, "detached"):
			return Event{Kind: KindUsbEvent, Timestamp: ts, Attributes: map[string]string{"state": "attached"}}, true
		case strings.Contains(lower, "detached"):
			return Event{Kind: KindUsbEvent, Timestamp: ts, Attributes: map[string]string{"state": "detached"}}, true
		}
		return Event{}, false

	case strings.Contains(line, "Bluetooth") || strings.Contains(line, "BT_"):
		// Longer states first: "disconnected" contains "connected".
		for _, state := range []string{"disconnected", "disabled", "connected", "enabled"} {
			if strings.Contains(lower, state) {
				return Event{Kind: KindBluetoothEvent, Timestamp: ts, Attributes: map[string]string{"state": state}}, true
			}
		}
		return Event{}, false

	case strings.Contains(line, "ActivityManager") && strings.Contains(line, "start"):
		if m := launchRe.FindStringSubmatch(line); m != nil {
			return Event{Kind: KindAppLaunch, Timestamp: ts, Attributes: map[string]string{"package": m[1]}}, true
		}
		return Event{}, false

	case strings.Contains(line, "ActivityManager") && strings.Contains(line, "Displayed"):
		if m := displayedRe.FindStringSubmatch(line); m != nil {
			return Event{Kind: KindForegroundApp, Timestamp: ts, Attributes: map[string]string{"package": m[1]}}, true
		}
		return Event{}, false
	}

	return Event{}, false
}

func (n *Normalizer) embeddedOrNow(line string) float64 {
	if m := timestampRe.FindStringSubmatch(line); m != nil {
		if ts, ok := parseLogTime(m[1]); ok {
			return ts
		}
	}
	return float64(n.now().Unix())
}

func parseLogTime(raw string) (float64, bool) {
	t, err := time.ParseInLocation(logTimeLayout, raw, time.Local)
	if err != nil {
		return 0, false
	}
	return float64(t.Unix()), true
}
