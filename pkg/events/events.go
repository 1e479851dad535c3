// pkg/events/events.go
package events

import "strconv"

// Kind identifies the type of a normalized security event.
type Kind string

const (
	KindKill           Kind = "kill"
	KindResurrection   Kind = "resurrection"
	KindScreenState    Kind = "screen_state"
	KindNetworkChange  Kind = "network_change"
	KindUsbEvent       Kind = "usb_event"
	KindBluetoothEvent Kind = "bluetooth_event"
	KindAppLaunch      Kind = "app_launch"
	KindForegroundApp  Kind = "foreground_app_change"
)

// AmbientKinds lists the event kinds fed into trigger correlation windows.
// Kill and resurrection events target a subject directly and are not ambient.
var AmbientKinds = []Kind{
	KindScreenState,
	KindNetworkChange,
	KindUsbEvent,
	KindBluetoothEvent,
	KindAppLaunch,
	KindForegroundApp,
}

// Event is a single normalized security event. Events are immutable once
// created: they are produced by the Normalizer, consumed within one analysis
// cycle, and never persisted individually.
type Event struct {
	Kind       Kind              `json:"kind"`
	Subject    string            `json:"subject,omitempty"`
	Timestamp  float64           `json:"timestamp"` // epoch seconds
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ResurrectionInterval returns the elapsed seconds carried by a resurrection
// event, and whether the attribute was present and well-formed.
func (e Event) ResurrectionInterval() (float64, bool) {
	raw, ok := e.Attributes["interval_seconds"]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
