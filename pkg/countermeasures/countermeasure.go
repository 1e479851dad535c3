// pkg/countermeasures/countermeasure.go
package countermeasures

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Type tags a countermeasure variant.
type Type string

const (
	TypePreemptiveKill    Type = "preemptive_kill"
	TypeScreenStateHook   Type = "screen_state_hook"
	TypeAppLaunchHook     Type = "app_launch_hook"
	TypeNetworkHook       Type = "network_hook"
	TypeBluetoothHook     Type = "bluetooth_hook"
	TypeUsbHook           Type = "usb_hook"
	TypeForegroundAppHook Type = "foreground_app_hook"
	TypeCombinedStrategy  Type = "combined_strategy"
)

// hookTypes enumerates the trigger-reactive countermeasure variants.
var hookTypes = map[Type]bool{
	TypeScreenStateHook:   true,
	TypeAppLaunchHook:     true,
	TypeNetworkHook:       true,
	TypeBluetoothHook:     true,
	TypeUsbHook:           true,
	TypeForegroundAppHook: true,
}

// IsHook reports whether t is one of the trigger-reactive hook variants.
func (t Type) IsHook() bool {
	return hookTypes[t]
}

// Params carries the type-specific fields of a countermeasure. Only the
// fields a variant needs are populated: IntervalSeconds for preemptive kills
// (and the preemptive component of a combined strategy), Components for
// combined strategies.
type Params struct {
	IntervalSeconds int    `json:"interval,omitempty"`
	Components      []Type `json:"components,omitempty"`
}

// Tracking measures a countermeasure's effect on resurrection behavior.
type Tracking struct {
	ResurrectionsBefore int     `json:"resurrections_before"`
	ResurrectionsAfter  int     `json:"resurrections_after"`
	LastChecked         float64 `json:"last_checked"`
}

// Countermeasure is one automated response action targeting a subject, with a
// bounded lifetime and a measured effect. The shared envelope is identical
// across variants; Params holds the per-type payload.
type Countermeasure struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	Params      Params   `json:"params"`
	Severity    float64  `json:"severity"`
	CreatedAt   float64  `json:"created_at"`
	ExpiresAt   float64  `json:"expires_at"`
	TTLSeconds  float64  `json:"ttl_seconds"`
	RetryCount  int      `json:"retry_count"`
	MaxRetries  int      `json:"max_retries"`
	Tracking    Tracking `json:"tracking"`
}

// DuplicateOf reports whether two countermeasures share the same uniqueness
// key: type and subject, plus the interval discriminator for variants that
// carry one. Duplicates update the existing entry instead of inserting.
func (cm *Countermeasure) DuplicateOf(other *Countermeasure) bool {
	if cm.Type != other.Type || cm.Subject != other.Subject {
		return false
	}
	switch cm.Type {
	case TypePreemptiveKill, TypeCombinedStrategy:
		return cm.Params.IntervalSeconds == other.Params.IntervalSeconds
	default:
		return cm.Type.IsHook()
	}
}

// mintID derives a countermeasure id from its type, subject and creation
// time. Escalation mints a fresh id by clearing the field before re-adding.
func mintID(cmType Type, subject string, now float64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%f", cmType, subject, now)))
	return fmt.Sprintf("%s_%s_%s", cmType, subject, hex.EncodeToString(sum[:])[:8])
}
