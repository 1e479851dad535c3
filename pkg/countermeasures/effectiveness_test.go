package countermeasures

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectivenessDefaultsToZero(t *testing.T) {
	m, _ := testManager(t)
	assert.Equal(t, 0.0, m.Effectiveness("no_such_id"))
}

func TestUpdateEffectivenessTracksKills(t *testing.T) {
	m, clock := testManager(t)

	m.UpdateEffectiveness("BeaconSvc", true)
	m.UpdateEffectiveness("BeaconSvc", true)

	counters := m.metrics.Subjects["BeaconSvc"]
	require.NotNil(t, counters)
	assert.Equal(t, 2, counters.TotalKills)
	assert.Equal(t, 0, counters.Resurrections)
	assert.Equal(t, float64(clock.Unix()), counters.LastKill)
}

func TestUpdateEffectivenessBaselineThenDecay(t *testing.T) {
	m, clock := testManager(t)

	require.True(t, m.Add(&Countermeasure{
		Type: TypePreemptiveKill, Subject: "BeaconSvc",
		Params: Params{IntervalSeconds: 30},
	}))
	id := m.Active()[0].ID

	// First resurrection establishes the baseline; nothing has happened
	// after activation yet, so the countermeasure looks fully effective.
	*clock = clock.Add(30 * time.Minute)
	m.UpdateEffectiveness("BeaconSvc", false)
	assert.Equal(t, 1.0, m.Effectiveness(id))

	// A resurrection every half hour afterwards beats the one-per-hour
	// baseline, so measured effectiveness collapses to zero.
	*clock = clock.Add(30 * time.Minute)
	m.UpdateEffectiveness("BeaconSvc", false)
	assert.Equal(t, 0.0, m.Effectiveness(id))
}

func TestUpdateEffectivenessIgnoresOtherSubjects(t *testing.T) {
	m, clock := testManager(t)

	m.Add(&Countermeasure{Type: TypeScreenStateHook, Subject: "BeaconSvc"})
	id := m.Active()[0].ID

	*clock = clock.Add(time.Hour)
	m.UpdateEffectiveness("UnrelatedSvc", false)

	assert.Equal(t, 0.0, m.Effectiveness(id))
	assert.Equal(t, 0, m.Active()[0].Tracking.ResurrectionsBefore)
}

func TestIneffectiveRequiresMinimumActiveWindow(t *testing.T) {
	m, clock := testManager(t)

	m.Add(&Countermeasure{
		Type: TypePreemptiveKill, Subject: "BeaconSvc",
		Params: Params{IntervalSeconds: 30},
	})

	// Ten minutes in: effectiveness is zero but the evaluation window has
	// not elapsed, so nothing is flagged yet.
	*clock = clock.Add(10 * time.Minute)
	m.UpdateEffectiveness("BeaconSvc", false)
	assert.Empty(t, m.Ineffective(0.5))

	// Past the window with sustained resurrections: flagged.
	*clock = clock.Add(25 * time.Minute)
	m.UpdateEffectiveness("BeaconSvc", false)
	*clock = clock.Add(25 * time.Minute)
	m.UpdateEffectiveness("BeaconSvc", false)

	flagged := m.Ineffective(0.5)
	require.Len(t, flagged, 1)
	assert.Equal(t, "BeaconSvc", flagged[0].Subject)
}

func TestMetricsRoundTrip(t *testing.T) {
	m, _ := testManager(t)

	m.UpdateEffectiveness("BeaconSvc", true)
	m.SetTriggerCounts(map[string]int{"BeaconSvc|screen_state_change": 4})
	require.NoError(t, m.SaveMetrics())

	reloaded := NewManager(m.cfg, zerolog.Nop())
	assert.Equal(t, 1, reloaded.metrics.Subjects["BeaconSvc"].TotalKills)
	assert.Equal(t, map[string]int{"BeaconSvc|screen_state_change": 4}, reloaded.TriggerCounts())
}

func TestMetricsFileMissingIsNotAnError(t *testing.T) {
	m, _ := testManager(t)
	assert.NotNil(t, m.metrics.Subjects)
	assert.NotNil(t, m.metrics.Countermeasures)
	assert.Empty(t, m.TriggerCounts())
}
