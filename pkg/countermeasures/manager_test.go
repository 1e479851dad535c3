package countermeasures

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madd-robots/android-security-suite/pkg/config"
)

func testManagerConfig(t *testing.T) config.CountermeasureConfig {
	t.Helper()
	dir := t.TempDir()
	return config.CountermeasureConfig{
		File:                   filepath.Join(dir, "countermeasures.json"),
		MetricsFile:            filepath.Join(dir, "effectiveness_metrics.json"),
		TTLSeconds:             86400,
		MaxRetries:             3,
		EffectivenessThreshold: 0.5,
	}
}

func testManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	m := NewManager(testManagerConfig(t), zerolog.Nop())
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestAddAssignsDefaults(t *testing.T) {
	m, clock := testManager(t)

	ok := m.Add(&Countermeasure{
		Type:    TypePreemptiveKill,
		Subject: "BeaconSvc",
		Params:  Params{IntervalSeconds: 30},
	})
	require.True(t, ok)

	active := m.Active()
	require.Len(t, active, 1)
	cm := active[0]

	assert.True(t, strings.HasPrefix(cm.ID, "preemptive_kill_BeaconSvc_"), cm.ID)
	assert.Equal(t, 86400.0, cm.TTLSeconds)
	assert.Equal(t, 3, cm.MaxRetries)
	assert.Equal(t, float64(clock.Unix()), cm.CreatedAt)
	assert.Equal(t, float64(clock.Unix())+86400.0, cm.ExpiresAt)
	assert.Equal(t, float64(clock.Unix()), cm.Tracking.LastChecked)
	assert.Equal(t, 0, cm.RetryCount)
}

func TestAddDedupExtendsInsteadOfInserting(t *testing.T) {
	m, clock := testManager(t)

	require.True(t, m.Add(&Countermeasure{
		Type: TypePreemptiveKill, Subject: "BeaconSvc",
		Params: Params{IntervalSeconds: 30},
	}))
	firstExpiry := m.Active()[0].ExpiresAt

	*clock = clock.Add(time.Hour)
	require.True(t, m.Add(&Countermeasure{
		Type: TypePreemptiveKill, Subject: "BeaconSvc",
		Params: Params{IntervalSeconds: 30},
	}))

	active := m.Active()
	require.Len(t, active, 1, "duplicate must not insert")
	assert.Equal(t, 1, active[0].RetryCount)
	assert.Greater(t, active[0].ExpiresAt, firstExpiry, "duplicate must extend the TTL")
}

func TestAddDifferentIntervalIsNotDuplicate(t *testing.T) {
	m, _ := testManager(t)

	m.Add(&Countermeasure{Type: TypePreemptiveKill, Subject: "BeaconSvc", Params: Params{IntervalSeconds: 30}})
	m.Add(&Countermeasure{Type: TypePreemptiveKill, Subject: "BeaconSvc", Params: Params{IntervalSeconds: 15}})

	assert.Len(t, m.Active(), 2)
}

func TestAddHookDedupIgnoresParams(t *testing.T) {
	m, _ := testManager(t)

	m.Add(&Countermeasure{Type: TypeScreenStateHook, Subject: "BeaconSvc"})
	m.Add(&Countermeasure{Type: TypeScreenStateHook, Subject: "BeaconSvc"})

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].RetryCount)
}

func TestAddDistinctSubjectsCoexist(t *testing.T) {
	m, _ := testManager(t)

	m.Add(&Countermeasure{Type: TypeScreenStateHook, Subject: "BeaconSvc"})
	m.Add(&Countermeasure{Type: TypeScreenStateHook, Subject: "OtherSvc"})

	assert.Len(t, m.Active(), 2)
}

func TestSavePrunesExpired(t *testing.T) {
	m, clock := testManager(t)

	m.Add(&Countermeasure{
		Type: TypePreemptiveKill, Subject: "BeaconSvc",
		Params: Params{IntervalSeconds: 30}, TTLSeconds: 60,
	})
	require.Len(t, m.Active(), 1)

	*clock = clock.Add(2 * time.Minute)
	require.NoError(t, m.Save())
	assert.Empty(t, m.Active())

	// The expired entry is gone from the persisted file too.
	reloaded := NewManager(m.cfg, zerolog.Nop())
	assert.Empty(t, reloaded.Active())
}

func TestSavePrunesRetryExhausted(t *testing.T) {
	m, _ := testManager(t)

	for i := 0; i < 4; i++ {
		m.Add(&Countermeasure{
			Type: TypePreemptiveKill, Subject: "BeaconSvc",
			Params: Params{IntervalSeconds: 30},
		})
	}
	// Three duplicate re-adds exhaust the retry budget.
	assert.Empty(t, m.Active())
}

func TestSaveBumpsVersion(t *testing.T) {
	m, _ := testManager(t)
	v := m.Version()
	require.NoError(t, m.Save())
	assert.Equal(t, v+1, m.Version())
}

func TestManagerRoundTrip(t *testing.T) {
	m, _ := testManager(t)

	m.Add(&Countermeasure{
		Type: TypePreemptiveKill, Subject: "BeaconSvc",
		Params: Params{IntervalSeconds: 30}, Severity: 0.8,
	})

	reloaded := NewManager(m.cfg, zerolog.Nop())
	active := reloaded.Active()
	require.Len(t, active, 1)
	assert.Equal(t, m.Active()[0].ID, active[0].ID)
	assert.Equal(t, 0.8, active[0].Severity)
	assert.Equal(t, 30, active[0].Params.IntervalSeconds)
}

func TestMintIDIsStablePrefix(t *testing.T) {
	id := mintID(TypeScreenStateHook, "BeaconSvc", 1234.0)
	assert.True(t, strings.HasPrefix(id, "screen_state_hook_BeaconSvc_"))
	assert.Len(t, id, len("screen_state_hook_BeaconSvc_")+8)

	// Different creation times mint different ids.
	assert.NotEqual(t, id, mintID(TypeScreenStateHook, "BeaconSvc", 5678.0))
}
