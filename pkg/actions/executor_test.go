package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madd-robots/android-security-suite/pkg/countermeasures"
)

type resurrection struct {
	subject  string
	interval float64
}

type fakeEngine struct {
	active        []*countermeasures.Countermeasure
	kills         []string
	resurrections []resurrection
}

func (f *fakeEngine) ActiveCountermeasures() []*countermeasures.Countermeasure { return f.active }

func (f *fakeEngine) ReportKill(subject string) { f.kills = append(f.kills, subject) }

func (f *fakeEngine) ReportResurrection(subject string, intervalSeconds float64) {
	f.resurrections = append(f.resurrections, resurrection{subject, intervalSeconds})
}

type fakeAction struct {
	calls  []string
	killed int
	err    error
}

func (f *fakeAction) Name() string { return "fake_kill" }

func (f *fakeAction) Execute(_ context.Context, subject string) (int, error) {
	f.calls = append(f.calls, subject)
	return f.killed, f.err
}

type fakeProbe struct {
	running map[string]bool
	err     error
}

func (f *fakeProbe) Running(_ context.Context, subject string) (bool, error) {
	return f.running[subject], f.err
}

func testExecutor(engine *fakeEngine, action *fakeAction) (*Executor, *fakeProbe, *time.Time) {
	probe := &fakeProbe{running: make(map[string]bool)}
	x := NewExecutor(true, engine, action, probe, zerolog.Nop())
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return clock }
	return x, probe, &clock
}

func preemptive(id, subject string, interval int) *countermeasures.Countermeasure {
	return &countermeasures.Countermeasure{
		ID:      id,
		Type:    countermeasures.TypePreemptiveKill,
		Subject: subject,
		Params:  countermeasures.Params{IntervalSeconds: interval},
	}
}

func TestExecutorDisabledDoesNothing(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 1}
	x := NewExecutor(false, engine, action, &fakeProbe{}, zerolog.Nop())

	require.NoError(t, x.Run(context.Background()))
	assert.Empty(t, action.calls)
	assert.Empty(t, engine.kills)
}

func TestExecutorAppliesDueCountermeasure(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 1}
	x, _, _ := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	assert.Equal(t, []string{"BeaconSvc"}, action.calls)
	assert.Equal(t, []string{"BeaconSvc"}, engine.kills)
}

func TestExecutorHonorsPerCountermeasureInterval(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 1}
	x, _, clock := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	require.Len(t, action.calls, 1)

	// Ten seconds later: not due yet.
	*clock = clock.Add(10 * time.Second)
	require.NoError(t, x.Run(context.Background()))
	assert.Len(t, action.calls, 1)

	// Past the interval: due again.
	*clock = clock.Add(25 * time.Second)
	require.NoError(t, x.Run(context.Background()))
	assert.Len(t, action.calls, 2)
}

func TestExecutorSkipsHooksAndIntervalFree(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{
		{ID: "h1", Type: countermeasures.TypeScreenStateHook, Subject: "BeaconSvc"},
		{ID: "p0", Type: countermeasures.TypePreemptiveKill, Subject: "NoInterval"},
	}}
	action := &fakeAction{killed: 1}
	x, _, _ := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	assert.Empty(t, action.calls)
}

func TestExecutorRunsCombinedStrategy(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{{
		ID:      "cs1",
		Type:    countermeasures.TypeCombinedStrategy,
		Subject: "BeaconSvc",
		Params: countermeasures.Params{
			IntervalSeconds: 15,
			Components:      []countermeasures.Type{countermeasures.TypeScreenStateHook, countermeasures.TypePreemptiveKill},
		},
	}}}
	action := &fakeAction{killed: 1}
	x, _, _ := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	assert.Equal(t, []string{"BeaconSvc"}, action.calls)
}

func TestExecutorNoFeedbackWhenNothingKilled(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 0}
	x, _, _ := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	assert.Len(t, action.calls, 1)
	assert.Empty(t, engine.kills, "no kill means no feedback")
}

func TestExecutorToleratesActionFailure(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{
		preemptive("cm1", "FailSvc", 30),
		preemptive("cm2", "OkSvc", 30),
	}}
	action := &fakeAction{killed: 1}
	x, _, _ := testExecutor(engine, action)

	action.err = errors.New("process list unavailable")
	require.NoError(t, x.Run(context.Background()), "action failures never fail the task")
	assert.Equal(t, []string{"FailSvc", "OkSvc"}, action.calls)
	assert.Empty(t, engine.kills)
}

func TestExecutorForgetsPrunedSchedules(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 1}
	x, _, _ := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	require.Contains(t, x.lastRun, "cm1")

	engine.active = nil
	require.NoError(t, x.Run(context.Background()))
	assert.NotContains(t, x.lastRun, "cm1")
}

func TestExecutorReportsResurrection(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 1}
	x, probe, clock := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))
	require.Len(t, engine.kills, 1)

	// Twenty seconds later the subject is alive again.
	*clock = clock.Add(20 * time.Second)
	probe.running["BeaconSvc"] = true
	require.NoError(t, x.Run(context.Background()))

	require.Len(t, engine.resurrections, 1)
	assert.Equal(t, "BeaconSvc", engine.resurrections[0].subject)
	assert.Equal(t, 20.0, engine.resurrections[0].interval)

	// Reported once per kill, not on every sweep.
	*clock = clock.Add(time.Second)
	require.NoError(t, x.Run(context.Background()))
	assert.Len(t, engine.resurrections, 1)
}

func TestExecutorProbeFailureIsTolerated(t *testing.T) {
	engine := &fakeEngine{active: []*countermeasures.Countermeasure{preemptive("cm1", "BeaconSvc", 30)}}
	action := &fakeAction{killed: 1}
	x, probe, clock := testExecutor(engine, action)

	require.NoError(t, x.Run(context.Background()))

	*clock = clock.Add(20 * time.Second)
	probe.err = errors.New("proc unavailable")
	require.NoError(t, x.Run(context.Background()))
	assert.Empty(t, engine.resurrections)
}
