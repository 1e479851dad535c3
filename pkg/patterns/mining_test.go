package patterns

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeSharedNgram(t *testing.T) {
	s := emptyStore(t, testStoreConfig(t))

	candidates := s.Propose([]string{
		"FooLocationService",
		"BarLocationService",
		"BazLocationService",
	})

	assert.Contains(t, candidates, ".*LocationService.*")
	// Subject-unique grams never become candidates.
	assert.NotContains(t, candidates, ".*FooL.*")
}

func TestProposeCountsDistinctSubjects(t *testing.T) {
	s := emptyStore(t, testStoreConfig(t))

	// The gram repeats within one subject but appears in only one.
	candidates := s.Propose([]string{"BeaconBeaconBeacon", "unrelated_daemon"})
	assert.NotContains(t, candidates, ".*Beacon.*")
}

func TestProposeRequiresLetters(t *testing.T) {
	s := emptyStore(t, testStoreConfig(t))

	candidates := s.Propose([]string{"svc_12345_a", "job_12345_b"})
	assert.NotContains(t, candidates, `.*12345.*`)
	assert.NotContains(t, candidates, `.*1234.*`)
}

func TestProposeTooFewSubjects(t *testing.T) {
	s := emptyStore(t, testStoreConfig(t))
	assert.Nil(t, s.Propose([]string{"OnlyOneSubject"}))
}

func TestProposeCandidatesAreEscaped(t *testing.T) {
	s := emptyStore(t, testStoreConfig(t))

	candidates := s.Propose([]string{"svc.push.core", "app.push.core"})
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		_, err := regexp.Compile(c)
		assert.NoError(t, err)
	}
	assert.Contains(t, candidates, `.*`+regexp.QuoteMeta(".push.core")+`.*`)
}

func TestMinedPatternsSurviveAdmission(t *testing.T) {
	s := emptyStore(t, testStoreConfig(t))

	candidates := s.Propose([]string{
		"FooLocationService",
		"BarLocationService",
		"BazLocationService",
	})
	require.NotEmpty(t, candidates)

	admitted := s.Admit(candidates)
	assert.Greater(t, admitted, 0)

	// Every killed subject is now covered by at least one stored pattern.
	for _, subject := range []string{"FooLocationService", "BarLocationService", "BazLocationService"} {
		assert.NotEmpty(t, s.Match(subject), subject)
	}

	// Re-proposing the same subjects admits nothing new.
	assert.Equal(t, 0, s.Admit(s.Propose([]string{
		"FooLocationService",
		"BarLocationService",
		"BazLocationService",
	})))
}
