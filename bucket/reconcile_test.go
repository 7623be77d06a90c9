package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func actionTypes(actions []Action) []ActionType {
	out := make([]ActionType, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}

func at(n int) time.Time {
	return time.Date(2024, 3, 1, 10, 0, n, 0, time.UTC)
}

func TestDeleteMarkerScenario(t *testing.T) {
	entries := []Entry{
		{Key: "f1", VersionID: "null", LastModified: at(1), IsLatest: true},
		{Key: "f1", VersionID: "v2", LastModified: at(2), IsDeleteMarker: true},
	}
	r := &Reconciler{Strategy: StrategyCommitVersions}

	actions, _, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{ActionAnnex, ActionRemove, ActionCommit}, actionTypes(actions))
	require.Equal(t, "f1", actions[0].Entry.Key)
	require.Equal(t, "f1", actions[1].Entry.Key)
}

func TestReencounterClosesBatch(t *testing.T) {
	entries := []Entry{
		{Key: "a", VersionID: "1", LastModified: at(1)},
		{Key: "b", VersionID: "1", LastModified: at(2)},
		{Key: "a", VersionID: "2", LastModified: at(3)},
		{Key: "b", VersionID: "2", LastModified: at(4)},
	}
	r := &Reconciler{Strategy: StrategyCommitVersions}

	actions, cp, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{
		ActionAnnex, ActionAnnex, ActionCommit,
		ActionAnnex, ActionAnnex, ActionCommit,
	}, actionTypes(actions))
	require.Equal(t, "b", cp.Key)
	require.Equal(t, "2", cp.VersionID)
}

func TestNaiveStrategyCommitsOnce(t *testing.T) {
	entries := []Entry{
		{Key: "a", VersionID: "1", LastModified: at(1)},
		{Key: "a", VersionID: "2", LastModified: at(2)},
		{Key: "a", VersionID: "3", LastModified: at(3)},
	}
	r := &Reconciler{Strategy: StrategyNaive}

	actions, _, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{
		ActionAnnex, ActionAnnex, ActionAnnex, ActionCommit,
	}, actionTypes(actions))
}

func TestMaxCommitsHaltsEarly(t *testing.T) {
	entries := []Entry{
		{Key: "a", VersionID: "1", LastModified: at(1)},
		{Key: "a", VersionID: "2", LastModified: at(2)},
		{Key: "a", VersionID: "3", LastModified: at(3)},
	}
	r := &Reconciler{Strategy: StrategyCommitVersions, MaxCommits: 1}

	actions, cp, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{ActionAnnex, ActionCommit}, actionTypes(actions))
	// The checkpoint points at the last processed entry, so the next run
	// picks up version 2.
	require.Equal(t, "1", cp.VersionID)
}

func TestDirectoryEntries(t *testing.T) {
	entries := []Entry{
		{Key: "sub/", IsPrefix: true},
		{Key: "a", VersionID: "1", LastModified: at(1)},
	}
	r := &Reconciler{}

	actions, _, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{ActionDirectory, ActionAnnex, ActionCommit}, actionTypes(actions))
}

func TestDirectoryDeleteMarkerIsIgnored(t *testing.T) {
	entries := []Entry{
		{Key: "sub/", VersionID: "v1", LastModified: at(1), IsDeleteMarker: true},
	}
	r := &Reconciler{}

	actions, _, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Empty(t, actions)
}

func TestCommitActionsCarryBatchCheckpoints(t *testing.T) {
	entries := []Entry{
		{Key: "a", VersionID: "1", LastModified: at(1)},
		{Key: "a", VersionID: "2", LastModified: at(2)},
	}
	r := &Reconciler{Strategy: StrategyCommitVersions}

	actions, _, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{
		ActionAnnex, ActionCommit, ActionAnnex, ActionCommit,
	}, actionTypes(actions))

	// Each commit's checkpoint covers exactly its own batch, so the
	// executor can persist resume state as commits land rather than at
	// plan time.
	require.Equal(t, "1", actions[1].Checkpoint.VersionID)
	require.Equal(t, "2", actions[3].Checkpoint.VersionID)
	require.True(t, actions[0].Checkpoint.IsZero(), "annex actions carry no checkpoint")
}

func TestResumeProducesNoFurtherActions(t *testing.T) {
	entries := []Entry{
		{Key: "a", VersionID: "1", LastModified: at(1)},
		{Key: "b", VersionID: "1", LastModified: at(2)},
		{Key: "a", VersionID: "2", LastModified: at(3)},
	}
	r := &Reconciler{Strategy: StrategyCommitVersions}

	actions, cp, err := r.Plan(entries, Checkpoint{})
	require.NoError(t, err)
	require.NotEmpty(t, actions)

	// Re-running the completed crawl from its final checkpoint against
	// the same listing is a no-op.
	actions, cp2, err := r.Plan(entries, cp)
	require.NoError(t, err)
	require.Empty(t, actions)
	require.Equal(t, cp, cp2)
}

func TestBadStrategy(t *testing.T) {
	r := &Reconciler{Strategy: "bogus"}
	_, _, err := r.Plan(nil, Checkpoint{})
	require.Error(t, err)

	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, StrategyCommitVersions, s)
}
