package binder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildBindingScheduleOrdersDependenciesFirst(t *testing.T) {
	entries := map[FragmentKey]*Entry{
		{Path: "a", Stage: 0}: {Imports: []FragmentKey{{Path: "b", Stage: 0}}},
		{Path: "b", Stage: 0}: {},
	}
	schedule, err := BuildBindingSchedule(entries)
	require.NoError(t, err)
	require.Equal(t, []FragmentKey{
		{Path: "b", Stage: 0},
		{Path: "a", Stage: 0},
	}, schedule)
}

func TestBuildBindingScheduleOldestStageFirstWithinModule(t *testing.T) {
	entries := map[FragmentKey]*Entry{
		{Path: "a", Stage: 0}:  {},
		{Path: "a", Stage: -1}: {},
		{Path: "a", Stage: -2}: {},
	}
	schedule, err := BuildBindingSchedule(entries)
	require.NoError(t, err)
	require.Equal(t, []FragmentKey{
		{Path: "a", Stage: -2},
		{Path: "a", Stage: -1},
		{Path: "a", Stage: 0},
	}, schedule)
}

func TestBuildBindingScheduleTiesBreakLexicographicallyByPath(t *testing.T) {
	entries := map[FragmentKey]*Entry{
		{Path: "z", Stage: 0}: {},
		{Path: "a", Stage: 0}: {},
		{Path: "m", Stage: 0}: {},
	}
	schedule, err := BuildBindingSchedule(entries)
	require.NoError(t, err)
	require.Equal(t, []FragmentKey{
		{Path: "a", Stage: 0},
		{Path: "m", Stage: 0},
		{Path: "z", Stage: 0},
	}, schedule)
}

func TestBuildBindingScheduleDetectsCycle(t *testing.T) {
	entries := map[FragmentKey]*Entry{
		{Path: "a", Stage: 0}: {Imports: []FragmentKey{{Path: "b", Stage: 0}}},
		{Path: "b", Stage: 0}: {Imports: []FragmentKey{{Path: "a", Stage: 0}}},
	}
	_, err := BuildBindingSchedule(entries)
	require.Error(t, err)
}

func TestBuildBindingScheduleFullPipelineWithImportAndPredecessor(t *testing.T) {
	mods := []UnboundModule{
		{Path: "a", Fragments: []UnboundFragment{
			{Stage: 0, Imports: []Import{{Module: "b"}}},
		}},
		{Path: "b", Fragments: []UnboundFragment{{Stage: 0}}},
	}
	entries := BuildFragmentEntryMap(mods)
	schedule, err := BuildBindingSchedule(entries)
	require.NoError(t, err)

	pos := make(map[FragmentKey]int, len(schedule))
	for i, k := range schedule {
		pos[k] = i
	}
	// a's stage -1 must come after b's stage -1 (the shifted import edge)
	// and before a's stage 0 (the predecessor-stage edge).
	require.Less(t, pos[FragmentKey{Path: "b", Stage: -1}], pos[FragmentKey{Path: "a", Stage: -1}])
	require.Less(t, pos[FragmentKey{Path: "a", Stage: -1}], pos[FragmentKey{Path: "a", Stage: 0}])
}
