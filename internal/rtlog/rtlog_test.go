package rtlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoLevelAndStderr(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, uint32(4), uint32(l.GetLevel())) // logrus.InfoLevel == 4
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "not-a-level"})
	require.Error(t, err)
}

func TestGCCycleEmitsStructuredJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", JSON: true, Output: &buf})
	require.NoError(t, err)

	l.GCCycle("heap_exhausted", 1024, 512)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "gc_cycle", rec["event"])
	require.Equal(t, "heap_exhausted", rec["cause"])
	require.Equal(t, float64(1024), rec["before_bytes"])
	require.Equal(t, float64(512), rec["after_bytes"])
}

func TestFragmentBoundEmitsPathAndStage(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{JSON: true, Output: &buf})
	require.NoError(t, err)

	l.FragmentBound("core/list", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "fragment_bound", rec["event"])
	require.Equal(t, "core/list", rec["path"])
	require.Equal(t, float64(1), rec["stage"])
}

func TestConditionRaisedIsLoggedEvenAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{JSON: true, Output: &buf})
	require.NoError(t, err)

	l.ConditionRaised("Wat", 7)

	require.Contains(t, buf.String(), `"cause":"Wat"`)
}
