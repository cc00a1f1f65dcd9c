package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWithNoArgsReturnsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestParseOverridesSemispaceSizeBytes(t *testing.T) {
	cfg, err := Parse([]string{"--semispace-size-bytes=1048576"})
	require.NoError(t, err)
	require.Equal(t, uint64(1048576), cfg.SemispaceSizeBytes)
}

func TestParseCollectsRepeatedPluginFlags(t *testing.T) {
	cfg, err := Parse([]string{"--plugin=core/crypto.plankton", "--plugin=core/net.plankton"})
	require.NoError(t, err)
	require.Equal(t, []string{"core/crypto.plankton", "core/net.plankton"}, cfg.Plugins)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	_, err := Parse([]string{"--not-a-flag"})
	require.Error(t, err)
}

func TestParseRejectsZeroSemispaceSizeBytes(t *testing.T) {
	_, err := Parse([]string{"--semispace-size-bytes=0"})
	require.Error(t, err)
}

func TestParseRejectsSystemMemoryLimitBelowTwoSemispaces(t *testing.T) {
	_, err := Parse([]string{
		"--semispace-size-bytes=1000",
		"--system-memory-limit=1500",
	})
	require.Error(t, err)
}

func TestParseAcceptsSystemMemoryLimitAtExactlyTwoSemispaces(t *testing.T) {
	cfg, err := Parse([]string{
		"--semispace-size-bytes=1000",
		"--system-memory-limit=2000",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2000), cfg.SystemMemoryLimit)
}

func TestParseRejectsEmptyFileSystem(t *testing.T) {
	_, err := Parse([]string{"--file-system="})
	require.Error(t, err)
}

func TestParseEnvFallbackAppliesWhenFlagNotPassed(t *testing.T) {
	t.Setenv("CRUCIBLE_RANDOM_SEED", "42")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), cfg.RandomSeed)
}

func TestParseFlagTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("CRUCIBLE_RANDOM_SEED", "42")
	cfg, err := Parse([]string{"--random-seed=7"})
	require.NoError(t, err)
	require.Equal(t, uint64(7), cfg.RandomSeed)
}
