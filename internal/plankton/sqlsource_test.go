package plankton

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSQLModuleSource(t *testing.T) *SQLModuleSource {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "libraries.db")
	src, err := OpenSQLModuleSource("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	require.NoError(t, src.EnsureSchema())
	return src
}

func TestStoreAndLoadLibraryRoundTrips(t *testing.T) {
	src := newTestSQLModuleSource(t)

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, src.StoreLibrary("core/list", 2, payload))

	got, err := src.LoadLibrary("core/list", 2)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestLoadLibraryMissingRowReturnsError(t *testing.T) {
	src := newTestSQLModuleSource(t)

	_, err := src.LoadLibrary("core/nonexistent", 0)
	require.Error(t, err)
}

func TestStoreLibraryOverwritesExistingStage(t *testing.T) {
	src := newTestSQLModuleSource(t)

	require.NoError(t, src.StoreLibrary("core/map", 1, []byte("v1")))
	require.NoError(t, src.StoreLibrary("core/map", 1, []byte("v2")))

	got, err := src.LoadLibrary("core/map", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestDifferentStagesOfSameLibraryAreIndependent(t *testing.T) {
	src := newTestSQLModuleSource(t)

	require.NoError(t, src.StoreLibrary("core/set", 0, []byte("unbound")))
	require.NoError(t, src.StoreLibrary("core/set", 1, []byte("bound")))

	unbound, err := src.LoadLibrary("core/set", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("unbound"), unbound)

	bound, err := src.LoadLibrary("core/set", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("bound"), bound)
}
