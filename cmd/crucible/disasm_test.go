package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisasmCommandAcceptsLLVMFlag(t *testing.T) {
	path := writeContainer(t, t.TempDir(), 1)

	cmd := newDisasmCommand()
	cmd.SetArgs([]string{"--llvm", path})
	require.NoError(t, cmd.Execute())
}

func TestDisasmCommandPlainListing(t *testing.T) {
	path := writeContainer(t, t.TempDir(), 1)

	cmd := newDisasmCommand()
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
}
