package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["gc-stats"])
	require.True(t, names["version"])
}

func TestRunCommandRequiresAFileArgument(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetArgs(nil)
	err := cmd.Args(cmd, nil)
	require.Error(t, err)
}
