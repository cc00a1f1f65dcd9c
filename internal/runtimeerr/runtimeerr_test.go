package runtimeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFormatsTypeAndMessage(t *testing.T) {
	err := New(ConfigError, "semispace_size_bytes must be positive")
	require.Equal(t, "ConfigError: semispace_size_bytes must be positive", err.Error())
}

func TestWithLocationAppendsFileLineColumn(t *testing.T) {
	err := New(BytecodeError, "truncated instruction").WithLocation("lib.bc", 3, 9)
	require.Equal(t, "BytecodeError: truncated instruction (at lib.bc:3:9)", err.Error())
}

func TestWrapPreservesUnderlyingErrorViaUnwrap(t *testing.T) {
	root := errors.New("connection refused")
	err := Wrap(PlanktonError, root, "failed to open SQL module source")
	require.ErrorIs(t, err, root)
}

func TestStackTraceIsNonEmptyForWrappedError(t *testing.T) {
	err := New(HeapError, "semispace exhausted during collection")
	require.NotEmpty(t, err.StackTrace())
}

func TestInstallCrashHandlerReturnsPreviousAndIsInvokedByCrash(t *testing.T) {
	var gotSignal, gotBacktrace string
	prev := InstallCrashHandler(func(signal, backtrace string) {
		gotSignal = signal
		gotBacktrace = backtrace
	})
	defer InstallCrashHandler(prev)

	Crash("Wat")
	require.Equal(t, "Wat", gotSignal)
	require.NotEmpty(t, gotBacktrace)
}
