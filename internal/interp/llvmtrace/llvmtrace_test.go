package llvmtrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/interp"
	"crucible/internal/value"
)

func TestTraceEmitsOneCallPerInstruction(t *testing.T) {
	code := &interp.Code{
		Shorts:    []uint16{uint16(interp.OpPush), 0, uint16(interp.OpReturn)},
		ValuePool: []value.Value{value.NewInteger(42)},
	}

	tr := New()
	fn, err := tr.Trace("entry_point", code)
	require.NoError(t, err)
	require.NotNil(t, fn)

	text := tr.Module.String()
	require.Equal(t, 2, strings.Count(text, "call void @crucible.trace"))
	require.Contains(t, text, "declare void @crucible.trace")
	require.Contains(t, text, "define void @entry_point")
}

func TestTraceReturnsErrorOnTruncatedInstruction(t *testing.T) {
	code := &interp.Code{Shorts: []uint16{uint16(interp.OpPush)}}

	tr := New()
	_, err := tr.Trace("broken", code)
	require.Error(t, err)
}

func TestDescribeFloat32ProducesNonEmptyLiteral(t *testing.T) {
	require.NotEmpty(t, DescribeFloat32(3.14))
}
