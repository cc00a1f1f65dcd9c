package binder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/heap"
	"crucible/internal/object"
	"crucible/internal/species"
	"crucible/internal/value"
)

func newTestModel(t *testing.T) *object.Model {
	t.Helper()
	reg := species.NewRegistry()
	h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 16}, nil)
	return object.NewModel(h, reg)
}

func TestBinderBindSingleModuleNoImports(t *testing.T) {
	m := newTestModel(t)
	b := NewBinder(m)

	installed := false
	mods := []UnboundModule{
		{Path: "a", Fragments: []UnboundFragment{
			{Stage: 0, Elements: []Element{
				{Name: "answer", Install: func(bld *Builder) {
					installed = true
					bld.SetGlobal("answer", value.NewInteger(42))
				}},
			}},
		}},
	}

	fragments, cond := b.Bind(mods)
	require.False(t, cond.IsCondition())
	require.True(t, installed)

	frag := fragments[FragmentKey{Path: "a", Stage: 0}]
	require.NotNil(t, frag)
	require.Equal(t, Complete, frag.Epoch)
	require.Equal(t, value.NewInteger(42), frag.Globals["answer"])
	require.Equal(t, 0, m.MethodspaceMethodCount(frag.Methodspace))
}

func TestBinderBindImportMakesImportedMethodspaceVisible(t *testing.T) {
	m := newTestModel(t)
	b := NewBinder(m)

	mods := []UnboundModule{
		{Path: "a", Fragments: []UnboundFragment{
			{Stage: 0, Imports: []Import{{Module: "b"}}},
		}},
		{Path: "b", Fragments: []UnboundFragment{{Stage: 0}}},
	}

	fragments, cond := b.Bind(mods)
	require.False(t, cond.IsCondition())

	// a's own stage-0 fragment has no explicit imports recorded at stage 0
	// (the import shifted to stage -1 per spec.md 4.7), so stage 0's
	// methodspace carries no imports; the shifted stage -1 fragment does.
	aMinusOne := fragments[FragmentKey{Path: "a", Stage: -1}]
	require.NotNil(t, aMinusOne)
	require.Equal(t, Complete, aMinusOne.Epoch)
	require.Equal(t, 1, m.MethodspaceImportCount(aMinusOne.Methodspace))

	bMinusOne := fragments[FragmentKey{Path: "b", Stage: -1}]
	require.NotNil(t, bMinusOne)
	require.True(t, m.IdentityEqual(
		m.MethodspaceImportAt(aMinusOne.Methodspace, 0),
		bMinusOne.Methodspace,
	))
}

func TestBinderBindPredecessorStageIsVisibleToSuccessor(t *testing.T) {
	m := newTestModel(t)
	b := NewBinder(m)

	mods := []UnboundModule{
		{Path: "a", Fragments: []UnboundFragment{
			{Stage: -1},
			{Stage: 0},
		}},
	}

	fragments, cond := b.Bind(mods)
	require.False(t, cond.IsCondition())

	older := fragments[FragmentKey{Path: "a", Stage: -1}]
	newer := fragments[FragmentKey{Path: "a", Stage: 0}]
	require.Equal(t, Complete, older.Epoch)
	require.Equal(t, Complete, newer.Epoch)
	require.Equal(t, 1, m.MethodspaceImportCount(newer.Methodspace))
	require.True(t, m.IdentityEqual(
		m.MethodspaceImportAt(newer.Methodspace, 0),
		older.Methodspace,
	))
}

func TestBinderBindCyclicImportReturnsCondition(t *testing.T) {
	m := newTestModel(t)
	b := NewBinder(m)

	mods := []UnboundModule{
		{Path: "a", Fragments: []UnboundFragment{
			{Stage: 0, Imports: []Import{{Module: "b"}}},
		}},
		{Path: "b", Fragments: []UnboundFragment{
			{Stage: 0, Imports: []Import{{Module: "a"}}},
		}},
	}

	_, cond := b.Bind(mods)
	require.True(t, cond.IsCondition())
}
