package plankton

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/heap"
	"crucible/internal/mode"
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

func TestDeserializePathBuildsHeadTail(t *testing.T) {
	m := newTestModel(t)
	env := NewEnvironment()

	root := &Node{
		Tag: "core:Path",
		Contents: map[string]*Node{
			"head": {Tag: "core:Path", Contents: map[string]*Node{}},
			"tail": {Tag: "core:Path", Contents: map[string]*Node{}},
		},
	}

	v, err := Deserialize(env, m, root, false)
	require.NoError(t, err)
	require.False(t, v.IsNothing())
}

func TestDeserializeIdentifierSetsStageAndPath(t *testing.T) {
	m := newTestModel(t)

	// Exercised directly against the factory rather than through
	// Deserialize: Node's Contents only holds other Nodes, and "stage" is
	// a bare integer leaf a loader would inline rather than wrap in a
	// factory-built node.
	stageVal := value.NewInteger(3)
	pathVal, cond := m.NewEmptyPath()
	require.False(t, cond.IsCondition())

	obj, cond := identifierFactory{}.NewInstance(m)
	require.False(t, cond.IsCondition())
	final, cond := identifierFactory{}.SetContents(obj, m, map[string]value.Value{
		"stage": stageVal,
		"path":  pathVal,
	})
	require.False(t, cond.IsCondition())
	require.Equal(t, int32(3), m.IdentifierStage(final))
}

func TestDeserializeModuleBuildsMapFromContents(t *testing.T) {
	m := newTestModel(t)
	env := NewEnvironment()

	root := &Node{
		Tag:      "core:Module",
		Contents: map[string]*Node{},
	}
	v, err := Deserialize(env, m, root, false)
	require.NoError(t, err)
	require.Equal(t, 0, m.IdHashMapSize(v))
}

func TestDeserializeResolvesSharedReference(t *testing.T) {
	m := newTestModel(t)
	env := NewEnvironment()

	shared := &Node{Tag: "core:Path", HasID: true, ID: 1, Contents: map[string]*Node{}}
	root := &Node{
		Tag: "core:Path",
		Contents: map[string]*Node{
			"head": shared,
			"tail": {IsRef: true, Ref: 1},
		},
	}

	v, err := Deserialize(env, m, root, false)
	require.NoError(t, err)
	require.Equal(t, m.PathHead(v), m.PathTail(v))
}

func TestDeserializeUnknownTagReturnsError(t *testing.T) {
	m := newTestModel(t)
	env := NewEnvironment()

	_, err := Deserialize(env, m, &Node{Tag: "core:NoSuchThing"}, false)
	require.Error(t, err)
}

func TestDeserializeUnresolvedReferenceReturnsError(t *testing.T) {
	m := newTestModel(t)
	env := NewEnvironment()

	_, err := Deserialize(env, m, &Node{IsRef: true, Ref: 99}, false)
	require.Error(t, err)
}

func TestDeserializeWithDeepFreezeLeavesResultDeepFrozen(t *testing.T) {
	m := newTestModel(t)
	env := NewEnvironment()

	root := &Node{Tag: "core:Module", Contents: map[string]*Node{}}
	v, err := Deserialize(env, m, root, true)
	require.NoError(t, err)
	require.Equal(t, mode.DeepFrozen, m.GetMode(v))
}

func TestEnvironmentRegisterOverridesAndLookup(t *testing.T) {
	env := NewEnvironment()
	_, ok := env.Lookup("core:Module")
	require.True(t, ok)

	env.Register("plugin:Custom", moduleFactory{})
	f, ok := env.Lookup("plugin:Custom")
	require.True(t, ok)
	require.NotNil(t, f)

	_, ok = env.Lookup("plugin:Unregistered")
	require.False(t, ok)
}
