// Package plankton implements spec.md §6's plankton deserialization
// collaborator: a runtime-held environment mapping type names
// ("core:Path", "core:Type", "core:Identifier", "core:Module", …) to
// factories, and a generic deserializer that walks a tagged-variant tree
// with reference sharing and hands each node to the factory its tag
// names. The wire format itself (exact byte layout of tags/references)
// is explicitly out of scope for the core per spec.md ("not part of the
// core — it is a collaborator invoked once during library loading"), so
// Deserialize here operates over an already-parsed Node tree rather than
// raw bytes; something upstream (a loader) is responsible for producing
// that tree from whatever bytes a library ships as.
//
// Grounded on the teacher's internal/packages.Module/ModuleCache (a
// named-registry-plus-lookup shape: NewModuleCache, ParseModFile,
// ResolveDependencies's visited-set recursion) for Environment and
// Deserialize's cycle-safe tree walk, retargeted from module-manifest
// parsing to value-graph construction.
package plankton

import (
	"crucible/internal/mode"
	"crucible/internal/object"
	"crucible/internal/runtimeerr"
	"crucible/internal/value"
)

// Factory builds one kind of object from a plankton node's contents
// (spec.md §6: "new_instance(runtime) returning a half-constructed
// object and set_contents(object, runtime, contents_map) populating its
// fields"). SetContents returns the object's final value — for
// mutable-by-construction kinds (IdHashMap-backed instances, modules)
// this is always the same obj NewInstance returned; for kinds whose Go
// constructor can't be split into an allocate-then-populate pair (Path,
// Identifier), SetContents is where the real value gets built and obj is
// discarded.
type Factory interface {
	NewInstance(m *object.Model) (value.Value, value.Value)
	SetContents(obj value.Value, m *object.Model, contents map[string]value.Value) (value.Value, value.Value)
}

// Environment is the runtime's type-name-to-factory map (spec.md §6).
type Environment struct {
	factories map[string]Factory
}

// NewEnvironment builds an Environment pre-populated with the core
// factories every library load needs: core:Path, core:Identifier,
// core:Module, core:Type.
func NewEnvironment() *Environment {
	env := &Environment{factories: make(map[string]Factory)}
	env.Register("core:Path", pathFactory{})
	env.Register("core:Identifier", identifierFactory{})
	env.Register("core:Module", moduleFactory{})
	env.Register("core:Type", typeFactory{})
	return env
}

// Register installs factory under typeName, overwriting any previous
// registration — used both for the core set above and for a plugin
// library extending the environment with its own tags.
func (e *Environment) Register(typeName string, factory Factory) {
	e.factories[typeName] = factory
}

// Lookup returns the factory registered for typeName, if any.
func (e *Environment) Lookup(typeName string) (Factory, bool) {
	f, ok := e.factories[typeName]
	return f, ok
}

// Node is one entry in an already-parsed plankton tree: a tagged variant
// naming a factory, its child contents keyed by field name, and an
// optional id other nodes may reference by (spec.md §6: "references for
// sharing"). A node with Ref set is a back-reference to an
// already-built node's value rather than a fresh variant.
type Node struct {
	Tag      string
	ID       int
	HasID    bool
	Ref      int
	IsRef    bool
	Contents map[string]*Node
}

// Deserialize walks root, instantiating a value.Value for each node via
// the factory its Tag names in env, resolving Ref nodes against
// previously built values (original_source library-loading semantics:
// references always point backward to an already-finished node, so a
// single post-order pass resolves every share point without a two-phase
// fixup). Returns a runtimeerr.RuntimeError, not a condition, since this
// runs before any running Task exists to receive one (spec.md's
// plankton deserialization happens once, during library loading).
func Deserialize(env *Environment, m *object.Model, root *Node, deepFreeze bool) (value.Value, error) {
	refs := make(map[int]value.Value)
	v, err := deserializeNode(env, m, root, refs, deepFreeze)
	if err != nil {
		return value.Value{}, err
	}
	return v, nil
}

func deserializeNode(env *Environment, m *object.Model, n *Node, refs map[int]value.Value, deepFreeze bool) (value.Value, error) {
	if n.IsRef {
		v, ok := refs[n.Ref]
		if !ok {
			return value.Value{}, runtimeerr.New(runtimeerr.PlanktonError, "plankton reference to an unbuilt node")
		}
		return v, nil
	}

	factory, ok := env.Lookup(n.Tag)
	if !ok {
		return value.Value{}, runtimeerr.New(runtimeerr.PlanktonError, "no factory registered for type "+n.Tag)
	}

	obj, cond := factory.NewInstance(m)
	if cond.IsCondition() {
		return value.Value{}, runtimeerr.New(runtimeerr.PlanktonError, "factory new_instance failed for "+n.Tag)
	}

	contents := make(map[string]value.Value, len(n.Contents))
	for key, child := range n.Contents {
		cv, err := deserializeNode(env, m, child, refs, deepFreeze)
		if err != nil {
			return value.Value{}, err
		}
		contents[key] = cv
	}

	final, cond := factory.SetContents(obj, m, contents)
	if cond.IsCondition() {
		return value.Value{}, runtimeerr.New(runtimeerr.PlanktonError, "factory set_contents failed for "+n.Tag)
	}

	if n.HasID {
		refs[n.ID] = final
	}

	if deepFreeze {
		if err := m.SetMode(final, mode.DeepFrozen); err != nil {
			return value.Value{}, runtimeerr.Wrap(runtimeerr.PlanktonError, err, "failed to deep-freeze deserialized "+n.Tag)
		}
	}

	return final, nil
}

// pathFactory builds core:Path nodes (contents: "head", "tail"). Path
// values are allocated in one shot by object.Model.NewPath, so
// NewInstance returns an empty placeholder path and SetContents performs
// the real construction.
type pathFactory struct{}

func (pathFactory) NewInstance(m *object.Model) (value.Value, value.Value) {
	return m.NewEmptyPath()
}

func (pathFactory) SetContents(_ value.Value, m *object.Model, contents map[string]value.Value) (value.Value, value.Value) {
	head, ok := contents["head"]
	if !ok {
		head = value.Nothing
	}
	tail, ok := contents["tail"]
	if !ok {
		tail, _ = m.NewEmptyPath()
	}
	return m.NewPath(head, tail)
}

// identifierFactory builds core:Identifier nodes (contents: "stage",
// "path"). Like Path, Identifier's constructor bakes in both fields at
// allocation time, so construction happens in SetContents.
type identifierFactory struct{}

func (identifierFactory) NewInstance(m *object.Model) (value.Value, value.Value) {
	return m.NewEmptyPath()
}

func (identifierFactory) SetContents(_ value.Value, m *object.Model, contents map[string]value.Value) (value.Value, value.Value) {
	stage := contents["stage"]
	path := contents["path"]
	return m.NewIdentifier(int32(stage.IntegerValue()), path)
}

// moduleFactory builds core:Module nodes: a module is a namespace, an
// IdHashMap from Key values to exported values, which already supports
// allocate-then-populate (object.Model.NewIdHashMap / SetIdHashMapAt), so
// it's a direct fit for the two-phase factory contract.
type moduleFactory struct{}

func (moduleFactory) NewInstance(m *object.Model) (value.Value, value.Value) {
	return m.NewIdHashMap(8)
}

func (moduleFactory) SetContents(obj value.Value, m *object.Model, contents map[string]value.Value) (value.Value, value.Value) {
	for name, v := range contents {
		key, cond := m.NewKey(name)
		if cond.IsCondition() {
			return value.Value{}, cond
		}
		if cond := m.SetIdHashMapAt(obj, key, v); cond.IsCondition() {
			return value.Value{}, cond
		}
	}
	return obj, value.Value{}
}

// typeFactory builds core:Type nodes: a user-visible type is an Instance
// of some meta-type, with its declared members populated into the
// instance's field map after allocation (object.Model.NewInstance /
// InstanceFields), matching the factory contract directly.
type typeFactory struct{}

func (typeFactory) NewInstance(m *object.Model) (value.Value, value.Value) {
	return m.NewInstance(value.Nothing)
}

func (typeFactory) SetContents(obj value.Value, m *object.Model, contents map[string]value.Value) (value.Value, value.Value) {
	fields := m.InstanceFields(obj)
	for name, v := range contents {
		key, cond := m.NewKey(name)
		if cond.IsCondition() {
			return value.Value{}, cond
		}
		if cond := m.SetIdHashMapAt(fields, key, v); cond.IsCondition() {
			return value.Value{}, cond
		}
	}
	return obj, value.Value{}
}
