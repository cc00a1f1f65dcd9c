// Package binder implements spec.md 4.7's module binding: the fragment
// entry map, the binding-schedule topological sort, and the
// uninitialized→unbound→binding→complete epoch walk that turns a list of
// unbound modules into frozen Methodspaces and bound globals — a one-time
// pass performed before the interpreter (internal/interp) ever runs.
//
// Grounded on the teacher's internal/module/module.go ModuleLoader (the
// cache-by-path and search-path shape) and internal/packages/module.go's
// JSON-descriptor-driven module construction, generalized from a flat
// name→exports table to spec.md's staged fragment dependency graph, which
// neither teacher module models.
package binder

import "crucible/internal/value"

// Stage identifies a fragment's position in staged evaluation (spec.md
// 4.7): 0 is the runtime stage, -1 its immediate predecessor, and so on.
type Stage int

// Import names another module an importing fragment depends on. Per
// spec.md 4.7's stage arithmetic, the dependency always lands on both
// modules' stage-minus-one entry relative to the importing fragment's own
// stage, so Import carries only the target module path.
type Import struct {
	Module string
}

// Element is one namespace/methodspace entry an unbound fragment
// contributes once its binding epoch reaches Binding (spec.md 4.7:
// "elements installed into namespace / methodspace"). Install appends to
// the Builder accumulating the fragment's not-yet-frozen methodspace.
type Element struct {
	Name    string
	Install func(b *Builder)
}

// UnboundFragment is one (stage-offset, imports, elements) triple a module
// contributes (spec.md 4.7).
type UnboundFragment struct {
	Stage    Stage
	Imports  []Import
	Elements []Element
}

// UnboundModule is the runtime's startup input: a module path and its
// staged fragments (spec.md 4.7: "the runtime receives a list of unbound
// modules").
type UnboundModule struct {
	Path      string
	Fragments []UnboundFragment
}

// Builder accumulates one fragment's methods, inheritance pairs, imported
// methodspaces, and globals while its elements install, before
// object.Model.NewMethodspace freezes the result (spec.md: methodspaces are
// "immutable after binding").
type Builder struct {
	Methods    []value.Value
	Subtypes   []value.Value
	Supertypes []value.Value
	Imports    []value.Value
	Globals    map[string]value.Value
}

// NewBuilder returns an empty Builder ready for a fragment's elements to
// install into.
func NewBuilder() *Builder {
	return &Builder{Globals: make(map[string]value.Value)}
}

// AddMethod appends method to the methodspace under construction.
func (b *Builder) AddMethod(method value.Value) { b.Methods = append(b.Methods, method) }

// AddInherit records subtype's direct supertype.
func (b *Builder) AddInherit(subtype, supertype value.Value) {
	b.Subtypes = append(b.Subtypes, subtype)
	b.Supertypes = append(b.Supertypes, supertype)
}

// AddImport records an imported methodspace the fragment's own methodspace
// should consult.
func (b *Builder) AddImport(methodspace value.Value) { b.Imports = append(b.Imports, methodspace) }

// SetGlobal binds name to v in the fragment's namespace (LoadGlobal's
// target, once internal/interp resolves fragment paths through
// internal/binder instead of the interim pool-ref simplification recorded
// in DESIGN.md).
func (b *Builder) SetGlobal(name string, v value.Value) { b.Globals[name] = v }
