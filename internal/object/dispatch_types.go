package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Guard, Parameter, Signature, CallTags, Method and Methodspace are the
// heap-resident families spec.md 4.6 names for method dispatch. Every one
// is immutable once built, mirroring CodeBlock/Key's family-fixed
// deep-frozen mode (spec.md 3.3: methodspaces are "immutable after
// binding").

// ---- Guard -----------------------------------------------------------

// GuardKind is the tag of a Guard's three shapes (spec.md 4.6).
type GuardKind int64

const (
	GuardKindEq GuardKind = iota
	GuardKindIs
	GuardKindAny
)

type guardBehavior struct {
	common
	M *Model
}

const (
	guardKind    = word
	guardPayload = word + word
	guardFields  = word + 2*word
)

func (g guardBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return guardFields, word }
func (g guardBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (g guardBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	switch GuardKind(h.ReadValue(addr + guardKind).IntegerValue()) {
	case GuardKindEq:
		fmt.Fprintf(w, "#<guard eq(%v)>", h.ReadValue(addr+guardPayload))
	case GuardKindIs:
		fmt.Fprintf(w, "#<guard is(%v)>", h.ReadValue(addr+guardPayload))
	default:
		fmt.Fprint(w, "#<guard any>")
	}
}

func (g guardBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 { return uint64(addr) }
func (g guardBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode            { return mode.DeepFrozen }
func (g guardBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Guard is always deep-frozen")
	}
}

// NewGuardEq builds a gtEq(value) guard (spec.md 4.6).
func (m *Model) NewGuardEq(target value.Value) (value.Value, value.Value) {
	return m.newGuard(GuardKindEq, target)
}

// NewGuardIs builds a gtIs(type) guard.
func (m *Model) NewGuardIs(typ value.Value) (value.Value, value.Value) {
	return m.newGuard(GuardKindIs, typ)
}

// NewGuardAny builds the always-matches gtAny guard.
func (m *Model) NewGuardAny() (value.Value, value.Value) {
	return m.newGuard(GuardKindAny, value.Nothing)
}

func (m *Model) newGuard(kind GuardKind, payload value.Value) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.Guard, guardFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+guardKind, value.NewInteger(int64(kind)))
	m.Heap.WriteValue(addr+guardPayload, payload)
	return heapValue(addr), value.Value{}
}

func (m *Model) GuardKindOf(v value.Value) GuardKind {
	return GuardKind(m.Heap.ReadValue(addrOf(v) + guardKind).IntegerValue())
}
func (m *Model) GuardPayload(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + guardPayload) }

var _ species.Behavior = guardBehavior{}

// ---- Parameter ---------------------------------------------------------

// Parameter: (guard, is_optional, index) — spec.md 4.6. A parameter can be
// reached by more than one tag; which tags map to it is recorded in the
// owning Signature's tag array, not here.
type parameterBehavior struct {
	common
	M *Model
}

const (
	paramGuard      = word
	paramIsOptional = word + word
	paramIndex      = word + 2*word
	paramFields     = word + 3*word
)

func (p parameterBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return paramFields, word }
func (p parameterBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (p parameterBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<parameter %d>", h.ReadValue(addr+paramIndex).IntegerValue())
}

func (p parameterBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}
func (p parameterBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (p parameterBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Parameter is always deep-frozen")
	}
}

func (m *Model) NewParameter(guard value.Value, isOptional bool, index int) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.Parameter, paramFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+paramGuard, guard)
	m.Heap.WriteValue(addr+paramIsOptional, value.NewBoolean(isOptional))
	m.Heap.WriteValue(addr+paramIndex, value.NewInteger(int64(index)))
	return heapValue(addr), value.Value{}
}

func (m *Model) ParameterGuard(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + paramGuard) }
func (m *Model) ParameterIsOptional(v value.Value) bool {
	return m.Heap.ReadValue(addrOf(v) + paramIsOptional).BooleanValue()
}
func (m *Model) ParameterIndex(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + paramIndex).IntegerValue())
}

var _ species.Behavior = parameterBehavior{}

// ---- Signature -----------------------------------------------------------

// Signature: (tags, params, param_count, mandatory_count, allow_extra).
// tags and tagParams are parallel arrays: tags[i] is the i'th tag in sort
// order (spec.md 4.6's "subject, selector, other keys by id, integers,
// strings"), tagParams[i] is the Parameter it maps to. params holds every
// parameter once, indexed by its own Parameter.index.
type signatureBehavior struct {
	common
	M *Model
}

const (
	sigTags            = word
	sigTagParams        = word + word
	sigParams           = word + 2*word
	sigParamCount       = word + 3*word
	sigMandatoryCount   = word + 4*word
	sigAllowExtra       = word + 5*word
	sigFields           = word + 6*word
)

func (s signatureBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return sigFields, word }
func (s signatureBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (s signatureBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<signature params=%d>", h.ReadValue(addr+sigParamCount).IntegerValue())
}

func (s signatureBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}
func (s signatureBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (s signatureBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Signature is always deep-frozen")
	}
}

// NewSignature builds a signature from its sorted tag array (tags and the
// Parameter each maps to, already in sort order), the full parameter array
// indexed by Parameter.index, the mandatory-parameter count, and whether
// extra unmatched arguments are allowed.
func (m *Model) NewSignature(tags, tagParams, params []value.Value, mandatoryCount int, allowExtra bool) (value.Value, value.Value) {
	tagsArr, cond := m.newArrayFromSlice(tags)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	tagParamsArr, cond := m.newArrayFromSlice(tagParams)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	paramsArr, cond := m.newArrayFromSlice(params)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.Signature, sigFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+sigTags, tagsArr)
	m.Heap.WriteValue(addr+sigTagParams, tagParamsArr)
	m.Heap.WriteValue(addr+sigParams, paramsArr)
	m.Heap.WriteValue(addr+sigParamCount, value.NewInteger(int64(len(params))))
	m.Heap.WriteValue(addr+sigMandatoryCount, value.NewInteger(int64(mandatoryCount)))
	m.Heap.WriteValue(addr+sigAllowExtra, value.NewBoolean(allowExtra))
	return heapValue(addr), value.Value{}
}

func (m *Model) newArrayFromSlice(elems []value.Value) (value.Value, value.Value) {
	arr, cond := m.NewArray(len(elems))
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	for i, e := range elems {
		m.ArraySetAt(arr, i, e)
	}
	return arr, value.Value{}
}

func (m *Model) SignatureTagCount(v value.Value) int { return m.ArrayLen(m.Heap.ReadValue(addrOf(v) + sigTags)) }
func (m *Model) SignatureTagAt(v value.Value, i int) value.Value {
	return m.ArrayAt(m.Heap.ReadValue(addrOf(v)+sigTags), i)
}
func (m *Model) SignatureTagParameterAt(v value.Value, i int) value.Value {
	return m.ArrayAt(m.Heap.ReadValue(addrOf(v)+sigTagParams), i)
}
func (m *Model) SignatureParameterCount(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + sigParamCount).IntegerValue())
}
func (m *Model) SignatureParameterAt(v value.Value, i int) value.Value {
	return m.ArrayAt(m.Heap.ReadValue(addrOf(v)+sigParams), i)
}
func (m *Model) SignatureMandatoryCount(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + sigMandatoryCount).IntegerValue())
}
func (m *Model) SignatureAllowExtra(v value.Value) bool {
	return m.Heap.ReadValue(addrOf(v) + sigAllowExtra).BooleanValue()
}

var _ species.Behavior = signatureBehavior{}

// ---- CallTags ------------------------------------------------------------

// CallTags: the sorted tag array describing one invocation (spec.md 4.4's
// Invoke opcode operand, 4.6's sigmap input).
type callTagsBehavior struct {
	common
	M *Model
}

const (
	ctTags   = word
	ctFields = word + word
)

func (c callTagsBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return ctFields, word }
func (c callTagsBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (c callTagsBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<call-tags n=%d>", c.M.ArrayLen(h.ReadValue(addr+ctTags)))
}

func (c callTagsBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}
func (c callTagsBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (c callTagsBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: CallTags is always deep-frozen")
	}
}

// NewCallTags wraps an already-sorted tag array.
func (m *Model) NewCallTags(tags []value.Value) (value.Value, value.Value) {
	tagsArr, cond := m.newArrayFromSlice(tags)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.CallTags, ctFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+ctTags, tagsArr)
	return heapValue(addr), value.Value{}
}

func (m *Model) CallTagsCount(v value.Value) int { return m.ArrayLen(m.Heap.ReadValue(addrOf(v) + ctTags)) }
func (m *Model) CallTagsAt(v value.Value, i int) value.Value {
	return m.ArrayAt(m.Heap.ReadValue(addrOf(v)+ctTags), i)
}

var _ species.Behavior = callTagsBehavior{}

// ---- Method ----------------------------------------------------------------

// MethodFlags marks the delegation trampolines spec.md 4.6.5 describes.
type MethodFlags uint

const (
	MethodFlagLambdaDelegate MethodFlags = 1 << iota
	MethodFlagBlockDelegate
)

// Method: (signature, code, syntax, fragment, flags) — spec.md 4.6.
type methodBehavior struct {
	common
	M *Model
}

const (
	methSignature = word
	methCode      = word + word
	methSyntax    = word + 2*word
	methFragment  = word + 3*word
	methFlags     = word + 4*word
	methFields    = word + 5*word
)

func (mb methodBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return methFields, word }
func (mb methodBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (mb methodBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprint(w, "#<method>")
}

func (mb methodBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}
func (mb methodBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (mb methodBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Method is always deep-frozen")
	}
}

func (m *Model) NewMethod(signature, code, syntax, fragment value.Value, flags MethodFlags) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.Method, methFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+methSignature, signature)
	m.Heap.WriteValue(addr+methCode, code)
	m.Heap.WriteValue(addr+methSyntax, syntax)
	m.Heap.WriteValue(addr+methFragment, fragment)
	m.Heap.WriteValue(addr+methFlags, value.NewFlagSet(uint64(flags)))
	return heapValue(addr), value.Value{}
}

func (m *Model) MethodSignature(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + methSignature) }
func (m *Model) MethodCode(v value.Value) value.Value      { return m.Heap.ReadValue(addrOf(v) + methCode) }
func (m *Model) MethodSyntax(v value.Value) value.Value    { return m.Heap.ReadValue(addrOf(v) + methSyntax) }
func (m *Model) MethodFragment(v value.Value) value.Value  { return m.Heap.ReadValue(addrOf(v) + methFragment) }
func (m *Model) MethodFlagsOf(v value.Value) MethodFlags {
	return MethodFlags(m.Heap.ReadValue(addrOf(v) + methFlags).FlagSetBits())
}

var _ species.Behavior = methodBehavior{}

// ---- Methodspace ------------------------------------------------------------

// Methodspace: {methods, inheritance (subtype->supertype pairs), imports}
// — spec.md 4.6. inheritance is stored as two parallel arrays (subtypes,
// supertypes) rather than a Pair family the rest of the tree has no other
// use for.
type methodspaceBehavior struct {
	common
	M *Model
}

const (
	msMethods      = word
	msSubtypes     = word + word
	msSupertypes   = word + 2*word
	msImports      = word + 3*word
	msFields       = word + 4*word
)

func (ms methodspaceBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return msFields, word }
func (ms methodspaceBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (ms methodspaceBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<methodspace methods=%d>", ms.M.ArrayLen(h.ReadValue(addr+msMethods)))
}

func (ms methodspaceBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}
func (ms methodspaceBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (ms methodspaceBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Methodspace is always deep-frozen")
	}
}

// NewMethodspace builds an immutable methodspace from its method list, its
// subtype->supertype inheritance pairs (parallel slices), and the
// methodspaces it imports.
func (m *Model) NewMethodspace(methods []value.Value, subtypes, supertypes []value.Value, imports []value.Value) (value.Value, value.Value) {
	if len(subtypes) != len(supertypes) {
		panic("object: methodspace inheritance arrays must be the same length")
	}
	methodsArr, cond := m.newArrayFromSlice(methods)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	subArr, cond := m.newArrayFromSlice(subtypes)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	superArr, cond := m.newArrayFromSlice(supertypes)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	importsArr, cond := m.newArrayFromSlice(imports)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.Methodspace, msFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+msMethods, methodsArr)
	m.Heap.WriteValue(addr+msSubtypes, subArr)
	m.Heap.WriteValue(addr+msSupertypes, superArr)
	m.Heap.WriteValue(addr+msImports, importsArr)
	return heapValue(addr), value.Value{}
}

func (m *Model) MethodspaceMethodCount(v value.Value) int {
	return m.ArrayLen(m.Heap.ReadValue(addrOf(v) + msMethods))
}
func (m *Model) MethodspaceMethodAt(v value.Value, i int) value.Value {
	return m.ArrayAt(m.Heap.ReadValue(addrOf(v)+msMethods), i)
}
func (m *Model) MethodspaceImportCount(v value.Value) int {
	return m.ArrayLen(m.Heap.ReadValue(addrOf(v) + msImports))
}
func (m *Model) MethodspaceImportAt(v value.Value, i int) value.Value {
	return m.ArrayAt(m.Heap.ReadValue(addrOf(v)+msImports), i)
}

// MethodspaceSupertypeOf walks the direct inheritance array for typ's
// immediate supertype; ok is false at the root of a chain.
func (m *Model) MethodspaceSupertypeOf(v value.Value, typ value.Value) (value.Value, bool) {
	subs := m.Heap.ReadValue(addrOf(v) + msSubtypes)
	supers := m.Heap.ReadValue(addrOf(v) + msSupertypes)
	n := m.ArrayLen(subs)
	for i := 0; i < n; i++ {
		if m.IdentityEqual(m.ArrayAt(subs, i), typ) {
			return m.ArrayAt(supers, i), true
		}
	}
	return value.Value{}, false
}

var _ species.Behavior = methodspaceBehavior{}
