package value

import "math"

// ---- Float32 --------------------------------------------------------------

// NewFloat32 re-interprets a float32's bits through the CustomTagged payload.
func NewFloat32(f float32) Value {
	return NewCustomTagged(PhylumFloat32, uint64(math.Float32bits(f)))
}

func (v Value) IsFloat32() bool { return v.IsCustomTagged() && v.Phylum() == PhylumFloat32 }

func (v Value) Float32Value() float32 {
	if !v.IsFloat32() {
		panic("value: Float32Value on non-float32")
	}
	return math.Float32frombits(uint32(v.CustomPayload()))
}

// ---- FlagSet ---------------------------------------------------------------

// FlagSet is a 48-bit bitset exposed as its own tagged phylum.
const flagSetMask = uint64(1)<<48 - 1

func NewFlagSet(bits uint64) Value { return NewCustomTagged(PhylumFlagSet, bits&flagSetMask) }

func (v Value) IsFlagSet() bool { return v.IsCustomTagged() && v.Phylum() == PhylumFlagSet }

func (v Value) FlagSetBits() uint64 {
	if !v.IsFlagSet() {
		panic("value: FlagSetBits on non-flag-set")
	}
	return v.CustomPayload()
}

func (v Value) FlagSetTest(bit uint) bool { return v.FlagSetBits()&(1<<bit) != 0 }

func (v Value) FlagSetEnable(bit uint) Value  { return NewFlagSet(v.FlagSetBits() | (1 << bit)) }
func (v Value) FlagSetDisable(bit uint) Value { return NewFlagSet(v.FlagSetBits() &^ (1 << bit)) }

// ---- Relation ---------------------------------------------------------------

// Relation is a 2-bit mask of {less, equal, greater, unordered}. Expressed
// as a mask (not a plain enum) because "unordered" is simultaneously
// not-less, not-equal and not-greater, and guard/score comparisons in
// internal/dispatch test individual bits.
type Relation uint8

const (
	RelationLess      Relation = 1 << 0
	RelationEqual     Relation = 1 << 1
	RelationGreater   Relation = 1 << 2
	RelationUnordered Relation = 0
)

func NewRelation(r Relation) Value { return NewCustomTagged(PhylumRelation, uint64(r)) }

func (v Value) IsRelation() bool { return v.IsCustomTagged() && v.Phylum() == PhylumRelation }

func (v Value) RelationValue() Relation {
	if !v.IsRelation() {
		panic("value: RelationValue on non-relation")
	}
	return Relation(v.CustomPayload())
}

// RelationFromInt maps a three-way comparator result (<0,0,>0) to a Relation.
func RelationFromInt(cmp int) Relation {
	switch {
	case cmp < 0:
		return RelationLess
	case cmp > 0:
		return RelationGreater
	default:
		return RelationEqual
	}
}

// ---- Score -------------------------------------------------------------------

// ScoreCategory orders guard match quality, best first (spec.md 4.6.3).
type ScoreCategory uint8

const (
	ScoreEq ScoreCategory = iota
	ScoreIs
	ScoreExtra
	ScoreAny
	ScoreNone
)

// score encoding: category in the high bits of the payload so that a
// smaller encoded payload is always a strictly better score regardless of
// subscore, then subscore ascending (smaller = closer inheritance distance
// = better), matching spec.md's "smaller encoded word is better" rule.
const scoreSubscoreBits = 40

func NewScore(cat ScoreCategory, subscore uint64) Value {
	const subMask = uint64(1)<<scoreSubscoreBits - 1
	payload := uint64(cat)<<scoreSubscoreBits | (subscore & subMask)
	return NewCustomTagged(PhylumScore, payload)
}

func (v Value) IsScore() bool { return v.IsCustomTagged() && v.Phylum() == PhylumScore }

func (v Value) ScoreCategory() ScoreCategory {
	if !v.IsScore() {
		panic("value: ScoreCategory on non-score")
	}
	return ScoreCategory(v.CustomPayload() >> scoreSubscoreBits)
}

func (v Value) ScoreSubscore() uint64 {
	if !v.IsScore() {
		panic("value: ScoreSubscore on non-score")
	}
	const subMask = uint64(1)<<scoreSubscoreBits - 1
	return v.CustomPayload() & subMask
}

// CompareScores implements spec.md 4.6.3: smaller encoded payload wins.
func CompareScores(a, b Value) int {
	ap, bp := a.CustomPayload(), b.CustomPayload()
	switch {
	case ap < bp:
		return -1
	case ap > bp:
		return 1
	default:
		return 0
	}
}

// ---- DerivedObjectAnchor -------------------------------------------------

// Genus identifies the kind of derived object an anchor describes.
type Genus uint8

const (
	GenusStackPointer Genus = iota
	GenusEscapeSection
	GenusEnsureSection
	GenusBlockSection
	GenusSignalHandlerSection
)

func (g Genus) Scoped() bool { return g != GenusStackPointer }

const anchorGenusBits = 8

// NewDerivedObjectAnchor packs (genus, host_byte_offset) as the anchor
// slot's own tagged value (distinct from the DerivedObject domain pointer
// that addresses the slot itself).
func NewDerivedObjectAnchor(genus Genus, hostOffset uint64) Value {
	return NewCustomTagged(PhylumDerivedObjectAnchor, uint64(genus)|hostOffset<<anchorGenusBits)
}

func (v Value) IsDerivedObjectAnchor() bool {
	return v.IsCustomTagged() && v.Phylum() == PhylumDerivedObjectAnchor
}

func (v Value) AnchorGenus() Genus {
	if !v.IsDerivedObjectAnchor() {
		panic("value: AnchorGenus on non-anchor")
	}
	return Genus(v.CustomPayload() & (1<<anchorGenusBits - 1))
}

func (v Value) AnchorHostOffset() uint64 {
	if !v.IsDerivedObjectAnchor() {
		panic("value: AnchorHostOffset on non-anchor")
	}
	return v.CustomPayload() >> anchorGenusBits
}

// ---- HashCode -------------------------------------------------------------

func NewHashCode(code uint64) Value { return NewCustomTagged(PhylumHashCode, code&(uint64(1)<<48-1)) }

func (v Value) IsHashCode() bool { return v.IsCustomTagged() && v.Phylum() == PhylumHashCode }

func (v Value) HashCodeValue() uint64 {
	if !v.IsHashCode() {
		panic("value: HashCodeValue on non-hash-code")
	}
	return v.CustomPayload()
}

// ---- PromiseState -----------------------------------------------------------

type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "pending"
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	default:
		return "unknown-promise-state"
	}
}

func NewPromiseState(s PromiseState) Value { return NewCustomTagged(PhylumPromiseState, uint64(s)) }

func (v Value) IsPromiseStateValue() bool {
	return v.IsCustomTagged() && v.Phylum() == PhylumPromiseState
}

func (v Value) PromiseStateValue() PromiseState {
	if !v.IsPromiseStateValue() {
		panic("value: PromiseStateValue on non-promise-state")
	}
	return PromiseState(v.CustomPayload())
}
