// Package dispatch implements spec.md 4.6's method dispatch: tag ordering,
// match_signature, score-vector comparison, overload-resolution lookup,
// delegation-flag re-dispatch, and signal-handler lookup.
//
// Grounded on original_source/src/c/method.h's sigmap_input_o abstraction
// (generalized here into the CallInput interface, covering both
// frame-resident and boxed-CallTags call data), match_result_t,
// match_info_t, and join_status_t; the score encoding itself already lives
// in internal/value/phyla.go (Score/ScoreCategory/CompareScores).
package dispatch

import (
	"crucible/internal/derived"
	"crucible/internal/object"
	"crucible/internal/species"
	"crucible/internal/value"
)

// MatchResult is match_signature's outcome (spec.md 4.6.1).
type MatchResult int

const (
	Match MatchResult = iota
	ExtraMatch
	UnexpectedArgument
	RedundantArgument
	MissingArgument
	GuardRejected
)

func (r MatchResult) String() string {
	switch r {
	case Match:
		return "Match"
	case ExtraMatch:
		return "ExtraMatch"
	case UnexpectedArgument:
		return "UnexpectedArgument"
	case RedundantArgument:
		return "RedundantArgument"
	case MissingArgument:
		return "MissingArgument"
	case GuardRejected:
		return "GuardRejected"
	default:
		return "UnknownMatchResult"
	}
}

// ok reports whether r represents a usable candidate for overload
// resolution (spec.md 4.6.2 only considers Match/ExtraMatch results).
func (r MatchResult) ok() bool { return r == Match || r == ExtraMatch }

// LookupDetail is the CauseLookupError detail code this package hands back
// through value.NewCondition, distinguishing the two ways a lookup fails.
type LookupDetail uint32

const (
	LookupDetailNotApplicable LookupDetail = iota
	LookupDetailAmbiguity
)

// kNoOffset marks a parameter that no call tag supplied (spec.md 4.6.1:
// optional parameters may go unmatched).
const kNoOffset = -1

// ---- Call input -----------------------------------------------------------

// CallInput abstracts over where a call's tags and argument values live —
// an open frame's stack slots for an ordinary invocation, or a boxed
// CallTags plus a value slice for a synthesized/re-dispatched call —
// mirroring method.h's frame_sigmap_input_o / call_data_sigmap_input_o
// split. Implementations must present tags already in spec.md 4.6's sort
// order; internal/interp's frame-backed adapter and SortedCallTags below
// both guarantee this.
type CallInput interface {
	TagCount() int
	TagAt(i int) value.Value
	ValueAt(i int) value.Value
}

// sliceInput is the plain-slice CallInput implementation used internally
// for the delegation secondary lookup's rewritten-subject call, and usable
// directly by any caller building call data outside a frame.
type sliceInput struct {
	tags, values []value.Value
}

func NewSliceInput(tags, values []value.Value) CallInput { return sliceInput{tags: tags, values: values} }

func (s sliceInput) TagCount() int             { return len(s.tags) }
func (s sliceInput) TagAt(i int) value.Value   { return s.tags[i] }
func (s sliceInput) ValueAt(i int) value.Value { return s.values[i] }

// CallTagsInput implements CallInput over a boxed object.CallTags value
// plus its parallel argument slice (method.h's call_data_sigmap_input_o).
type CallTagsInput struct {
	M      *object.Model
	Tags   value.Value
	Values []value.Value
}

func (c CallTagsInput) TagCount() int             { return c.M.CallTagsCount(c.Tags) }
func (c CallTagsInput) TagAt(i int) value.Value   { return c.M.CallTagsAt(c.Tags, i) }
func (c CallTagsInput) ValueAt(i int) value.Value { return c.Values[i] }

// ---- Tag ordering -----------------------------------------------------------

// tagClass buckets a tag for spec.md 4.6's sort order: subject key first,
// selector key second, other keys by id, then integers ascending, then
// strings lexicographically.
type tagClass int

const (
	classSubject tagClass = iota
	classSelector
	classOtherKey
	classInteger
	classString
)

func classify(m *object.Model, wk *object.WellKnownKeys, tag value.Value) tagClass {
	if tag.Domain() == value.DomainInteger {
		return classInteger
	}
	fam, ok := m.FamilyOf(tag)
	if !ok {
		panic("dispatch: call/signature tag is neither an integer nor a heap-resident key/string")
	}
	switch fam {
	case species.FamilyKey:
		switch {
		case m.IdentityEqual(tag, wk.Subject):
			return classSubject
		case m.IdentityEqual(tag, wk.Selector):
			return classSelector
		default:
			return classOtherKey
		}
	case species.FamilyUtf8:
		return classString
	default:
		panic("dispatch: tag has a family other than Key or Utf8")
	}
}

// CompareTags orders a and b per spec.md 4.6's tag sort: negative if a
// sorts before b, positive if after, zero if equal.
func CompareTags(m *object.Model, wk *object.WellKnownKeys, a, b value.Value) int {
	ca, cb := classify(m, wk, a), classify(m, wk, b)
	if ca != cb {
		return int(ca) - int(cb)
	}
	switch ca {
	case classSubject, classSelector:
		return 0
	case classOtherKey:
		ia, ib := m.KeyID(a), m.KeyID(b)
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		default:
			return 0
		}
	case classInteger:
		ia, ib := a.IntegerValue(), b.IntegerValue()
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		default:
			return 0
		}
	default: // classString
		sa, sb := m.Utf8Value(a), m.Utf8Value(b)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
}

// SortTags returns a copy of tags sorted per spec.md 4.6, for
// internal/binder to use when constructing a Signature's tag array or a
// call's CallTags.
func SortTags(m *object.Model, wk *object.WellKnownKeys, tags []value.Value) []value.Value {
	sorted := append([]value.Value(nil), tags...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && CompareTags(m, wk, sorted[j-1], sorted[j]) > 0; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted
}

// ---- Type resolution (gtIs scoring) ----------------------------------------

// TypeResolver answers the inheritance-distance question gtIs guards need
// (spec.md 4.6.3: "subscores within Is are proportional to inheritance
// distance"). Decoupled from object.Model by an interface so tests can
// supply a fake hierarchy without building real Instance objects.
type TypeResolver interface {
	// InheritanceDistance reports how many supertype steps separate arg's
	// nominal type from typ within methodspace's inheritance graph, walking
	// methodspace.MethodspaceSupertypeOf. ok is false if arg has no nominal
	// type, or typ is unreachable from it.
	InheritanceDistance(methodspace, arg, typ value.Value) (int, bool)
}

// maxInheritanceDepth bounds the supertype walk against a malformed or
// cyclic inheritance graph slipping past binder validation.
const maxInheritanceDepth = 1 << 16

type modelTypeResolver struct{ m *object.Model }

// NewTypeResolver builds the TypeResolver backing real Instance values:
// their species-level PrimaryType (spec.md 3.4), walked up through
// methodspace's subtype->supertype pairs (4.6).
func NewTypeResolver(m *object.Model) TypeResolver { return modelTypeResolver{m: m} }

func (r modelTypeResolver) InheritanceDistance(methodspace, arg, typ value.Value) (int, bool) {
	actual, ok := r.m.PrimaryTypeOf(arg)
	if !ok {
		return 0, false
	}
	if r.m.IdentityEqual(actual, typ) {
		return 0, true
	}
	cur := actual
	for dist := 1; dist <= maxInheritanceDepth; dist++ {
		sup, ok := r.m.MethodspaceSupertypeOf(methodspace, cur)
		if !ok {
			return 0, false
		}
		if r.m.IdentityEqual(sup, typ) {
			return dist, true
		}
		cur = sup
	}
	return 0, false
}

// ---- Guard scoring ----------------------------------------------------------

func scoreGuard(m *object.Model, resolver TypeResolver, methodspace, guard, arg value.Value) (value.Value, bool) {
	switch m.GuardKindOf(guard) {
	case object.GuardKindEq:
		if m.IdentityEqual(m.GuardPayload(guard), arg) {
			return value.NewScore(value.ScoreEq, 0), true
		}
		return value.Value{}, false
	case object.GuardKindIs:
		dist, ok := resolver.InheritanceDistance(methodspace, arg, m.GuardPayload(guard))
		if !ok {
			return value.Value{}, false
		}
		return value.NewScore(value.ScoreIs, uint64(dist)), true
	default: // object.GuardKindAny
		return value.NewScore(value.ScoreAny, 0), true
	}
}

// ---- match_signature --------------------------------------------------------

// MatchSignature implements spec.md 4.6.1: a parallel walk of sig's sorted
// tags against in's sorted tags. On Match/ExtraMatch, scores and offsets
// are sized to sig's parameter count (offsets[i] is kNoOffset for an
// unmatched optional parameter, scored as ScoreAny so every candidate's
// vector stays the same length for join_score_vectors).
func MatchSignature(m *object.Model, wk *object.WellKnownKeys, methodspace, sig value.Value, in CallInput, resolver TypeResolver) (MatchResult, []value.Value, []int) {
	paramCount := m.SignatureParameterCount(sig)
	scores := make([]value.Value, paramCount)
	offsets := make([]int, paramCount)
	matched := make([]bool, paramCount)
	for i := range offsets {
		offsets[i] = kNoOffset
		scores[i] = value.NewScore(value.ScoreAny, 0)
	}

	allowExtra := m.SignatureAllowExtra(sig)
	sigN, inN := m.SignatureTagCount(sig), in.TagCount()
	result := Match

	i, j := 0, 0
	for i < sigN || j < inN {
		switch {
		case i >= sigN:
			if !allowExtra {
				return UnexpectedArgument, nil, nil
			}
			result = ExtraMatch
			j++
		case j >= inN:
			param := m.SignatureTagParameterAt(sig, i)
			if !m.ParameterIsOptional(param) {
				return MissingArgument, nil, nil
			}
			i++
		default:
			sigTag := m.SignatureTagAt(sig, i)
			inTag := in.TagAt(j)
			switch cmp := CompareTags(m, wk, sigTag, inTag); {
			case cmp < 0:
				param := m.SignatureTagParameterAt(sig, i)
				if !m.ParameterIsOptional(param) {
					return MissingArgument, nil, nil
				}
				i++
			case cmp > 0:
				if !allowExtra {
					return UnexpectedArgument, nil, nil
				}
				result = ExtraMatch
				j++
			default:
				param := m.SignatureTagParameterAt(sig, i)
				idx := m.ParameterIndex(param)
				if matched[idx] {
					return RedundantArgument, nil, nil
				}
				matched[idx] = true
				score, ok := scoreGuard(m, resolver, methodspace, m.ParameterGuard(param), in.ValueAt(j))
				if !ok {
					return GuardRejected, nil, nil
				}
				scores[idx] = score
				offsets[idx] = j
				i++
				j++
			}
		}
	}
	return result, scores, offsets
}

// ---- Argument map canonicalization (P4) ------------------------------------

// CanonicalizeArgumentMap walks offsets down the runtime's argument-map
// trie from root, returning the (possibly shared) canonical array spec.md
// P4 requires: any two lookups producing the same offsets sequence return
// the identical array instance.
func CanonicalizeArgumentMap(m *object.Model, root value.Value, offsets []int) (value.Value, value.Value) {
	cur := root
	for _, off := range offsets {
		next, cond := m.TrieChild(cur, off)
		if cond.IsCondition() {
			return value.Value{}, cond
		}
		cur = next
	}
	return m.TrieValue(cur), value.Value{}
}

// ---- join_score_vectors -----------------------------------------------------

// JoinStatus is join_score_vectors's outcome (spec.md 4.6.2).
type JoinStatus int

const (
	JoinEqual JoinStatus = iota
	JoinBetter
	JoinWorse
	JoinAmbiguous
)

// JoinScoreVectors compares source against target componentwise: source
// strictly better in some component and nowhere worse is Better (and
// symmetrically Worse); any mix of better-in-some, worse-in-others is
// Ambiguous; all equal is Equal.
func JoinScoreVectors(target, source []value.Value) JoinStatus {
	betterSeen, worseSeen := false, false
	for i := range target {
		switch c := value.CompareScores(source[i], target[i]); {
		case c < 0:
			betterSeen = true
		case c > 0:
			worseSeen = true
		}
	}
	switch {
	case betterSeen && worseSeen:
		return JoinAmbiguous
	case betterSeen:
		return JoinBetter
	case worseSeen:
		return JoinWorse
	default:
		return JoinEqual
	}
}

// ---- Overload resolution lookup ---------------------------------------------

type candidate struct {
	method value.Value
	scores []value.Value
}

// LookupMethodspaceMethod implements spec.md 4.6.2's lookup_methodspace_method:
// scans every method in methodspace and its imports (recursively), keeping
// the best score vector seen so far. Ambiguous alternatives are tracked
// relative to whichever candidate was "best" when they were compared, per
// the spec's single-pass sketch; it is not re-validated against the final
// winner once the best changes again.
func LookupMethodspaceMethod(m *object.Model, wk *object.WellKnownKeys, methodspace value.Value, in CallInput, resolver TypeResolver) (value.Value, value.Value) {
	var best *candidate
	var ambiguous []*candidate
	seen := make(map[value.Value]bool)

	var visit func(space value.Value)
	visit = func(space value.Value) {
		if seen[space] {
			return
		}
		seen[space] = true
		n := m.MethodspaceMethodCount(space)
		for i := 0; i < n; i++ {
			method := m.MethodspaceMethodAt(space, i)
			sig := m.MethodSignature(method)
			result, scores, _ := MatchSignature(m, wk, methodspace, sig, in, resolver)
			if !result.ok() {
				continue
			}
			cand := &candidate{method: method, scores: scores}
			if best == nil {
				best = cand
				continue
			}
			switch JoinScoreVectors(best.scores, cand.scores) {
			case JoinBetter:
				ambiguous = nil
				best = cand
			case JoinWorse, JoinEqual:
				// keep current best
			case JoinAmbiguous:
				ambiguous = append(ambiguous, cand)
			}
		}
		importN := m.MethodspaceImportCount(space)
		for i := 0; i < importN; i++ {
			visit(m.MethodspaceImportAt(space, i))
		}
	}
	visit(methodspace)

	if best == nil {
		return value.Value{}, value.NewCondition(value.CauseLookupError, uint32(LookupDetailNotApplicable))
	}
	if len(ambiguous) > 0 {
		return value.Value{}, value.NewCondition(value.CauseLookupError, uint32(LookupDetailAmbiguity))
	}
	return best.method, value.Value{}
}

// ---- Delegation flags (4.6.5) -----------------------------------------------

// DelegationMethodspace resolves the "own methodspace" a delegate target
// carries — a Lambda's or BlockClosure's methodspace field. Supplied by
// internal/interp once those families exist (they are out of this
// package's scope); ok is false when subject isn't the expected kind,
// matching 4.6.5's "the call's subject must be a lambda" precondition.
type DelegationMethodspace func(subject value.Value) (methodspace value.Value, ok bool)

func subjectValue(m *object.Model, wk *object.WellKnownKeys, in CallInput) value.Value {
	for i := 0; i < in.TagCount(); i++ {
		if m.IdentityEqual(in.TagAt(i), wk.Subject) {
			return in.ValueAt(i)
		}
	}
	return value.Nothing
}

// RewriteSubject returns a CallInput identical to in, except its
// subject-tagged argument is replaced by newSubject (the "subject
// rewritten" step of delegation, spec.md 4.6.5).
func RewriteSubject(m *object.Model, wk *object.WellKnownKeys, in CallInput, newSubject value.Value) CallInput {
	n := in.TagCount()
	tags := make([]value.Value, n)
	values := make([]value.Value, n)
	for i := 0; i < n; i++ {
		tags[i] = in.TagAt(i)
		if m.IdentityEqual(tags[i], wk.Subject) {
			values[i] = newSubject
		} else {
			values[i] = in.ValueAt(i)
		}
	}
	return NewSliceInput(tags, values)
}

// ResolveDelegation implements spec.md 4.6.5: if method carries
// lambda_delegate or block_delegate, runs the secondary lookup against the
// delegate's own methodspace with the subject rewritten, and returns that
// lookup's result in place of method. Methods without either flag are
// returned unchanged.
func ResolveDelegation(m *object.Model, wk *object.WellKnownKeys, method value.Value, in CallInput, resolver TypeResolver, lambdaSpace, blockSpace DelegationMethodspace) (value.Value, value.Value) {
	flags := m.MethodFlagsOf(method)
	if flags&(object.MethodFlagLambdaDelegate|object.MethodFlagBlockDelegate) == 0 {
		return method, value.Value{}
	}
	subj := subjectValue(m, wk, in)
	var space value.Value
	var ok bool
	if flags&object.MethodFlagLambdaDelegate != 0 {
		space, ok = lambdaSpace(subj)
	} else {
		space, ok = blockSpace(subj)
	}
	if !ok {
		return value.Value{}, value.NewCondition(value.CauseLookupError, uint32(LookupDetailNotApplicable))
	}
	return LookupMethodspaceMethod(m, wk, space, RewriteSubject(m, wk, in, subj), resolver)
}

// ---- Signal-handler lookup (4.6.6) ------------------------------------------

// LookupSignalHandler walks chain's barrier chain for SignalHandlerSection
// entries, running LookupMethodspaceMethod against each one's methodspace
// payload; the first match wins, returning both the method and its
// enclosing section (spec.md 4.6.6).
func LookupSignalHandler(m *object.Model, wk *object.WellKnownKeys, chain *derived.Chain, in CallInput, resolver TypeResolver) (value.Value, *derived.SignalHandlerSection, value.Value) {
	var method value.Value
	var section *derived.SignalHandlerSection
	var cond value.Value
	found := false
	chain.Walk(func(s derived.Scoped) bool {
		sh, ok := s.(*derived.SignalHandlerSection)
		if !ok {
			return true
		}
		m2, c := LookupMethodspaceMethod(m, wk, sh.Payload, in, resolver)
		if c.IsCondition() {
			return true
		}
		method, section, cond, found = m2, sh, value.Value{}, true
		return false
	})
	if !found {
		return value.Value{}, nil, value.NewCondition(value.CauseLookupError, uint32(LookupDetailNotApplicable))
	}
	return method, section, cond
}
