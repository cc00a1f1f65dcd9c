package binder

import (
	"crucible/internal/object"
	"crucible/internal/value"
)

// Epoch is one fragment's binding lifecycle stage (spec.md 4.7:
// "uninitialized → unbound → binding → complete").
type Epoch int

const (
	Uninitialized Epoch = iota
	Unbound
	Binding
	Complete
)

func (e Epoch) String() string {
	switch e {
	case Uninitialized:
		return "uninitialized"
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Complete:
		return "complete"
	default:
		return "epoch(?)"
	}
}

// Fragment is one bound module fragment's runtime-visible state: its
// current epoch and, once Complete, the frozen Methodspace its elements
// populated plus the globals they set.
type Fragment struct {
	Key         FragmentKey
	Epoch       Epoch
	Methodspace value.Value
	Globals     map[string]value.Value
}

// Binder drives spec.md 4.7's binding process end to end: build the
// fragment entry map, topologically sort it into a binding schedule, then
// walk the schedule creating each fragment uninitialized, initializing it
// (running its elements against a Builder seeded with its imports and its
// own predecessor stage), and freezing the result into an immutable
// Methodspace via object.Model.NewMethodspace.
type Binder struct {
	Model *object.Model
}

func NewBinder(m *object.Model) *Binder { return &Binder{Model: m} }

// Bind runs every module through the full staged binding pipeline,
// returning the completed fragments keyed by (path, stage). A returned
// condition means some fragment's methodspace could not be allocated; the
// partially bound map is discarded.
func (b *Binder) Bind(modules []UnboundModule) (map[FragmentKey]*Fragment, value.Value) {
	entries := BuildFragmentEntryMap(modules)
	schedule, err := BuildBindingSchedule(entries)
	if err != nil {
		return nil, value.NewCondition(value.CauseWat, 0)
	}

	fragments := make(map[FragmentKey]*Fragment, len(entries))
	for _, key := range schedule {
		fragments[key] = &Fragment{Key: key, Epoch: Uninitialized}
	}

	for _, key := range schedule {
		frag := fragments[key]
		entry := entries[key]

		frag.Epoch = Unbound
		frag.Epoch = Binding

		builder := NewBuilder()
		for _, impKey := range entry.Imports {
			if imported, ok := fragments[impKey]; ok && imported.Methodspace != (value.Value{}) {
				builder.AddImport(imported.Methodspace)
			}
		}
		predKey := FragmentKey{Path: key.Path, Stage: key.Stage - 1}
		if pred, ok := fragments[predKey]; ok && pred.Methodspace != (value.Value{}) {
			builder.AddImport(pred.Methodspace)
		}
		for _, el := range entry.Fragment.Elements {
			el.Install(builder)
		}

		ms, cond := b.Model.NewMethodspace(builder.Methods, builder.Subtypes, builder.Supertypes, builder.Imports)
		if cond.IsCondition() {
			return nil, cond
		}
		frag.Methodspace = ms
		frag.Globals = builder.Globals
		frag.Epoch = Complete
	}

	return fragments, value.Value{}
}
