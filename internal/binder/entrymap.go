package binder

// FragmentKey identifies one fragment within the entry map: a module path
// and the stage it runs at (spec.md 4.7).
type FragmentKey struct {
	Path  string
	Stage Stage
}

// Entry records one fragment's effective imports once the entry map's
// transitive-closure rules have run (spec.md 4.7's
// build_fragment_entry_map). A key with no corresponding UnboundFragment —
// a fresh empty entry inserted purely to keep a predecessor chain or an
// import target intact — has a zero Fragment and HasElements false.
type Entry struct {
	Fragment    UnboundFragment
	HasElements bool
	Imports     []FragmentKey
}

// BuildFragmentEntryMap produces spec.md 4.7's path→stage-offset→entry map
// (flattened here to FragmentKey→*Entry): every explicit fragment is
// recorded, every import at stage s of module m is rewritten to a
// dependency of m's stage s−1 entry on the imported module's stage s−1
// entry (the spec's stage-arithmetic rule — "import shifts by −1 for past
// stages"), and every module's stages are then transitively closed downward
// with fresh empty entries so every predecessor stage down to the minimum
// any dependency required is represented.
func BuildFragmentEntryMap(modules []UnboundModule) map[FragmentKey]*Entry {
	entries := make(map[FragmentKey]*Entry)
	floor := make(map[string]Stage)

	get := func(path string, stage Stage) *Entry {
		key := FragmentKey{Path: path, Stage: stage}
		e, ok := entries[key]
		if !ok {
			e = &Entry{}
			entries[key] = e
		}
		if cur, ok := floor[path]; !ok || stage < cur {
			floor[path] = stage
		}
		return e
	}

	for _, mod := range modules {
		for _, frag := range mod.Fragments {
			e := get(mod.Path, frag.Stage)
			e.Fragment = frag
			e.HasElements = true

			for _, imp := range frag.Imports {
				depStage := frag.Stage - 1
				dependent := get(mod.Path, depStage)
				dependencyKey := FragmentKey{Path: imp.Module, Stage: depStage}
				get(imp.Module, depStage)
				dependent.Imports = append(dependent.Imports, dependencyKey)
			}
		}
	}

	for path, min := range floor {
		for s := Stage(0); s >= min; s-- {
			get(path, s)
		}
	}

	return entries
}
