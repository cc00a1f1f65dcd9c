package binder

import (
	"fmt"
	"sort"

	"golang.org/x/tools/container/intsets"
)

// BuildBindingSchedule topologically sorts entries' fragment-entry-map
// (spec.md 4.7's build_binding_schedule) by the partial order: a fragment
// depends on every fragment it imports, and on its own immediate
// predecessor stage within the same module. Ties are broken
// lexicographically by module path and then by descending stage, so the
// schedule is deterministic and a module's oldest (most negative) stage
// always precedes its later ones (P7).
//
// Grounded on original_source/src/c/process.c's dependency-ordered
// initialization pass; the visited/on-stack sets of the classic DFS
// topological sort are backed by golang.org/x/tools/container/intsets's
// sparse int sets (SPEC_FULL.md's domain-stack wiring for this package),
// a direct algorithmic fit since fragment indices are dense small integers
// assigned by the deterministic sort below.
func BuildBindingSchedule(entries map[FragmentKey]*Entry) ([]FragmentKey, error) {
	keys := make([]FragmentKey, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Stage > keys[j].Stage
	})

	index := make(map[FragmentKey]int, len(keys))
	for i, k := range keys {
		index[k] = i
	}

	deps := make([][]int, len(keys))
	for i, k := range keys {
		e := entries[k]
		var ids []int
		for _, imp := range e.Imports {
			if id, ok := index[imp]; ok {
				ids = append(ids, id)
			}
		}
		pred := FragmentKey{Path: k.Path, Stage: k.Stage - 1}
		if id, ok := index[pred]; ok {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		deps[i] = ids
	}

	var visited, onStack intsets.Sparse
	order := make([]FragmentKey, 0, len(keys))

	var visit func(i int) error
	visit = func(i int) error {
		if visited.Has(i) {
			return nil
		}
		if onStack.Has(i) {
			return fmt.Errorf("binder: cyclic fragment dependency at %s@%d", keys[i].Path, keys[i].Stage)
		}
		onStack.Insert(i)
		for _, j := range deps[i] {
			if err := visit(j); err != nil {
				return err
			}
		}
		onStack.Remove(i)
		visited.Insert(i)
		order = append(order, keys[i])
		return nil
	}

	for i := range keys {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
