package engine

import (
	"fmt"
	"sort"

	"github.com/strata-io/strata/internal/expr"
	"github.com/strata-io/strata/internal/ir"
)

// Resolve rewrites every attribute reference of every instance into
// concrete dependency edges. The result maps each instance to the
// instances it depends on, deduplicated and deterministically ordered.
//
// An indexed reference binds to the single target instance at that
// index; a reference with no index (or the splat form) to a counted
// target denotes the whole collection and yields one edge per target
// instance.
func Resolve(instances []*ir.Instance, decls []*ir.Declaration) (map[ir.InstanceKey][]ir.InstanceKey, error) {
	declByName := make(map[string]*ir.Declaration, len(decls))
	for _, d := range decls {
		declByName[d.LocalName] = d
	}

	deps := make(map[ir.InstanceKey][]ir.InstanceKey, len(instances))
	for _, inst := range instances {
		set := make(map[ir.InstanceKey]bool)

		for _, v := range inst.Attributes {
			for _, ref := range expr.References(v) {
				keys, err := bindReference(inst.Key, ref, declByName)
				if err != nil {
					return nil, err
				}
				for _, k := range keys {
					set[k] = true
				}
			}
		}

		// Explicit depends_on edges order against every instance of
		// the named declaration.
		decl := declByName[inst.Key.Name]
		for _, name := range decl.DependsOn {
			target, ok := declByName[name]
			if !ok {
				return nil, &UnresolvedReferenceError{From: inst.Key, Target: name}
			}
			for _, k := range instanceKeys(target) {
				set[k] = true
			}
		}

		keys := make([]ir.InstanceKey, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		deps[inst.Key] = keys
	}

	return deps, nil
}

func bindReference(from ir.InstanceKey, ref expr.Reference, declByName map[string]*ir.Declaration) ([]ir.InstanceKey, error) {
	target, ok := declByName[ref.Target]
	if !ok {
		return nil, &UnresolvedReferenceError{From: from, Target: ref.Target}
	}

	if ref.Index != nil {
		idx, err := expr.LiteralInt(ref.Index)
		if err != nil {
			return nil, fmt.Errorf("%s: index into %s must be a constant: %w", from, ref.Target, err)
		}
		if !target.Counted() {
			// A singleton tolerates [0]; anything else is out of range.
			if idx != 0 {
				return nil, &IndexOutOfRangeError{From: from, Target: ref.Target, Index: idx, Count: 1}
			}
			return []ir.InstanceKey{{Name: target.LocalName, Index: ir.SingletonIndex}}, nil
		}
		if idx < 0 || idx >= *target.Count {
			return nil, &IndexOutOfRangeError{From: from, Target: ref.Target, Index: idx, Count: *target.Count}
		}
		return []ir.InstanceKey{{Name: target.LocalName, Index: idx}}, nil
	}

	// No index: a singleton binds directly, a counted target binds the
	// whole collection.
	return instanceKeys(target), nil
}

func instanceKeys(decl *ir.Declaration) []ir.InstanceKey {
	if !decl.Counted() {
		return []ir.InstanceKey{{Name: decl.LocalName, Index: ir.SingletonIndex}}
	}
	keys := make([]ir.InstanceKey, 0, *decl.Count)
	for i := 0; i < *decl.Count; i++ {
		keys = append(keys, ir.InstanceKey{Name: decl.LocalName, Index: i})
	}
	return keys
}
