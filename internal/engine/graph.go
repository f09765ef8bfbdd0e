package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strata-io/strata/internal/ir"
)

// Graph is the directed acyclic dependency graph over resource
// instances. It is read-only after construction and safe to share
// across workers.
type Graph struct {
	nodes map[ir.InstanceKey]*graphNode
	order []ir.InstanceKey
}

type graphNode struct {
	inst       *ir.Instance
	deps       []ir.InstanceKey // edges out: what this instance needs
	dependents []ir.InstanceKey // edges in: what needs this instance
}

// BuildGraph assembles the DAG from expanded instances and resolved
// dependency edges. It fails with CyclicDependencyError if any
// reference cycle exists, and computes a deterministic topological
// order: ties among ready nodes break by declaration order, then index.
func BuildGraph(instances []*ir.Instance, deps map[ir.InstanceKey][]ir.InstanceKey) (*Graph, error) {
	g := &Graph{nodes: make(map[ir.InstanceKey]*graphNode, len(instances))}

	for _, inst := range instances {
		g.nodes[inst.Key] = &graphNode{inst: inst, deps: deps[inst.Key]}
	}
	for key, node := range g.nodes {
		for _, dep := range node.deps {
			target, ok := g.nodes[dep]
			if !ok {
				return nil, fmt.Errorf("edge from %s to unknown instance %s", key, dep)
			}
			target.dependents = append(target.dependents, key)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	g.order = g.topoSort()
	return g, nil
}

// findCycle runs a depth-first traversal with three-color marking and
// returns the node sequence of the first back-edge found, nil if the
// graph is acyclic.
func (g *Graph) findCycle() []ir.InstanceKey {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	color := make(map[ir.InstanceKey]int, len(g.nodes))

	roots := g.sortedKeys()

	var stack []ir.InstanceKey
	var visit func(key ir.InstanceKey) []ir.InstanceKey
	visit = func(key ir.InstanceKey) []ir.InstanceKey {
		color[key] = gray
		stack = append(stack, key)

		for _, dep := range g.nodes[key].deps {
			switch color[dep] {
			case gray:
				// Back edge: slice the stack from the first occurrence
				// of dep and close the loop.
				for i, k := range stack {
					if k == dep {
						return append(append([]ir.InstanceKey{}, stack[i:]...), dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[key] = black
		return nil
	}

	for _, key := range roots {
		if color[key] == white {
			if cycle := visit(key); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm. The ready set is kept ordered by
// (declaration order, index) so equal plans come out identical run to
// run.
func (g *Graph) topoSort() []ir.InstanceKey {
	inDegree := make(map[ir.InstanceKey]int, len(g.nodes))
	for key, node := range g.nodes {
		inDegree[key] = len(node.deps)
	}

	less := func(a, b ir.InstanceKey) bool {
		na, nb := g.nodes[a].inst, g.nodes[b].inst
		if na.DeclOrder != nb.DeclOrder {
			return na.DeclOrder < nb.DeclOrder
		}
		return a.Index < b.Index
	}

	var ready []ir.InstanceKey
	for key, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, key)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	order := make([]ir.InstanceKey, 0, len(g.nodes))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		order = append(order, key)

		released := false
		for _, dependent := range g.nodes[key].dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		}
	}
	return order
}

// Order returns instances in creation order: dependencies first.
func (g *Graph) Order() []ir.InstanceKey {
	return g.order
}

// ReverseOrder returns instances in destruction order.
func (g *Graph) ReverseOrder() []ir.InstanceKey {
	rev := make([]ir.InstanceKey, len(g.order))
	for i, key := range g.order {
		rev[len(g.order)-1-i] = key
	}
	return rev
}

// Dependencies returns what key depends on.
func (g *Graph) Dependencies(key ir.InstanceKey) []ir.InstanceKey {
	if node, ok := g.nodes[key]; ok {
		return node.deps
	}
	return nil
}

// Dependents returns what depends on key.
func (g *Graph) Dependents(key ir.InstanceKey) []ir.InstanceKey {
	if node, ok := g.nodes[key]; ok {
		return node.dependents
	}
	return nil
}

// Instance returns the instance at key.
func (g *Graph) Instance(key ir.InstanceKey) *ir.Instance {
	if node, ok := g.nodes[key]; ok {
		return node.inst
	}
	return nil
}

// DOT renders the graph in Graphviz format.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph resources {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box];\n")
	for _, key := range g.order {
		node := g.nodes[key]
		fmt.Fprintf(&b, "  %q [label=%q];\n", key.String(), node.inst.Type+"\\n"+key.String())
	}
	for _, key := range g.order {
		for _, dep := range g.nodes[key].deps {
			fmt.Fprintf(&b, "  %q -> %q;\n", dep.String(), key.String())
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func (g *Graph) sortedKeys() []ir.InstanceKey {
	keys := make([]ir.InstanceKey, 0, len(g.nodes))
	for key := range g.nodes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
