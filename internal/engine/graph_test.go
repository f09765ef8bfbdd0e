package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/ir"
)

func buildTestGraph(t *testing.T, decls []*ir.Declaration) *Graph {
	t.Helper()
	instances, err := Expand(decls)
	require.NoError(t, err)
	deps, err := Resolve(instances, decls)
	require.NoError(t, err)
	g, err := BuildGraph(instances, deps)
	require.NoError(t, err)
	return g
}

func orderIndex(order []ir.InstanceKey) map[ir.InstanceKey]int {
	idx := make(map[ir.InstanceKey]int, len(order))
	for i, k := range order {
		idx[k] = i
	}
	return idx
}

func TestGraph_TopologicalOrderRespectsEdges(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "network", LocalName: "main", Provider: "memory"},
		{Type: "subnet", LocalName: "public", Provider: "memory", Count: intp(2),
			DependsOn: []string{"main"}},
		{Type: "load-balancer", LocalName: "web", Provider: "memory",
			DependsOn: []string{"public"}},
	}

	g := buildTestGraph(t, decls)
	order := g.Order()
	require.Len(t, order, 4)
	pos := orderIndex(order)

	for _, key := range order {
		for _, dep := range g.Dependencies(key) {
			assert.Less(t, pos[dep], pos[key], "%s must come after %s", key, dep)
		}
	}
}

func TestGraph_OrderIsDeterministic(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "a", LocalName: "alpha", Provider: "memory"},
		{Type: "b", LocalName: "beta", Provider: "memory"},
		{Type: "c", LocalName: "gamma", Provider: "memory", Count: intp(2)},
	}

	first := buildTestGraph(t, decls).Order()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, buildTestGraph(t, decls).Order())
	}

	// Independent nodes come out in declaration order.
	assert.Equal(t, "alpha", first[0].Name)
	assert.Equal(t, "beta", first[1].Name)
	assert.Equal(t, 0, first[2].Index)
	assert.Equal(t, 1, first[3].Index)
}

func TestGraph_CycleDetected(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "a", LocalName: "first", Provider: "memory", DependsOn: []string{"second"}},
		{Type: "b", LocalName: "second", Provider: "memory", DependsOn: []string{"first"}},
	}

	instances, err := Expand(decls)
	require.NoError(t, err)
	deps, err := Resolve(instances, decls)
	require.NoError(t, err)

	_, err = BuildGraph(instances, deps)
	require.Error(t, err)

	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.True(t, IsConfigurationError(err))
	// The cycle names its participants and closes the loop.
	assert.GreaterOrEqual(t, len(cyc.Cycle), 3)
	assert.Equal(t, cyc.Cycle[0], cyc.Cycle[len(cyc.Cycle)-1])
	assert.Contains(t, err.Error(), "->")
}

func TestGraph_ReverseOrder(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "network", LocalName: "main", Provider: "memory"},
		{Type: "subnet", LocalName: "app", Provider: "memory", DependsOn: []string{"main"}},
	}

	g := buildTestGraph(t, decls)
	rev := g.ReverseOrder()
	assert.Equal(t, "app", rev[0].Name)
	assert.Equal(t, "main", rev[1].Name)
}

func TestGraph_DOT(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "network", LocalName: "main", Provider: "memory"},
		{Type: "subnet", LocalName: "app", Provider: "memory", DependsOn: []string{"main"}},
	}

	dot := buildTestGraph(t, decls).DOT()
	assert.Contains(t, dot, "digraph")
	assert.Contains(t, dot, `"main" -> "app"`)
}
