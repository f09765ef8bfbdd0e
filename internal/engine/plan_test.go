package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/expr"
	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
	"github.com/strata-io/strata/internal/state"
	"github.com/strata-io/strata/providers/memory"
)

func testRegistry() (*provider.Registry, *memory.Provider) {
	mem := memory.New()
	reg := provider.NewRegistry()
	reg.Register("memory", func() provider.Interface { return mem })
	return reg, mem
}

// webConfig is the canonical scenario: a network, two counted subnets
// carving its CIDR, and a load balancer spanning both subnets.
func webConfig() *ir.ConfigSet {
	return &ir.ConfigSet{
		Declarations: []*ir.Declaration{
			{
				Type: "network", LocalName: "main", Provider: "memory",
				Attributes: map[string]expr.Value{
					"cidr_block": expr.Str("10.0.0.0/16"),
				},
			},
			{
				Type: "subnet", LocalName: "public", Provider: "memory", Count: intp(2),
				Attributes: map[string]expr.Value{
					"network_id": expr.Ref("main", "id"),
					"cidr_block": expr.Call{
						Func: "cidrsubnet",
						Args: []expr.Value{expr.Str("10.0.0.0/16"), expr.Num(8), expr.CountIndex{}},
					},
				},
			},
			{
				Type: "load-balancer", LocalName: "web", Provider: "memory",
				Attributes: map[string]expr.Value{
					"network_id": expr.Ref("main", "id"),
					"subnet_ids": expr.RefSplat("public", "id"),
				},
			},
		},
		Outputs: map[string]expr.Value{
			"lb_dns_name": expr.Ref("web", "dns_name"),
		},
		ProviderSettings: map[string]map[string]string{"memory": {}},
	}
}

func mustApply(t *testing.T, reg *provider.Registry, store state.Store, cfg *ir.ConfigSet) *ir.Report {
	t.Helper()
	ctx := context.Background()
	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(ctx, cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store}
	report, err := applier.Apply(ctx, plan)
	require.NoError(t, err)
	require.True(t, report.Succeeded())
	return report
}

func TestPlan_FreshConfigCreatesEverything(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	planner := &Planner{Registry: reg, Store: store}

	plan, err := planner.Plan(context.Background(), webConfig())
	require.NoError(t, err)

	assert.Equal(t, 4, plan.Summary.Create)
	assert.Zero(t, plan.Summary.Update)
	assert.Zero(t, plan.Summary.Destroy)
	assert.False(t, plan.Empty())

	byID := make(map[string]*ir.Change)
	for _, c := range plan.Changes {
		byID[c.OpID()] = c
		assert.Equal(t, ir.ActionCreate, c.Action)
	}
	require.Contains(t, byID, "web")
	assert.ElementsMatch(t, []string{"main", "public[0]", "public[1]"}, byID["web"].DependsOn)
}

func TestPlan_SecondPlanIsAllNoOp(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, plan.Empty())
	assert.Equal(t, 4, plan.Summary.NoOp)
}

func TestPlan_MutableChangeIsUpdate(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	cfg.Declarations[2].Attributes["idle_timeout"] = expr.Num(60)

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Summary.Update)
	assert.Equal(t, 3, plan.Summary.NoOp)

	for _, c := range plan.Changes {
		if c.Key.Name == "web" {
			assert.Equal(t, ir.ActionUpdate, c.Action)
			assert.Equal(t, []string{"idle_timeout"}, c.ChangedAttrs)
		}
	}
}

func TestPlan_ImmutableChangeIsReplacement(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	cfg.Declarations[0].Attributes["cidr_block"] = expr.Str("10.1.0.0/16")

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	// The new network id is unknown until apply, and network_id is
	// immutable on subnets, so the replacement cascades to them.
	assert.Equal(t, 3, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.Update)

	var mainChanges []*ir.Change
	for _, c := range plan.Changes {
		if c.Key.Name == "main" {
			mainChanges = append(mainChanges, c)
		}
	}
	require.Len(t, mainChanges, 2)

	// Default policy: the destroy of the old object comes first and the
	// create waits on it.
	assert.Equal(t, ir.ActionDestroy, mainChanges[0].Action)
	assert.True(t, mainChanges[0].Deposed)
	assert.Equal(t, ir.ActionCreate, mainChanges[1].Action)
	assert.Contains(t, mainChanges[1].DependsOn, "main (deposed)")
}

func TestPlan_ReplaceBeforeDestroyOrdersCreateFirst(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	cfg.Declarations[0].Lifecycle.ReplaceBeforeDestroy = true
	mustApply(t, reg, store, cfg)

	cfg.Declarations[0].Attributes["cidr_block"] = expr.Str("10.1.0.0/16")

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	var mainChanges []*ir.Change
	for _, c := range plan.Changes {
		if c.Key.Name == "main" {
			mainChanges = append(mainChanges, c)
		}
	}
	require.Len(t, mainChanges, 2)
	assert.Equal(t, ir.ActionCreate, mainChanges[0].Action)
	assert.Equal(t, ir.ActionDestroy, mainChanges[1].Action)
	assert.Contains(t, mainChanges[1].DependsOn, "main")
}

func TestPlan_PreventDestroyBlocksReplacement(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	cfg.Declarations[0].Lifecycle.PreventDestroy = true
	mustApply(t, reg, store, cfg)

	cfg.Declarations[0].Attributes["cidr_block"] = expr.Str("10.1.0.0/16")

	planner := &Planner{Registry: reg, Store: store}
	_, err := planner.Plan(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestPlan_DependencyChangeMakesReferenceUnknown(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	// A mutable change on the network means its attributes may differ
	// after apply; everything referencing it is conservatively updated.
	cfg.Declarations[0].Attributes["name"] = expr.Str("renamed")

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	actions := make(map[string]ir.Action)
	for _, c := range plan.Changes {
		actions[c.OpID()] = c.Action
	}
	assert.Equal(t, ir.ActionUpdate, actions["main"])
	assert.Equal(t, ir.ActionUpdate, actions["web"])

	// network_id is immutable on subnets, so the unknown value forces
	// their replacement rather than an in-place update.
	assert.Equal(t, 2, plan.Summary.Replace)
}

func TestPlan_RemovedDeclarationsAreDestroyed(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), &ir.ConfigSet{
		ProviderSettings: cfg.ProviderSettings,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, plan.Summary.Destroy)
	pos := make(map[string]int)
	for i, c := range plan.Changes {
		assert.Equal(t, ir.ActionDestroy, c.Action)
		pos[c.OpID()] = i
	}

	// Dependents are destroyed before what they depend on.
	assert.Less(t, pos["web"], pos["public[0]"])
	assert.Less(t, pos["web"], pos["public[1]"])
	assert.Less(t, pos["public[0]"], pos["main"])
	assert.Less(t, pos["public[1]"], pos["main"])

	// And the destroy of the network waits on its dependents.
	for _, c := range plan.Changes {
		if c.Key.Name == "main" {
			assert.ElementsMatch(t, []string{"public[0]", "public[1]", "web"}, c.DependsOn)
		}
	}
}

func TestPlanDestroy_PreventDestroyRefuses(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	cfg.Declarations[0].Lifecycle.PreventDestroy = true

	planner := &Planner{Registry: reg, Store: store}
	_, err := planner.PlanDestroy(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestPlan_TargetLimitsToDependencyClosure(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	cfg.Declarations = append(cfg.Declarations, &ir.Declaration{
		Type: "object-store-bucket", LocalName: "assets", Provider: "memory",
		Attributes: map[string]expr.Value{"bucket": expr.Str("assets")},
	})

	planner := &Planner{Registry: reg, Store: store, Targets: []string{"web"}}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	ids := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		ids = append(ids, c.OpID())
	}
	assert.ElementsMatch(t, []string{"main", "public[0]", "public[1]", "web"}, ids)
	assert.Equal(t, 4, plan.Summary.Create)

	// Outputs may reference resources outside the selection, so a
	// targeted plan withholds them.
	assert.Empty(t, plan.Outputs)
}

func TestPlan_TargetedUpdateLeavesRestAlone(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	cfg.Declarations[0].Attributes["name"] = expr.Str("renamed")
	cfg.Declarations[2].Attributes["idle_timeout"] = expr.Num(60)

	planner := &Planner{Registry: reg, Store: store, Targets: []string{"main"}}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "main", plan.Changes[0].OpID())
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)
}

func TestPlan_TargetMatchesRemovedRecord(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	planner := &Planner{Registry: reg, Store: store, Targets: []string{"web"}}
	plan, err := planner.Plan(context.Background(), &ir.ConfigSet{
		ProviderSettings: cfg.ProviderSettings,
	})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "web", plan.Changes[0].OpID())
	assert.Equal(t, ir.ActionDestroy, plan.Changes[0].Action)
}

func TestPlan_UnknownTargetRejected(t *testing.T) {
	reg, _ := testRegistry()
	store := state.NewMemoryStore()

	planner := &Planner{Registry: reg, Store: store, Targets: []string{"ghost"}}
	_, err := planner.Plan(context.Background(), webConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestPlan_CycleFailsBeforeProviders(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	cfg := &ir.ConfigSet{
		Declarations: []*ir.Declaration{
			{Type: "a", LocalName: "first", Provider: "memory", DependsOn: []string{"second"}},
			{Type: "b", LocalName: "second", Provider: "memory", DependsOn: []string{"first"}},
		},
		ProviderSettings: map[string]map[string]string{"memory": {}},
	}

	planner := &Planner{Registry: reg, Store: store}
	_, err := planner.Plan(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, mem.Calls())
}
