package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/expr"
	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
	"github.com/strata-io/strata/internal/state"
	"github.com/strata-io/strata/providers/memory"
)

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func callPosition(calls []memory.Call, key string, action ir.Action) int {
	for i, c := range calls {
		if c.Key.String() == key && c.Action == action {
			return i
		}
	}
	return -1
}

func TestApply_EndToEnd(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()
	cfg := webConfig()

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(ctx, cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store}
	report, err := applier.Apply(ctx, plan)
	require.NoError(t, err)
	require.True(t, report.Succeeded())
	assert.Equal(t, 4, report.Count(ir.OutcomeApplied))

	// Providers saw dependencies strictly before dependents.
	calls := mem.Calls()
	require.Len(t, calls, 4)
	netPos := callPosition(calls, "main", ir.ActionCreate)
	lbPos := callPosition(calls, "web", ir.ActionCreate)
	for _, key := range []string{"public[0]", "public[1]"} {
		pos := callPosition(calls, key, ir.ActionCreate)
		assert.Greater(t, pos, netPos)
		assert.Less(t, pos, lbPos)
	}

	// Subnet records carry the carved CIDR blocks.
	rec, ok, err := store.Get(ctx, "public[1]")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.1.0/24", rec.Attributes["cidr_block"])

	// The subnets resolved the network's real id.
	netRec, _, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, netRec.Attributes["id"], rec.Attributes["network_id"])

	// Outputs resolve from final state.
	require.Contains(t, report.Outputs, "lb_dns_name")
	lbRec, _, err := store.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, lbRec.Attributes["dns_name"], report.Outputs["lb_dns_name"])
}

func TestApply_IsIdempotent(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)
	callsAfterFirst := len(mem.Calls())

	report := mustApply(t, reg, store, cfg)
	assert.Equal(t, 4, report.Count(ir.OutcomeNoOp))
	assert.Equal(t, callsAfterFirst, len(mem.Calls()), "no-op apply must not call the provider")

	// Outputs still resolve on an all-no-op run.
	assert.Contains(t, report.Outputs, "lb_dns_name")
}

func TestApply_FailureSkipsDependents(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()
	cfg := webConfig()

	mem.FailWith["public[0]"] = provider.Permanent("create public[0]", errors.New("quota exceeded"))

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(ctx, cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store, Retry: fastRetry()}
	report, err := applier.Apply(ctx, plan)
	require.Error(t, err)
	require.False(t, report.Succeeded())

	outcomes := make(map[string]ir.Outcome)
	for _, res := range report.Results {
		outcomes[res.OpID] = res.Outcome
	}
	assert.Equal(t, ir.OutcomeApplied, outcomes["main"])
	assert.Equal(t, ir.OutcomeFailed, outcomes["public[0]"])
	assert.Equal(t, ir.OutcomeApplied, outcomes["public[1]"])
	assert.Equal(t, ir.OutcomeSkipped, outcomes["web"])

	// The skipped instance never reached the provider, and no outputs
	// were resolved.
	assert.Equal(t, 0, mem.CallCount("web"))
	assert.Empty(t, report.Outputs)

	// State reflects exactly what succeeded.
	_, ok, err := store.Get(ctx, "public[0]")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, "main")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second apply picks up where the first stopped.
	mustApply(t, reg, store, cfg)
}

func TestApply_TransientFailureIsRetried(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()
	cfg := webConfig()

	mem.FailWith["main"] = provider.Transient("create main", errors.New("throttled"))

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(ctx, cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store, Retry: fastRetry()}
	report, err := applier.Apply(ctx, plan)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 2, mem.CallCount("main"))
}

func TestApply_AmbiguousFailureIsNotRetried(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()
	cfg := webConfig()

	mem.FailWith["main"] = provider.Ambiguous("create main", errors.New("connection lost mid-request"))

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(ctx, cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store, Retry: fastRetry()}
	report, err := applier.Apply(ctx, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile")
	assert.Equal(t, 1, mem.CallCount("main"))
	assert.False(t, report.Succeeded())
}

func TestApply_ReplacementDefaultDestroysOldFirst(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()

	cfg := &ir.ConfigSet{
		Declarations: []*ir.Declaration{{
			Type: "network", LocalName: "main", Provider: "memory",
			Attributes: map[string]expr.Value{"cidr_block": expr.Str("10.0.0.0/16")},
		}},
		ProviderSettings: map[string]map[string]string{"memory": {}},
	}
	mustApply(t, reg, store, cfg)
	oldRec, _, err := store.Get(ctx, "main")
	require.NoError(t, err)

	cfg.Declarations[0].Attributes["cidr_block"] = expr.Str("10.1.0.0/16")
	mustApply(t, reg, store, cfg)

	calls := mem.Calls()
	destroyPos := callPosition(calls, "main", ir.ActionDestroy)
	require.GreaterOrEqual(t, destroyPos, 0)
	createPos := -1
	for i, c := range calls {
		if c.Action == ir.ActionCreate && i > destroyPos {
			createPos = i
		}
	}
	assert.Greater(t, createPos, destroyPos, "old object is destroyed before the new one exists")

	newRec, ok, err := store.Get(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, oldRec.ProviderID, newRec.ProviderID)
	assert.Equal(t, 1, mem.ObjectCount())
}

func TestApply_ReplaceBeforeDestroyKeepsOldUntilNewExists(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()

	cfg := &ir.ConfigSet{
		Declarations: []*ir.Declaration{{
			Type: "network", LocalName: "main", Provider: "memory",
			Lifecycle:  ir.Lifecycle{ReplaceBeforeDestroy: true},
			Attributes: map[string]expr.Value{"cidr_block": expr.Str("10.0.0.0/16")},
		}},
		ProviderSettings: map[string]map[string]string{"memory": {}},
	}
	mustApply(t, reg, store, cfg)

	cfg.Declarations[0].Attributes["cidr_block"] = expr.Str("10.1.0.0/16")
	mustApply(t, reg, store, cfg)

	calls := mem.Calls()
	// create(old), create(new), destroy(old)
	require.Len(t, calls, 3)
	assert.Equal(t, ir.ActionCreate, calls[1].Action)
	assert.Equal(t, ir.ActionDestroy, calls[2].Action)

	newRec, ok, err := store.Get(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, mem.ObjectCount())
	_, exists := mem.Object(newRec.ProviderID)
	assert.True(t, exists, "surviving object is the replacement")
}

func TestApply_DestroyRemovedResources(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)
	require.Equal(t, 4, mem.ObjectCount())

	mustApply(t, reg, store, &ir.ConfigSet{ProviderSettings: cfg.ProviderSettings})

	assert.Equal(t, 0, mem.ObjectCount())
	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Destroys ran in reverse dependency order.
	calls := mem.Calls()
	netPos := callPosition(calls, "main", ir.ActionDestroy)
	lbPos := callPosition(calls, "web", ir.ActionDestroy)
	for _, key := range []string{"public[0]", "public[1]"} {
		pos := callPosition(calls, key, ir.ActionDestroy)
		assert.Greater(t, pos, lbPos)
		assert.Less(t, pos, netPos)
	}
}

func TestApply_UnknownProviderIDIsStateConsistencyError(t *testing.T) {
	reg, mem := testRegistry()
	store := state.NewMemoryStore()
	ctx := context.Background()
	cfg := webConfig()
	mustApply(t, reg, store, cfg)

	// The remote object vanished behind the engine's back; the next
	// update against its recorded id cannot find it.
	mem.FailWith["web"] = provider.Permanent("update web",
		fmt.Errorf("object gone: %w", provider.ErrUnknownID))
	cfg.Declarations[2].Attributes["idle_timeout"] = expr.Num(60)

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(ctx, cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store, Retry: fastRetry()}
	report, err := applier.Apply(ctx, plan)
	require.Error(t, err)

	var sce *StateConsistencyError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, "web", sce.Key)
	assert.False(t, report.Succeeded())

	// The record survives; dropping it could orphan the remote object.
	_, ok, err := store.Get(ctx, "web")
	require.NoError(t, err)
	assert.True(t, ok)
}

// gatedProvider blocks Execute until released, to test cancellation.
type gatedProvider struct {
	*memory.Provider
	started chan string
	release chan struct{}
}

func (g *gatedProvider) Execute(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	g.started <- op.Key.String()
	<-g.release
	return g.Provider.Execute(ctx, op)
}

func TestApply_CancellationFinishesInFlightOnly(t *testing.T) {
	gated := &gatedProvider{
		Provider: memory.New(),
		started:  make(chan string, 4),
		release:  make(chan struct{}),
	}
	reg := provider.NewRegistry()
	reg.Register("memory", func() provider.Interface { return gated })
	store := state.NewMemoryStore()

	cfg := &ir.ConfigSet{
		Declarations: []*ir.Declaration{
			{Type: "network", LocalName: "alpha", Provider: "memory",
				Attributes: map[string]expr.Value{"cidr_block": expr.Str("10.0.0.0/16")}},
			{Type: "network", LocalName: "beta", Provider: "memory",
				Attributes: map[string]expr.Value{"cidr_block": expr.Str("10.1.0.0/16")}},
		},
		ProviderSettings: map[string]map[string]string{"memory": {}},
	}

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	applier := &Applier{Registry: reg, Store: store, Parallelism: 1}

	type applyResult struct {
		report *ir.Report
		err    error
	}
	done := make(chan applyResult, 1)
	go func() {
		report, err := applier.Apply(ctx, plan)
		done <- applyResult{report, err}
	}()

	// First operation is in flight; cancel, then let it finish.
	first := <-gated.started
	assert.Equal(t, "alpha", first)
	cancel()
	close(gated.release)

	res := <-done
	require.Error(t, res.err)

	outcomes := make(map[string]ir.Outcome)
	for _, r := range res.report.Results {
		outcomes[r.OpID] = r.Outcome
	}
	assert.Equal(t, ir.OutcomeApplied, outcomes["alpha"], "in-flight operation runs to completion")
	assert.Equal(t, ir.OutcomePending, outcomes["beta"], "nothing new starts after cancellation")

	// The completed operation committed its state.
	_, ok, err := store.Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = store.Get(context.Background(), "beta")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApply_ParallelismIsBounded(t *testing.T) {
	gated := &gatedProvider{
		Provider: memory.New(),
		started:  make(chan string, 8),
		release:  make(chan struct{}),
	}
	reg := provider.NewRegistry()
	reg.Register("memory", func() provider.Interface { return gated })
	store := state.NewMemoryStore()

	cfg := &ir.ConfigSet{
		Declarations: []*ir.Declaration{
			{Type: "network", LocalName: "nets", Provider: "memory", Count: intp(4),
				Attributes: map[string]expr.Value{"cidr_block": expr.Str("10.0.0.0/16")}},
		},
		ProviderSettings: map[string]map[string]string{"memory": {}},
	}

	planner := &Planner{Registry: reg, Store: store}
	plan, err := planner.Plan(context.Background(), cfg)
	require.NoError(t, err)

	applier := &Applier{Registry: reg, Store: store, Parallelism: 2}
	done := make(chan struct{})
	go func() {
		_, _ = applier.Apply(context.Background(), plan)
		close(done)
	}()

	// Exactly two operations start while the gate is closed.
	<-gated.started
	<-gated.started
	select {
	case key := <-gated.started:
		t.Fatalf("third operation %s started beyond the parallelism bound", key)
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	<-done
}
