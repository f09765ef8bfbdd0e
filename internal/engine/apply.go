package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/strata-io/strata/internal/expr"
	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/provider"
	"github.com/strata-io/strata/internal/state"
)

// DefaultParallelism bounds concurrent provider operations.
const DefaultParallelism = 10

// ApplyEvent reports progress of one operation.
type ApplyEvent struct {
	OpID     string
	Key      ir.InstanceKey
	Action   ir.Action
	Status   string // "started", "applied", "failed", "skipped"
	Duration time.Duration
	Err      error
}

// ApplyCallback receives progress events when set.
type ApplyCallback func(ApplyEvent)

// Applier executes a plan against providers, respecting the dependsOn
// partial order. Independent operations run concurrently up to
// Parallelism. Every successful operation commits its state record
// before any dependent becomes eligible, so a crash or failure leaves
// state consistent with reality for everything already completed.
type Applier struct {
	Registry    *provider.Registry
	Store       state.Store
	Parallelism int
	Retry       *RetryPolicy
	Callback    ApplyCallback
}

type opStatus int

const (
	opPending opStatus = iota
	opRunning
	opNoOp
	opApplied
	opFailed
	opSkipped
)

type opResult struct {
	id  string
	err error
}

// Apply runs the plan to completion or cancellation and returns a
// report enumerating every change's outcome. Cancelling ctx stops new
// operations from being scheduled but lets in-flight ones finish, to
// avoid leaving half-created resources untracked.
func (a *Applier) Apply(ctx context.Context, plan *ir.Plan) (*ir.Report, error) {
	parallelism := a.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	changes := make(map[string]*ir.Change, len(plan.Changes))
	status := make(map[string]opStatus, len(plan.Changes))
	opErrs := make(map[string]error)
	var order []string
	for _, c := range plan.Changes {
		id := c.OpID()
		changes[id] = c
		if c.Action == ir.ActionNoOp {
			status[id] = opNoOp
		} else {
			status[id] = opPending
			order = append(order, id)
		}
	}
	sort.Strings(order)

	scope := a.scopeFor(plan)

	// Provider calls run on a context that survives cancellation;
	// only scheduling and retry pauses observe the interrupt.
	execCtx := context.WithoutCancel(ctx)

	results := make(chan opResult)
	inflight := 0
	cancelled := false

	settle := func() {
		for {
			progressed := false
			for _, id := range order {
				if status[id] != opPending {
					continue
				}
				ready, blocked := a.depState(changes[id], status)
				if blocked {
					status[id] = opSkipped
					a.emit(ApplyEvent{OpID: id, Key: changes[id].Key, Action: changes[id].Action, Status: "skipped"})
					progressed = true
					continue
				}
				if ready && !cancelled && inflight < parallelism {
					status[id] = opRunning
					inflight++
					go a.run(execCtx, ctx, changes[id], scope, results)
					progressed = true
				}
			}
			if !progressed {
				return
			}
		}
	}

	for {
		if ctx.Err() != nil {
			cancelled = true
		}
		settle()
		if inflight == 0 {
			break
		}
		res := <-results
		inflight--
		if res.err != nil {
			status[res.id] = opFailed
			opErrs[res.id] = res.err
		} else {
			status[res.id] = opApplied
		}
	}

	report := a.buildReport(plan, status, opErrs, cancelled)

	var err error
	if failed := report.Count(ir.OutcomeFailed); failed > 0 {
		var all []error
		for _, id := range order {
			if e := opErrs[id]; e != nil {
				all = append(all, e)
			}
		}
		err = fmt.Errorf("%d operation(s) failed: %w", failed, errors.Join(all...))
	} else if cancelled {
		err = fmt.Errorf("apply cancelled: %w", ctx.Err())
	}

	if err == nil && report.Succeeded() {
		outputs, oerr := a.resolveOutputs(execCtx, plan, scope)
		if oerr != nil {
			return report, oerr
		}
		report.Outputs = outputs
	}

	return report, err
}

// depState reports whether a change may start (ready) or can never
// start (blocked). A change waits while any dependency is pending or
// running. A failed dependency blocks everything downstream; a skipped
// dependency blocks creates and updates, but a destroy only needed its
// dependents to be out of the way, which skipped satisfies.
func (a *Applier) depState(c *ir.Change, status map[string]opStatus) (ready, blocked bool) {
	for _, dep := range c.DependsOn {
		st, ok := status[dep]
		if !ok {
			continue
		}
		switch st {
		case opApplied, opNoOp:
		case opFailed:
			return false, true
		case opSkipped:
			if c.Action != ir.ActionDestroy {
				return false, true
			}
		default:
			return false, false
		}
	}
	return true, false
}

func (a *Applier) run(execCtx, retryCtx context.Context, c *ir.Change, scope *applyScope, results chan<- opResult) {
	id := c.OpID()
	start := time.Now()
	a.emit(ApplyEvent{OpID: id, Key: c.Key, Action: c.Action, Status: "started"})

	err := a.applyChange(execCtx, retryCtx, c, scope)

	if err != nil {
		logging.Error("operation failed", "op", id, "action", c.Action, "error", err)
		a.emit(ApplyEvent{OpID: id, Key: c.Key, Action: c.Action, Status: "failed", Duration: time.Since(start), Err: err})
	} else {
		a.emit(ApplyEvent{OpID: id, Key: c.Key, Action: c.Action, Status: "applied", Duration: time.Since(start)})
	}
	results <- opResult{id: id, err: err}
}

func (a *Applier) applyChange(execCtx, retryCtx context.Context, c *ir.Change, scope *applyScope) error {
	prov, err := a.Registry.Get(c.Provider)
	if err != nil {
		return err
	}

	op := &ir.Operation{
		Key:    c.Key,
		Type:   c.Type,
		Action: c.Action,
		Prior:  c.Prior,
	}
	if c.Action != ir.ActionDestroy {
		desired, err := scope.resolveAll(execCtx, c.Desired)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", c.OpID(), err)
		}
		op.Desired = desired
	}

	var res *provider.Result
	err = RetryWithBackoff(retryCtx, a.Retry, func() error {
		var execErr error
		res, execErr = prov.Execute(execCtx, op)
		return execErr
	}, provider.IsTransient)
	if err != nil {
		if provider.IsAmbiguous(err) {
			return fmt.Errorf("%s: outcome unknown, operator must reconcile remote state before re-running: %w", c.OpID(), err)
		}
		if c.Prior != nil && errors.Is(err, provider.ErrUnknownID) {
			return &StateConsistencyError{Key: c.OpID(), ProviderID: c.Prior.ProviderID, Err: err}
		}
		return fmt.Errorf("%s: %w", c.OpID(), err)
	}

	key := c.Key.String()
	switch {
	case c.Action != ir.ActionDestroy:
		rec := &ir.Record{
			Key:           key,
			Type:          c.Type,
			Provider:      c.Provider,
			ProviderID:    res.ProviderID,
			Attributes:    res.Attributes,
			Dependencies:  c.InstanceDeps,
			LastAppliedAt: time.Now().UTC(),
		}
		if err := a.Store.Put(execCtx, rec); err != nil {
			return fmt.Errorf("commit state for %s: %w", key, err)
		}
	case c.Deposed && c.Lifecycle.ReplaceBeforeDestroy:
		// The key's record already points at the replacement; the old
		// object is simply gone.
	default:
		if err := a.Store.Delete(execCtx, key); err != nil {
			return fmt.Errorf("remove state for %s: %w", key, err)
		}
	}
	return nil
}

func (a *Applier) buildReport(plan *ir.Plan, status map[string]opStatus, opErrs map[string]error, cancelled bool) *ir.Report {
	report := &ir.Report{}
	for _, c := range plan.Changes {
		id := c.OpID()
		var outcome ir.Outcome
		switch status[id] {
		case opNoOp:
			outcome = ir.OutcomeNoOp
		case opApplied:
			outcome = ir.OutcomeApplied
		case opFailed:
			outcome = ir.OutcomeFailed
		case opSkipped:
			outcome = ir.OutcomeSkipped
		default:
			if cancelled {
				outcome = ir.OutcomePending
			} else {
				outcome = ir.OutcomeSkipped
			}
		}
		report.Results = append(report.Results, &ir.Result{
			OpID:    id,
			Key:     c.Key,
			Action:  c.Action,
			Outcome: outcome,
			Err:     opErrs[id],
		})
	}
	return report
}

func (a *Applier) resolveOutputs(ctx context.Context, plan *ir.Plan, scope *applyScope) (map[string]any, error) {
	if len(plan.Outputs) == 0 {
		return nil, nil
	}
	outputs := make(map[string]any, len(plan.Outputs))
	for name, v := range plan.Outputs {
		ov, err := scope.eval(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		outputs[name] = ov
	}
	return outputs, nil
}

func (a *Applier) emit(event ApplyEvent) {
	if a.Callback != nil {
		a.Callback(event)
	}
}

// scopeFor indexes the plan's instances by declaration name so
// references resolve against committed state during apply.
func (a *Applier) scopeFor(plan *ir.Plan) *applyScope {
	byName := make(map[string][]ir.InstanceKey)
	seen := make(map[ir.InstanceKey]bool)
	for _, c := range plan.Changes {
		if c.Deposed || seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		byName[c.Key.Name] = append(byName[c.Key.Name], c.Key)
	}
	for name := range byName {
		keys := byName[name]
		sort.Slice(keys, func(i, j int) bool { return keys[i].Index < keys[j].Index })
		byName[name] = keys
	}
	return &applyScope{store: a.Store, byName: byName}
}

// applyScope resolves references against the state store. Scheduling
// guarantees every referenced instance committed its record before a
// dependent starts.
type applyScope struct {
	store  state.Store
	byName map[string][]ir.InstanceKey

	// ctx is set per resolution call; expr.Scope has no context
	// parameter.
	ctx context.Context
}

func (s *applyScope) resolveAll(ctx context.Context, attrs map[string]expr.Value) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := s.eval(ctx, attrs[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func (s *applyScope) eval(ctx context.Context, v expr.Value) (any, error) {
	bound := &applyScope{store: s.store, byName: s.byName, ctx: ctx}
	return expr.Eval(v, bound)
}

func (s *applyScope) Attribute(target string, index int, attr string) (any, error) {
	keys, ok := s.byName[target]
	if !ok {
		return nil, fmt.Errorf("reference to unknown resource %q", target)
	}
	if index < 0 {
		if len(keys) == 1 && keys[0].Index == ir.SingletonIndex {
			return s.attributeOf(keys[0], attr)
		}
		// Unindexed reference to a counted resource is the collection.
		vals, err := s.Collection(target, attr)
		if err != nil {
			return nil, err
		}
		return vals, nil
	}
	key := ir.InstanceKey{Name: target, Index: index}
	return s.attributeOf(key, attr)
}

func (s *applyScope) Collection(target string, attr string) ([]any, error) {
	keys, ok := s.byName[target]
	if !ok {
		return nil, fmt.Errorf("reference to unknown resource %q", target)
	}
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		v, err := s.attributeOf(key, attr)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *applyScope) attributeOf(key ir.InstanceKey, attr string) (any, error) {
	rec, ok, err := s.store.Get(s.ctx, key.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s has no state record", key)
	}
	v, ok := rec.Attributes[attr]
	if !ok {
		return nil, fmt.Errorf("%s has no attribute %q", key, attr)
	}
	return v, nil
}
