package engine

import (
	"context"
	"encoding/json"
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

// Planner diffs the declared graph against last-applied state and
// produces an ordered change-set. It only reads the state store.
type Planner struct {
	Registry *provider.Registry
	Store    state.Store

	// Targets restricts the plan to the named resources (a declaration
	// local name or an instance key like "public[0]") plus everything
	// they transitively depend on. Removed-record destroys are limited
	// to matching keys, and outputs are not resolved on a targeted run
	// since they may reference resources outside the selection.
	Targets []string
}

// errUnknown marks a value that cannot be known until its dependency
// has been applied. Plan-time comparison treats unknown as changed.
var errUnknown = errors.New("value not known until apply")

// Plan expands, resolves, and diffs the declaration set. Configuration
// errors (unresolved references, bad indices, cycles) surface here,
// before any provider is asked to do work.
func (p *Planner) Plan(ctx context.Context, cfg *ir.ConfigSet) (*ir.Plan, error) {
	instances, err := Expand(cfg.Declarations)
	if err != nil {
		return nil, err
	}
	deps, err := Resolve(instances, cfg.Declarations)
	if err != nil {
		return nil, err
	}
	graph, err := BuildGraph(instances, deps)
	if err != nil {
		return nil, err
	}

	if err := p.loadProviders(ctx, cfg, instances); err != nil {
		return nil, err
	}

	logging.Debug("planning", "instances", len(instances))

	targeted, unmatched := targetClosure(p.Targets, instances, graph)

	plan := &ir.Plan{Outputs: cfg.Outputs}
	if targeted != nil {
		plan.Outputs = nil
	}
	actions := make(map[ir.InstanceKey]ir.Action, len(instances))
	declByName := make(map[string]*ir.Declaration, len(cfg.Declarations))
	for _, d := range cfg.Declarations {
		declByName[d.LocalName] = d
	}

	scope := &planScope{
		ctx:        ctx,
		store:      p.Store,
		actions:    actions,
		declByName: declByName,
	}

	for _, key := range graph.Order() {
		if targeted != nil && !targeted[key] {
			continue
		}
		inst := graph.Instance(key)
		changes, err := p.diffInstance(ctx, inst, graph, scope)
		if err != nil {
			return nil, err
		}
		if len(changes) == 2 {
			// A replacement pair; the instance's effective action for
			// downstream reference resolution is create.
			actions[key] = ir.ActionCreate
			plan.Summary.Replace++
		} else {
			actions[key] = changes[0].Action
			switch changes[0].Action {
			case ir.ActionCreate:
				plan.Summary.Create++
			case ir.ActionUpdate:
				plan.Summary.Update++
			case ir.ActionNoOp:
				plan.Summary.NoOp++
			}
		}
		plan.Changes = append(plan.Changes, changes...)
	}

	destroys, err := p.planRemoved(ctx, instances, unmatched)
	if err != nil {
		return nil, err
	}
	plan.Changes = append(plan.Changes, destroys...)
	plan.Summary.Destroy += len(destroys)

	if len(unmatched) > 0 {
		names := make([]string, 0, len(unmatched))
		for t := range unmatched {
			names = append(names, t)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("target %q matches no declared resource or state record", names[0])
	}

	return plan, nil
}

// targetClosure expands target selections into the set of instances to
// plan. Dependencies are pulled in transitively so a targeted create
// never references something the plan leaves behind. Targets that match
// no instance are returned for the caller to check against state.
func targetClosure(targets []string, instances []*ir.Instance, graph *Graph) (map[ir.InstanceKey]bool, map[string]bool) {
	if len(targets) == 0 {
		return nil, nil
	}
	unmatched := make(map[string]bool, len(targets))
	for _, t := range targets {
		unmatched[t] = true
	}

	set := make(map[ir.InstanceKey]bool)
	var walk func(key ir.InstanceKey)
	walk = func(key ir.InstanceKey) {
		if set[key] {
			return
		}
		set[key] = true
		for _, dep := range graph.Dependencies(key) {
			walk(dep)
		}
	}
	for _, inst := range instances {
		for _, t := range targets {
			if inst.Key.Name == t || inst.Key.String() == t {
				walk(inst.Key)
				delete(unmatched, t)
			}
		}
	}
	return set, unmatched
}

// PlanDestroy plans the removal of everything in state, honoring
// recorded dependency order.
func (p *Planner) PlanDestroy(ctx context.Context, cfg *ir.ConfigSet) (*ir.Plan, error) {
	for _, d := range cfg.Declarations {
		if d.Lifecycle.PreventDestroy {
			return nil, fmt.Errorf("%s has prevent_destroy set; remove the guard before destroying", d.LocalName)
		}
	}
	empty := &ir.ConfigSet{ProviderSettings: cfg.ProviderSettings}
	return p.Plan(ctx, empty)
}

func (p *Planner) loadProviders(ctx context.Context, cfg *ir.ConfigSet, instances []*ir.Instance) error {
	load := func(name string) error {
		if name == "" {
			return fmt.Errorf("resource without a provider")
		}
		return p.Registry.Load(ctx, name, cfg.ProviderSettings[name])
	}
	for _, inst := range instances {
		if err := load(inst.Provider); err != nil {
			return err
		}
	}
	// Records may reference providers no declared resource uses any
	// more; destroys still need them.
	recs, err := p.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list state: %w", err)
	}
	for _, rec := range recs {
		if err := load(rec.Provider); err != nil {
			return err
		}
	}
	return nil
}

// diffInstance returns one change for creates, updates, and no-ops, or
// an ordered pair for replacements.
func (p *Planner) diffInstance(ctx context.Context, inst *ir.Instance, graph *Graph, scope *planScope) ([]*ir.Change, error) {
	prior, ok, err := p.Store.Get(ctx, inst.Key.String())
	if err != nil {
		return nil, err
	}

	depKeys := graph.Dependencies(inst.Key)
	depIDs := make([]string, len(depKeys))
	for i, k := range depKeys {
		depIDs[i] = k.String()
	}

	base := &ir.Change{
		Key:          inst.Key,
		Type:         inst.Type,
		Provider:     inst.Provider,
		DependsOn:    depIDs,
		InstanceDeps: depIDs,
		Desired:      inst.Attributes,
		Lifecycle:    inst.Lifecycle,
	}

	if !ok {
		base.Action = ir.ActionCreate
		return []*ir.Change{base}, nil
	}
	base.Prior = prior

	changed, err := p.changedAttrs(inst, prior, scope)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		base.Action = ir.ActionNoOp
		return []*ir.Change{base}, nil
	}

	prov, err := p.Registry.Get(inst.Provider)
	if err != nil {
		return nil, err
	}
	schema := prov.Schema(inst.Type)

	immutable := false
	for _, attr := range changed {
		if schema.IsImmutable(attr) {
			immutable = true
			break
		}
	}

	if !immutable {
		base.Action = ir.ActionUpdate
		base.ChangedAttrs = changed
		return []*ir.Change{base}, nil
	}

	// Replacement. The destroy half targets the old remote object
	// (deposed); relative order encodes the lifecycle policy.
	if inst.Lifecycle.PreventDestroy {
		return nil, fmt.Errorf("%s must be replaced (%v changed) but prevent_destroy is set",
			inst.Key, changed)
	}

	create := base
	create.Action = ir.ActionCreate
	create.ChangedAttrs = changed

	deposed := &ir.Change{
		Key:       inst.Key,
		Type:      inst.Type,
		Provider:  inst.Provider,
		Action:    ir.ActionDestroy,
		Deposed:   true,
		Prior:     prior,
		Lifecycle: inst.Lifecycle,
	}

	if inst.Lifecycle.ReplaceBeforeDestroy {
		// create(new) first; the deposed destroy waits for it and for
		// every dependent to have moved off the old object.
		deposed.DependsOn = append(deposed.DependsOn, create.OpID())
		for _, dep := range graph.Dependents(inst.Key) {
			deposed.DependsOn = append(deposed.DependsOn, dep.String())
		}
		return []*ir.Change{create, deposed}, nil
	}

	// Default policy: destroy(old) first, then create(new).
	create.DependsOn = append(append([]string{}, depIDs...), deposed.OpID())
	return []*ir.Change{deposed, create}, nil
}

// changedAttrs compares each desired attribute against the prior
// record. References resolve from the referenced instance's record when
// that instance is planned no-op; anything pending apply is unknown and
// counts as changed.
func (p *Planner) changedAttrs(inst *ir.Instance, prior *ir.Record, scope *planScope) ([]string, error) {
	var changed []string
	names := make([]string, 0, len(inst.Attributes))
	for name := range inst.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, err := expr.Eval(inst.Attributes[name], scope)
		if errors.Is(err, errUnknown) {
			changed = append(changed, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", inst.Key, name, err)
		}
		if !jsonEqual(v, prior.Attributes[name]) {
			changed = append(changed, name)
		}
	}
	return changed, nil
}

// planRemoved emits destroys for state records whose declarations are
// gone. Destroys run in reverse dependency order: a record is destroyed
// only after every removed record that depended on it. With targets
// set, only matching records are destroyed; matches are cleared from
// unmatched.
func (p *Planner) planRemoved(ctx context.Context, instances []*ir.Instance, unmatched map[string]bool) ([]*ir.Change, error) {
	declared := make(map[string]bool, len(instances))
	for _, inst := range instances {
		declared[inst.Key.String()] = true
	}

	recs, err := p.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list state: %w", err)
	}

	removed := make(map[string]*ir.Record)
	for _, rec := range recs {
		if !declared[rec.Key] {
			removed[rec.Key] = rec
		}
	}
	if len(p.Targets) > 0 {
		for key := range removed {
			ik, err := ir.ParseInstanceKey(key)
			if err != nil {
				return nil, err
			}
			hit := false
			for _, t := range p.Targets {
				if ik.Name == t || key == t {
					hit = true
					delete(unmatched, t)
				}
			}
			if !hit {
				delete(removed, key)
			}
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	// Transpose recorded dependencies: destroy(B) waits on destroy(A)
	// for every removed A that depended on B.
	waitsOn := make(map[string][]string, len(removed))
	for key, rec := range removed {
		for _, dep := range rec.Dependencies {
			if _, ok := removed[dep]; ok {
				waitsOn[dep] = append(waitsOn[dep], key)
			}
		}
	}

	keys := make([]string, 0, len(removed))
	for key := range removed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Order for display: dependents before dependencies.
	ordered := make([]string, 0, len(keys))
	emitted := make(map[string]bool, len(keys))
	var emit func(key string)
	emit = func(key string) {
		if emitted[key] {
			return
		}
		emitted[key] = true
		for _, w := range waitsOn[key] {
			emit(w)
		}
		ordered = append(ordered, key)
	}
	for _, key := range keys {
		emit(key)
	}

	changes := make([]*ir.Change, 0, len(ordered))
	for _, key := range ordered {
		rec := removed[key]
		ik, err := ir.ParseInstanceKey(key)
		if err != nil {
			return nil, err
		}
		if rec.LastAppliedAt.IsZero() {
			rec.LastAppliedAt = time.Now().UTC()
		}
		deps := append([]string{}, waitsOn[key]...)
		sort.Strings(deps)
		changes = append(changes, &ir.Change{
			Key:       ik,
			Type:      rec.Type,
			Provider:  rec.Provider,
			Action:    ir.ActionDestroy,
			DependsOn: deps,
			Prior:     rec,
		})
	}
	return changes, nil
}

// planScope resolves references at plan time against committed state.
type planScope struct {
	ctx        context.Context
	store      state.Store
	actions    map[ir.InstanceKey]ir.Action
	declByName map[string]*ir.Declaration
}

func (s *planScope) Attribute(target string, index int, attr string) (any, error) {
	decl, ok := s.declByName[target]
	if !ok {
		return nil, fmt.Errorf("reference to undeclared %q", target)
	}
	if index < 0 && decl.Counted() {
		// Unindexed reference to a counted target is the collection.
		return s.Collection(target, attr)
	}
	key := ir.InstanceKey{Name: target, Index: index}
	if !decl.Counted() {
		key.Index = ir.SingletonIndex
	}
	return s.attributeOf(key, attr)
}

func (s *planScope) Collection(target string, attr string) ([]any, error) {
	decl, ok := s.declByName[target]
	if !ok {
		return nil, fmt.Errorf("reference to undeclared %q", target)
	}
	out := make([]any, 0, decl.NumInstances())
	for _, key := range instanceKeys(decl) {
		v, err := s.attributeOf(key, attr)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *planScope) attributeOf(key ir.InstanceKey, attr string) (any, error) {
	// Instances planned earlier in topological order have a decided
	// action; anything other than no-op means the value may change.
	if action, ok := s.actions[key]; !ok || action != ir.ActionNoOp {
		return nil, errUnknown
	}
	rec, ok, err := s.store.Get(s.ctx, key.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errUnknown
	}
	v, ok := rec.Attributes[attr]
	if !ok {
		return nil, errUnknown
	}
	return v, nil
}

// jsonEqual compares two values by canonical JSON encoding, which
// normalizes numeric representations across decode paths.
func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
