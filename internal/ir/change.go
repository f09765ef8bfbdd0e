package ir

import (
	"github.com/strata-io/strata/internal/expr"
)

// Action is the kind of change planned for an instance.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionNoOp    Action = "no-op"
)

// Change is one schedulable operation of a plan. A replacement
// decomposes into a create Change and a destroy Change whose relative
// order encodes the lifecycle policy; the destroy half carries Deposed.
type Change struct {
	Key      InstanceKey
	Type     string
	Provider string
	Action   Action

	// Deposed marks the destroy half of a replacement, which targets
	// the old remote object while the same key's create half targets
	// the new one.
	Deposed bool

	// DependsOn lists operation IDs that must reach a terminal state
	// before this change may start.
	DependsOn []string

	// InstanceDeps lists the instance keys this instance's attributes
	// reference; recorded into state so removed resources can still be
	// destroyed in order on later runs.
	InstanceDeps []string

	// Desired still contains reference expressions; the apply engine
	// resolves them against just-committed dependency state. Nil for
	// plain destroys.
	Desired map[string]expr.Value

	// Prior is the state record the change was planned against, nil
	// for creates.
	Prior *Record

	Lifecycle Lifecycle

	// ChangedAttrs names the attribute paths that differ, for report
	// rendering. Empty for creates and destroys.
	ChangedAttrs []string
}

// OpID uniquely identifies the change within its plan.
func (c *Change) OpID() string {
	if c.Deposed {
		return c.Key.String() + " (deposed)"
	}
	return c.Key.String()
}

// Plan is an ordered change-set. Changes appear in a valid execution
// order (dependencies before dependents) for rendering purposes; the
// apply engine schedules by DependsOn, not by slice position.
type Plan struct {
	Changes []*Change
	Summary Summary

	// Outputs are the named output expressions, evaluated only after a
	// fully successful apply.
	Outputs map[string]expr.Value
}

// Summary counts planned changes by action.
type Summary struct {
	Create  int
	Update  int
	Destroy int
	Replace int
	NoOp    int
}

// Empty reports whether the plan contains no work.
func (p *Plan) Empty() bool {
	for _, c := range p.Changes {
		if c.Action != ActionNoOp {
			return false
		}
	}
	return true
}

// Operation is the provider-facing form of a change: all references
// resolved to concrete values.
type Operation struct {
	Key     InstanceKey
	Type    string
	Action  Action
	Desired map[string]any
	Prior   *Record
}
