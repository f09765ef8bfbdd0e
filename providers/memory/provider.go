// Package memory is an in-process provider for tests and dry runs. It
// fabricates deterministic identifiers, keeps every created object in a
// map, and can be scripted to fail specific operations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

// Call records one Execute invocation, in arrival order.
type Call struct {
	Action ir.Action
	Key    ir.InstanceKey
	Type   string
}

// Provider implements provider.Interface entirely in memory.
type Provider struct {
	mu      sync.Mutex
	serial  int
	objects map[string]map[string]any // provider ID -> attributes
	calls   []Call

	// FailWith scripts a failure for an instance key string; Execute
	// returns the error instead of acting. Consumed on use, so a retry
	// after a transient failure succeeds.
	FailWith map[string]error

	// ImmutableAttrs augments the built-in schema per resource type.
	ImmutableAttrs map[string][]string
}

// New returns an empty provider.
func New() *Provider {
	return &Provider{
		objects:        make(map[string]map[string]any),
		FailWith:       make(map[string]error),
		ImmutableAttrs: make(map[string][]string),
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

// Built-in immutable attributes mirror what real cloud resources cannot
// change in place.
var defaultImmutable = map[string][]string{
	"network":          {"cidr_block"},
	"subnet":           {"cidr_block", "availability_zone", "network_id"},
	"compute-instance": {"image", "subnet_id"},
	"launch-template":  {"image"},
}

func (p *Provider) Schema(resourceType string) provider.Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	var attrs []string
	attrs = append(attrs, defaultImmutable[resourceType]...)
	attrs = append(attrs, p.ImmutableAttrs[resourceType]...)
	return provider.Schema{Immutable: attrs}
}

func (p *Provider) Execute(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Action: op.Action, Key: op.Key, Type: op.Type})

	key := op.Key.String()
	if err, ok := p.FailWith[key]; ok {
		delete(p.FailWith, key)
		return nil, err
	}

	switch op.Action {
	case ir.ActionCreate:
		p.serial++
		id := fmt.Sprintf("mem-%s-%d", op.Type, p.serial)
		attrs := p.computed(op.Type, id, op.Desired)
		p.objects[id] = attrs
		return &provider.Result{ProviderID: id, Attributes: attrs}, nil

	case ir.ActionUpdate:
		if op.Prior == nil {
			return nil, provider.Permanent(key, fmt.Errorf("update without prior state"))
		}
		id := op.Prior.ProviderID
		if _, ok := p.objects[id]; !ok {
			return nil, provider.Permanent(key, fmt.Errorf("object %s: %w", id, provider.ErrUnknownID))
		}
		attrs := p.computed(op.Type, id, op.Desired)
		p.objects[id] = attrs
		return &provider.Result{ProviderID: id, Attributes: attrs}, nil

	case ir.ActionDestroy:
		if op.Prior != nil {
			delete(p.objects, op.Prior.ProviderID)
		}
		return nil, nil

	default:
		return nil, provider.Permanent(key, fmt.Errorf("unsupported action %s", op.Action))
	}
}

// computed merges the desired attributes with the values only the
// provider can know, the way a cloud API returns read-only fields.
func (p *Provider) computed(resourceType, id string, desired map[string]any) map[string]any {
	attrs := make(map[string]any, len(desired)+2)
	for k, v := range desired {
		attrs[k] = v
	}
	attrs["id"] = id
	switch resourceType {
	case "load-balancer":
		attrs["dns_name"] = fmt.Sprintf("%s.lb.mem.internal", id)
	case "cdn-distribution":
		attrs["domain_name"] = fmt.Sprintf("%s.cdn.mem.internal", id)
	case "object-store-bucket":
		attrs["regional_domain_name"] = fmt.Sprintf("%s.store.mem.internal", id)
	}
	return attrs
}

// Calls returns a copy of the Execute log.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many Execute calls arrived for key.
func (p *Provider) CallCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Key.String() == key {
			n++
		}
	}
	return n
}

// Object returns the live attributes of a provider ID.
func (p *Provider) Object(id string) (map[string]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs, ok := p.objects[id]
	return attrs, ok
}

// ObjectCount returns how many objects currently exist.
func (p *Provider) ObjectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}
