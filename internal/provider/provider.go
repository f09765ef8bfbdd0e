// Package provider defines the capability boundary between the engine
// and the systems that actually provision resources. The engine only
// ever sees this interface; concrete adapters live under providers/.
package provider

import (
	"context"

	"github.com/strata-io/strata/internal/ir"
)

// Interface is the capability a resource provider exposes.
//
// Execute must be safe to retry for creates as long as the engine has
// not recorded success. Failures whose outcome is unknowable (the
// request may or may not have taken effect remotely) must be returned
// as an Error with ClassAmbiguous; the engine never retries those.
type Interface interface {
	// Configure prepares the provider with its settings block, e.g.
	// {"region": "us-east-2"}. Called once before any Execute.
	Configure(ctx context.Context, settings map[string]string) error

	// Schema describes plan-relevant traits of a resource type.
	Schema(resourceType string) Schema

	// Execute performs one create, update, or destroy operation and
	// returns the remote identifier plus the resolved attributes.
	// Destroy operations return a nil Result on success.
	Execute(ctx context.Context, op *ir.Operation) (*Result, error)
}

// Result is a successful Execute outcome.
type Result struct {
	ProviderID string
	Attributes map[string]any
}

// Schema describes which declared attribute paths cannot change in
// place. A diff on an immutable attribute forces replacement.
type Schema struct {
	Immutable []string
}

// IsImmutable reports whether attr can only change via replacement.
func (s Schema) IsImmutable(attr string) bool {
	for _, a := range s.Immutable {
		if a == attr {
			return true
		}
	}
	return false
}
