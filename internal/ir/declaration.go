// Package ir holds the typed in-memory representation the engine works
// on: resource declarations as handed over by the configuration loader,
// their expanded instances, planned changes, and durable state records.
package ir

import (
	"github.com/strata-io/strata/internal/expr"
)

// Declaration is one typed resource declaration. LocalName is unique
// across the whole declaration set and is what references name.
type Declaration struct {
	Type      string
	LocalName string
	Provider  string

	// Count is nil for singletons. A present count of N expands into N
	// instances with indices 0..N-1.
	Count *int

	Attributes map[string]expr.Value
	Lifecycle  Lifecycle

	// DependsOn lists local names of declarations that must be ordered
	// before this one even without an attribute reference.
	DependsOn []string
}

// Lifecycle captures per-resource plan policies.
type Lifecycle struct {
	// ReplaceBeforeDestroy orders the replacement create before the
	// destroy of the old instance when an immutable attribute changes.
	ReplaceBeforeDestroy bool

	// PreventDestroy fails the plan instead of emitting a destroy.
	PreventDestroy bool
}

// NumInstances returns how many instances the declaration expands into.
func (d *Declaration) NumInstances() int {
	if d.Count == nil {
		return 1
	}
	return *d.Count
}

// Counted reports whether the declaration carries an explicit count.
func (d *Declaration) Counted() bool {
	return d.Count != nil
}

// ConfigSet is the validated declaration tree plus named outputs,
// as produced by the configuration front-end.
type ConfigSet struct {
	Declarations []*Declaration
	Outputs      map[string]expr.Value

	// ProviderSettings maps provider name to its configuration block,
	// e.g. {"aws": {"region": "us-east-2"}}.
	ProviderSettings map[string]map[string]string
}

// Declaration looks up a declaration by local name.
func (c *ConfigSet) Declaration(localName string) (*Declaration, bool) {
	for _, d := range c.Declarations {
		if d.LocalName == localName {
			return d, true
		}
	}
	return nil, false
}
