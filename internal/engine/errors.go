package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/strata-io/strata/internal/ir"
)

// Configuration errors are caught while building the plan, before any
// provider call, and abort the whole run with nothing applied.

// UnresolvedReferenceError reports a reference to a declaration that
// does not exist in the declaration set.
type UnresolvedReferenceError struct {
	From   ir.InstanceKey
	Target string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references %q, which is not declared", e.From, e.Target)
}

// IndexOutOfRangeError reports an explicit reference index outside the
// target's count.
type IndexOutOfRangeError struct {
	From   ir.InstanceKey
	Target string
	Index  int
	Count  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("%s references %s[%d], but %s has count %d",
		e.From, e.Target, e.Index, e.Target, e.Count)
}

// CyclicDependencyError reports a reference cycle, naming the node
// sequence that closes it.
type CyclicDependencyError struct {
	Cycle []ir.InstanceKey
}

func (e *CyclicDependencyError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, k := range e.Cycle {
		names[i] = k.String()
	}
	return "dependency cycle: " + strings.Join(names, " -> ")
}

// IsConfigurationError reports whether err belongs to the class of
// errors detected before any provider call.
func IsConfigurationError(err error) bool {
	var unres *UnresolvedReferenceError
	var oor *IndexOutOfRangeError
	var cyc *CyclicDependencyError
	return errors.As(err, &unres) || errors.As(err, &oor) || errors.As(err, &cyc)
}

// StateConsistencyError reports a state record whose provider identity
// the provider no longer recognizes. It is surfaced, never auto-healed:
// silently dropping the record could orphan a live remote resource.
type StateConsistencyError struct {
	Key        string
	ProviderID string
	Err        error
}

func (e *StateConsistencyError) Error() string {
	return fmt.Sprintf("state for %s references provider id %q that the provider no longer recognizes: %v",
		e.Key, e.ProviderID, e.Err)
}

func (e *StateConsistencyError) Unwrap() error { return e.Err }
