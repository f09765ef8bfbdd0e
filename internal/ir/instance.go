package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strata-io/strata/internal/expr"
)

// SingletonIndex marks the index of an uncounted declaration's only
// instance.
const SingletonIndex = -1

// InstanceKey identifies one expansion of a declaration. Identity is
// stable across the instance's whole lifetime; only attribute values
// change between applies.
type InstanceKey struct {
	Name  string
	Index int // SingletonIndex for uncounted declarations
}

// String renders "name" for singletons and "name[i]" for counted
// instances. The rendering is the durable state key and the key used in
// plan and apply reports.
func (k InstanceKey) String() string {
	if k.Index == SingletonIndex {
		return k.Name
	}
	return fmt.Sprintf("%s[%d]", k.Name, k.Index)
}

// ParseInstanceKey is the inverse of InstanceKey.String.
func ParseInstanceKey(s string) (InstanceKey, error) {
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return InstanceKey{}, fmt.Errorf("malformed instance key %q", s)
		}
		idx, err := strconv.Atoi(s[i+1 : len(s)-1])
		if err != nil || idx < 0 {
			return InstanceKey{}, fmt.Errorf("malformed instance key %q", s)
		}
		return InstanceKey{Name: s[:i], Index: idx}, nil
	}
	return InstanceKey{Name: s, Index: SingletonIndex}, nil
}

// Instance is one concrete expansion of a declaration. Its attribute
// expressions have count.index already substituted.
type Instance struct {
	Key        InstanceKey
	Type       string
	Provider   string
	Attributes map[string]expr.Value
	Lifecycle  Lifecycle

	// DeclOrder is the position of the parent declaration in the
	// declaration set. It breaks topological-order ties so plans are
	// deterministic across runs on unchanged input.
	DeclOrder int
}
