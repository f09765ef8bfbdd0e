package engine

import (
	"fmt"

	"github.com/strata-io/strata/internal/expr"
	"github.com/strata-io/strata/internal/ir"
)

// Expand turns declarations into concrete instances. A declaration with
// count N yields instances 0..N-1 with count.index substituted in every
// attribute expression; a declaration without count yields one
// singleton instance. count = 0 is valid and yields nothing.
func Expand(decls []*ir.Declaration) ([]*ir.Instance, error) {
	seen := make(map[string]bool, len(decls))
	var instances []*ir.Instance

	for order, decl := range decls {
		if seen[decl.LocalName] {
			return nil, fmt.Errorf("duplicate declaration %q", decl.LocalName)
		}
		seen[decl.LocalName] = true

		if decl.Count != nil && *decl.Count < 0 {
			return nil, fmt.Errorf("declaration %q has negative count %d", decl.LocalName, *decl.Count)
		}

		if !decl.Counted() {
			instances = append(instances, &ir.Instance{
				Key:        ir.InstanceKey{Name: decl.LocalName, Index: ir.SingletonIndex},
				Type:       decl.Type,
				Provider:   decl.Provider,
				Attributes: decl.Attributes,
				Lifecycle:  decl.Lifecycle,
				DeclOrder:  order,
			})
			continue
		}

		for i := 0; i < *decl.Count; i++ {
			attrs := make(map[string]expr.Value, len(decl.Attributes))
			for name, v := range decl.Attributes {
				attrs[name] = expr.SubstituteIndex(v, i)
			}
			instances = append(instances, &ir.Instance{
				Key:        ir.InstanceKey{Name: decl.LocalName, Index: i},
				Type:       decl.Type,
				Provider:   decl.Provider,
				Attributes: attrs,
				Lifecycle:  decl.Lifecycle,
				DeclOrder:  order,
			})
		}
	}

	return instances, nil
}
