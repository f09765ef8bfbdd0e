package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/strata-io/strata/internal/expr"
)

// translateExpr converts an HCL syntax expression into the engine's
// expression tree. Only the forms the declaration language supports
// survive: literals, references (indexed, splat), count.index, builtin
// calls, tuples, objects, string templates, and +/- arithmetic.
func translateExpr(e hclsyntax.Expression) (expr.Value, error) {
	switch ex := e.(type) {
	case *hclsyntax.LiteralValueExpr:
		return expr.Literal{Val: ex.Val}, nil

	case *hclsyntax.TemplateExpr:
		return translateTemplate(ex)

	case *hclsyntax.TemplateWrapExpr:
		return translateExpr(ex.Wrapped)

	case *hclsyntax.ScopeTraversalExpr:
		return translateTraversal(ex.Traversal)

	case *hclsyntax.RelativeTraversalExpr:
		return translateRelative(ex)

	case *hclsyntax.SplatExpr:
		return translateSplat(ex)

	case *hclsyntax.FunctionCallExpr:
		if !expr.IsBuiltin(ex.Name) {
			return nil, fmt.Errorf("unknown function %q", ex.Name)
		}
		args := make([]expr.Value, len(ex.Args))
		for i, a := range ex.Args {
			av, err := translateExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = av
		}
		return expr.Call{Func: ex.Name, Args: args}, nil

	case *hclsyntax.BinaryOpExpr:
		var fn string
		switch ex.Op {
		case hclsyntax.OpAdd:
			fn = "add"
		case hclsyntax.OpSubtract:
			fn = "sub"
		default:
			return nil, fmt.Errorf("unsupported operator")
		}
		lhs, err := translateExpr(ex.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := translateExpr(ex.RHS)
		if err != nil {
			return nil, err
		}
		return expr.Call{Func: fn, Args: []expr.Value{lhs, rhs}}, nil

	case *hclsyntax.TupleConsExpr:
		elems := make([]expr.Value, len(ex.Exprs))
		for i, item := range ex.Exprs {
			v, err := translateExpr(item)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return expr.Tuple{Elems: elems}, nil

	case *hclsyntax.ObjectConsExpr:
		attrs := make(map[string]expr.Value, len(ex.Items))
		for _, item := range ex.Items {
			key, err := objectKey(item.KeyExpr)
			if err != nil {
				return nil, err
			}
			v, err := translateExpr(item.ValueExpr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			attrs[key] = v
		}
		return expr.Object{Attrs: attrs}, nil

	case *hclsyntax.ParenthesesExpr:
		return translateExpr(ex.Expression)

	default:
		return nil, fmt.Errorf("unsupported expression at %s", e.Range())
	}
}

// translateTraversal handles main.id, public[0].id, and count.index.
func translateTraversal(tr hcl.Traversal) (expr.Value, error) {
	root, ok := tr[0].(hcl.TraverseRoot)
	if !ok {
		return nil, fmt.Errorf("unsupported reference at %s", tr.SourceRange())
	}

	if root.Name == "count" {
		if len(tr) == 2 {
			if attr, ok := tr[1].(hcl.TraverseAttr); ok && attr.Name == "index" {
				return expr.CountIndex{}, nil
			}
		}
		return nil, fmt.Errorf("unsupported count reference at %s", tr.SourceRange())
	}

	switch len(tr) {
	case 2:
		attr, ok := tr[1].(hcl.TraverseAttr)
		if !ok {
			return nil, fmt.Errorf("unsupported reference at %s", tr.SourceRange())
		}
		return expr.Ref(root.Name, attr.Name), nil
	case 3:
		idx, okIdx := tr[1].(hcl.TraverseIndex)
		attr, okAttr := tr[2].(hcl.TraverseAttr)
		if !okIdx || !okAttr {
			return nil, fmt.Errorf("unsupported reference at %s", tr.SourceRange())
		}
		i, _ := idx.Key.AsBigFloat().Int64()
		return expr.RefIndex(root.Name, expr.Num(int(i)), attr.Name), nil
	default:
		return nil, fmt.Errorf("unsupported reference at %s", tr.SourceRange())
	}
}

// translateRelative handles target[<expr>].attr, where the index is not
// a literal (count.index, arithmetic).
func translateRelative(ex *hclsyntax.RelativeTraversalExpr) (expr.Value, error) {
	idx, ok := ex.Source.(*hclsyntax.IndexExpr)
	if !ok {
		return nil, fmt.Errorf("unsupported expression at %s", ex.Range())
	}
	coll, ok := idx.Collection.(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(coll.Traversal) != 1 {
		return nil, fmt.Errorf("unsupported expression at %s", ex.Range())
	}
	root, ok := coll.Traversal[0].(hcl.TraverseRoot)
	if !ok {
		return nil, fmt.Errorf("unsupported expression at %s", ex.Range())
	}
	if len(ex.Traversal) != 1 {
		return nil, fmt.Errorf("unsupported expression at %s", ex.Range())
	}
	attr, ok := ex.Traversal[0].(hcl.TraverseAttr)
	if !ok {
		return nil, fmt.Errorf("unsupported expression at %s", ex.Range())
	}
	key, err := translateExpr(idx.Key)
	if err != nil {
		return nil, err
	}
	return expr.RefIndex(root.Name, key, attr.Name), nil
}

// translateSplat handles target[*].attr.
func translateSplat(ex *hclsyntax.SplatExpr) (expr.Value, error) {
	src, ok := ex.Source.(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(src.Traversal) != 1 {
		return nil, fmt.Errorf("unsupported splat at %s", ex.Range())
	}
	root, ok := src.Traversal[0].(hcl.TraverseRoot)
	if !ok {
		return nil, fmt.Errorf("unsupported splat at %s", ex.Range())
	}
	each, ok := ex.Each.(*hclsyntax.RelativeTraversalExpr)
	if !ok || len(each.Traversal) != 1 {
		return nil, fmt.Errorf("unsupported splat at %s", ex.Range())
	}
	attr, ok := each.Traversal[0].(hcl.TraverseAttr)
	if !ok {
		return nil, fmt.Errorf("unsupported splat at %s", ex.Range())
	}
	return expr.RefSplat(root.Name, attr.Name), nil
}

// translateTemplate turns "${a}-${b}" into format("%v-%v", a, b);
// all-literal templates collapse to a string literal.
func translateTemplate(ex *hclsyntax.TemplateExpr) (expr.Value, error) {
	if ex.IsStringLiteral() {
		v, diags := ex.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("template: %w", diags)
		}
		return expr.Literal{Val: v}, nil
	}

	var pattern strings.Builder
	var args []expr.Value
	for _, part := range ex.Parts {
		if lit, ok := part.(*hclsyntax.LiteralValueExpr); ok {
			pattern.WriteString(strings.ReplaceAll(lit.Val.AsString(), "%", "%%"))
			continue
		}
		v, err := translateExpr(part)
		if err != nil {
			return nil, err
		}
		pattern.WriteString("%v")
		args = append(args, v)
	}
	return expr.Call{
		Func: "format",
		Args: append([]expr.Value{expr.Str(pattern.String())}, args...),
	}, nil
}

func objectKey(e hclsyntax.Expression) (string, error) {
	if wrap, ok := e.(*hclsyntax.ObjectConsKeyExpr); ok {
		if kw := hcl.ExprAsKeyword(wrap.Wrapped); kw != "" {
			return kw, nil
		}
		e = wrap.Wrapped
	}
	v, diags := e.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("object key must be a literal: %w", diags)
	}
	return v.AsString(), nil
}

// keywordOrString accepts provider = aws and provider = "aws".
func keywordOrString(e hclsyntax.Expression) (string, error) {
	if kw := hcl.ExprAsKeyword(e); kw != "" {
		return kw, nil
	}
	v, diags := e.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("must be a name or string: %w", diags)
	}
	return v.AsString(), nil
}

// traversalList decodes depends_on = [a, b] into local names.
func traversalList(e hclsyntax.Expression) ([]string, error) {
	tup, ok := e.(*hclsyntax.TupleConsExpr)
	if !ok {
		return nil, fmt.Errorf("must be a list of resource names")
	}
	names := make([]string, 0, len(tup.Exprs))
	for _, item := range tup.Exprs {
		if kw := hcl.ExprAsKeyword(item); kw != "" {
			names = append(names, kw)
			continue
		}
		v, diags := item.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("must be a list of resource names: %w", diags)
		}
		names = append(names, v.AsString())
	}
	return names, nil
}
