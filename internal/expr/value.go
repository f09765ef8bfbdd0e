// Package expr models resource attribute values as a small expression
// tree. Attribute values are either concrete literals, references to
// another resource instance's attributes, or calls to builtin functions
// (CIDR math, element selection, formatting). Trees are built once by the
// configuration loader and evaluated lazily against a Scope once the
// referenced instances have known values.
package expr

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Value is one node of an attribute expression tree.
type Value interface {
	value()
}

// Literal is a concrete scalar, list, or map value.
type Literal struct {
	Val cty.Value
}

// Reference points at an attribute of another resource instance.
// Index selects a single instance of a counted target; Splat denotes
// the whole collection (one element per instance, in index order).
type Reference struct {
	Target string // local name of the target declaration
	Attr   string
	Index  Value // optional index expression; nil for singleton targets
	Splat  bool  // target[*].attr form
}

// CountIndex is the count.index placeholder inside a counted declaration.
// Expansion substitutes it with a literal before anything evaluates it.
type CountIndex struct{}

// Call applies a builtin function to argument expressions.
type Call struct {
	Func string
	Args []Value
}

// Tuple is a list whose elements may themselves be expressions.
type Tuple struct {
	Elems []Value
}

// Object is a map whose values may themselves be expressions.
type Object struct {
	Attrs map[string]Value
}

func (Literal) value()    {}
func (Reference) value()  {}
func (CountIndex) value() {}
func (Call) value()       {}
func (Tuple) value()      {}
func (Object) value()     {}

// Str returns a string literal.
func Str(s string) Literal { return Literal{Val: cty.StringVal(s)} }

// Num returns a numeric literal.
func Num(n int) Literal { return Literal{Val: cty.NumberIntVal(int64(n))} }

// Bool returns a boolean literal.
func Bool(b bool) Literal { return Literal{Val: cty.BoolVal(b)} }

// Ref returns a singleton reference expression.
func Ref(target, attr string) Reference { return Reference{Target: target, Attr: attr} }

// RefIndex returns an indexed reference expression.
func RefIndex(target string, index Value, attr string) Reference {
	return Reference{Target: target, Attr: attr, Index: index}
}

// RefSplat returns a collection reference expression.
func RefSplat(target, attr string) Reference {
	return Reference{Target: target, Attr: attr, Splat: true}
}

// SubstituteIndex replaces every count.index placeholder in v with the
// concrete instance index.
func SubstituteIndex(v Value, index int) Value {
	switch val := v.(type) {
	case CountIndex:
		return Num(index)
	case Reference:
		if val.Index != nil {
			val.Index = SubstituteIndex(val.Index, index)
		}
		return val
	case Call:
		args := make([]Value, len(val.Args))
		for i, a := range val.Args {
			args[i] = SubstituteIndex(a, index)
		}
		return Call{Func: val.Func, Args: args}
	case Tuple:
		elems := make([]Value, len(val.Elems))
		for i, e := range val.Elems {
			elems[i] = SubstituteIndex(e, index)
		}
		return Tuple{Elems: elems}
	case Object:
		attrs := make(map[string]Value, len(val.Attrs))
		for k, a := range val.Attrs {
			attrs[k] = SubstituteIndex(a, index)
		}
		return Object{Attrs: attrs}
	default:
		return v
	}
}

// References collects every Reference node in v, depth first.
func References(v Value) []Reference {
	var refs []Reference
	switch val := v.(type) {
	case Reference:
		if val.Index != nil {
			refs = append(refs, References(val.Index)...)
		}
		refs = append(refs, val)
	case Call:
		for _, a := range val.Args {
			refs = append(refs, References(a)...)
		}
	case Tuple:
		for _, e := range val.Elems {
			refs = append(refs, References(e)...)
		}
	case Object:
		for _, a := range val.Attrs {
			refs = append(refs, References(a)...)
		}
	}
	return refs
}

// GoValue converts a cty value to its plain Go representation: bool,
// string, int64 or float64, []any, or map[string]any.
func GoValue(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == 0 {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := GoValue(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			gv, err := GoValue(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", t.FriendlyName())
	}
}
