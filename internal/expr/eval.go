package expr

import (
	"fmt"
)

// Scope supplies resolved instance attributes during evaluation.
// Attribute resolves a single instance (index < 0 means the singleton
// instance); Collection resolves one value per instance of a counted
// target, ordered by index.
type Scope interface {
	Attribute(target string, index int, attr string) (any, error)
	Collection(target string, attr string) ([]any, error)
}

// Eval reduces an expression tree to a plain Go value against the scope.
// Count placeholders must have been substituted away by expansion.
func Eval(v Value, scope Scope) (any, error) {
	switch val := v.(type) {
	case Literal:
		return GoValue(val.Val)
	case CountIndex:
		return nil, fmt.Errorf("count.index used outside a counted resource")
	case Reference:
		if val.Splat {
			return scope.Collection(val.Target, val.Attr)
		}
		index := -1
		if val.Index != nil {
			iv, err := Eval(val.Index, scope)
			if err != nil {
				return nil, fmt.Errorf("index of %s: %w", val.Target, err)
			}
			i, err := toInt(iv)
			if err != nil {
				return nil, fmt.Errorf("index of %s: %w", val.Target, err)
			}
			index = i
		}
		return scope.Attribute(val.Target, index, val.Attr)
	case Call:
		args := make([]any, len(val.Args))
		for i, a := range val.Args {
			av, err := Eval(a, scope)
			if err != nil {
				return nil, err
			}
			args[i] = av
		}
		return callFunc(val.Func, args)
	case Tuple:
		out := make([]any, len(val.Elems))
		for i, e := range val.Elems {
			ev, err := Eval(e, scope)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case Object:
		out := make(map[string]any, len(val.Attrs))
		for k, a := range val.Attrs {
			av, err := Eval(a, scope)
			if err != nil {
				return nil, err
			}
			out[k] = av
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown expression node %T", v)
	}
}

// LiteralInt evaluates v with no scope and requires an integer result.
// Used for count attributes and explicit reference indices.
func LiteralInt(v Value) (int, error) {
	gv, err := Eval(v, nopScope{})
	if err != nil {
		return 0, err
	}
	return toInt(gv)
}

type nopScope struct{}

func (nopScope) Attribute(target string, index int, attr string) (any, error) {
	return nil, fmt.Errorf("reference to %s not allowed here", target)
}

func (nopScope) Collection(target string, attr string) ([]any, error) {
	return nil, fmt.Errorf("reference to %s not allowed here", target)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
