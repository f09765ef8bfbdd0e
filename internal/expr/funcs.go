package expr

import (
	"fmt"
	"net"
	"strings"

	"github.com/apparentlymart/go-cidr/cidr"
)

// IsBuiltin reports whether name is a known builtin function.
func IsBuiltin(name string) bool {
	switch name {
	case "cidrsubnet", "element", "format", "concat", "join", "add", "sub":
		return true
	}
	return false
}

func callFunc(name string, args []any) (any, error) {
	switch name {
	case "cidrsubnet":
		return cidrSubnet(args)
	case "element":
		return element(args)
	case "format":
		return formatFunc(args)
	case "concat":
		return concatFunc(args)
	case "join":
		return joinFunc(args)
	case "add":
		return arith(args, func(a, b int) int { return a + b })
	case "sub":
		return arith(args, func(a, b int) int { return a - b })
	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

// cidrSubnet carves the netnum-th subnet of prefix extended by newbits,
// e.g. cidrsubnet("10.0.0.0/16", 8, 1) == "10.0.1.0/24".
func cidrSubnet(args []any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("cidrsubnet expects 3 arguments, got %d", len(args))
	}
	prefix, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("cidrsubnet: prefix must be a string")
	}
	newbits, err := toInt(args[1])
	if err != nil {
		return nil, fmt.Errorf("cidrsubnet: %w", err)
	}
	netnum, err := toInt(args[2])
	if err != nil {
		return nil, fmt.Errorf("cidrsubnet: %w", err)
	}
	_, base, err := net.ParseCIDR(prefix)
	if err != nil {
		return nil, fmt.Errorf("cidrsubnet: invalid prefix %q: %w", prefix, err)
	}
	sub, err := cidr.Subnet(base, newbits, netnum)
	if err != nil {
		return nil, fmt.Errorf("cidrsubnet: %w", err)
	}
	return sub.String(), nil
}

// element selects list[index % len(list)], matching the wraparound
// behavior configurations rely on when count exceeds the list length.
func element(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("element expects 2 arguments, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("element: first argument must be a list")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("element: cannot select from empty list")
	}
	index, err := toInt(args[1])
	if err != nil {
		return nil, fmt.Errorf("element: %w", err)
	}
	if index < 0 {
		return nil, fmt.Errorf("element: index must not be negative")
	}
	return list[index%len(list)], nil
}

func formatFunc(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("format expects at least 1 argument")
	}
	spec, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("format: first argument must be a string")
	}
	return fmt.Sprintf(spec, args[1:]...), nil
}

func concatFunc(args []any) (any, error) {
	var out []any
	for i, a := range args {
		list, ok := a.([]any)
		if !ok {
			return nil, fmt.Errorf("concat: argument %d is not a list", i+1)
		}
		out = append(out, list...)
	}
	return out, nil
}

func joinFunc(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("join expects 2 arguments, got %d", len(args))
	}
	sep, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("join: separator must be a string")
	}
	list, ok := args[1].([]any)
	if !ok {
		return nil, fmt.Errorf("join: second argument must be a list")
	}
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = fmt.Sprintf("%v", e)
	}
	return strings.Join(parts, sep), nil
}

func arith(args []any, op func(a, b int) int) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 operands, got %d", len(args))
	}
	a, err := toInt(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toInt(args[1])
	if err != nil {
		return nil, err
	}
	return int64(op(a, b)), nil
}
