package expr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapScope resolves attributes from a fixed table keyed by
// "target[index].attr" (index -1 for singletons).
type mapScope struct {
	attrs       map[string]any
	collections map[string][]any
}

func (s mapScope) Attribute(target string, index int, attr string) (any, error) {
	v, ok := s.attrs[fmt.Sprintf("%s[%d].%s", target, index, attr)]
	if !ok {
		return nil, fmt.Errorf("no value for %s[%d].%s", target, index, attr)
	}
	return v, nil
}

func (s mapScope) Collection(target string, attr string) ([]any, error) {
	v, ok := s.collections[target+"."+attr]
	if !ok {
		return nil, fmt.Errorf("no collection for %s.%s", target, attr)
	}
	return v, nil
}

func TestEval_Literals(t *testing.T) {
	v, err := Eval(Str("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = Eval(Num(42), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = Eval(Bool(true), nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEval_References(t *testing.T) {
	scope := mapScope{
		attrs: map[string]any{
			"main[-1].id":  "vpc-1",
			"public[1].id": "subnet-2",
		},
		collections: map[string][]any{
			"public.id": {"subnet-1", "subnet-2"},
		},
	}

	v, err := Eval(Ref("main", "id"), scope)
	require.NoError(t, err)
	assert.Equal(t, "vpc-1", v)

	v, err = Eval(RefIndex("public", Num(1), "id"), scope)
	require.NoError(t, err)
	assert.Equal(t, "subnet-2", v)

	v, err = Eval(RefSplat("public", "id"), scope)
	require.NoError(t, err)
	assert.Equal(t, []any{"subnet-1", "subnet-2"}, v)
}

func TestEval_CountIndexOutsideCountedResource(t *testing.T) {
	_, err := Eval(CountIndex{}, nil)
	require.Error(t, err)
}

func TestEval_CidrSubnet(t *testing.T) {
	v, err := Eval(Call{
		Func: "cidrsubnet",
		Args: []Value{Str("10.0.0.0/16"), Num(8), Num(1)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", v)

	// Offset index, the pattern counted private subnets use.
	v, err = Eval(Call{
		Func: "cidrsubnet",
		Args: []Value{Str("10.0.0.0/16"), Num(8), Call{Func: "add", Args: []Value{Num(0), Num(2)}}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.2.0/24", v)
}

func TestEval_ElementWrapsAround(t *testing.T) {
	azs := Tuple{Elems: []Value{Str("us-east-2a"), Str("us-east-2b")}}

	v, err := Eval(Call{Func: "element", Args: []Value{azs, Num(3)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "us-east-2b", v)

	_, err = Eval(Call{Func: "element", Args: []Value{Tuple{}, Num(0)}}, nil)
	require.Error(t, err)
}

func TestEval_FormatAndJoin(t *testing.T) {
	v, err := Eval(Call{Func: "format", Args: []Value{Str("app-%v"), Num(3)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "app-3", v)

	v, err = Eval(Call{
		Func: "join",
		Args: []Value{Str(","), Tuple{Elems: []Value{Str("a"), Str("b")}}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a,b", v)
}

func TestSubstituteIndex(t *testing.T) {
	v := Call{
		Func: "cidrsubnet",
		Args: []Value{Str("10.0.0.0/16"), Num(8), CountIndex{}},
	}

	got, err := Eval(SubstituteIndex(v, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", got)

	// Substitution reaches into reference index expressions too.
	ref := RefIndex("azs", CountIndex{}, "name")
	sub := SubstituteIndex(ref, 0).(Reference)
	idx, err := LiteralInt(sub.Index)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestReferences(t *testing.T) {
	v := Call{
		Func: "format",
		Args: []Value{
			Str("%v-%v"),
			Ref("main", "id"),
			Object{Attrs: map[string]Value{"lb": RefSplat("public", "id")}},
		},
	}
	refs := References(v)
	require.Len(t, refs, 2)

	targets := []string{refs[0].Target, refs[1].Target}
	assert.Contains(t, targets, "main")
	assert.Contains(t, targets, "public")
}

func TestLiteralInt_RejectsReferences(t *testing.T) {
	_, err := LiteralInt(Ref("main", "id"))
	require.Error(t, err)
}
