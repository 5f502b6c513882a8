package rules

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// celEngine type-checks every rule. Snapshot keys are declared as dyn
// variables, so the program cache is keyed by the declared names too.
type celEngine struct {
	programs
}

func (e celEngine) Eval(in Input, src string) (any, error) {
	vars := in.vars()
	keys := snapshotKeys(in.Snapshot)
	compiled, err := e.load(strings.Join(keys, ",")+"|"+src, func() (any, error) {
		return e.compile(src, keys)
	})
	if err != nil {
		return nil, err
	}
	out, _, err := compiled.(cel.Program).Eval(vars)
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func snapshotKeys(snapshot map[string]any) []string {
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		if !slices.Contains(reserved, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (e celEngine) compile(src string, keys []string) (cel.Program, error) {
	opts := []cel.EnvOption{
		cel.Variable("now", cel.TimestampType),
		cel.Variable("args", cel.DynType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("role", cel.StringType),
		e.helper("call", true),
	}
	for _, name := range e.funcs.Names() {
		opts = append(opts, e.helper(name, false))
	}
	for _, key := range keys {
		opts = append(opts, cel.Variable(key, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}

// helper declares name with one and two argument overloads. The dispatching
// call helper takes the helper name as its first, string, argument.
func (e celEngine) helper(name string, dispatch bool) cel.EnvOption {
	invoke := func(vals ...ref.Val) ref.Val {
		target := name
		if dispatch {
			s, ok := vals[0].Value().(string)
			if !ok {
				return types.NewErr("call: helper name is %s", vals[0].Type().TypeName())
			}
			target, vals = s, vals[1:]
		}
		args := make([]any, len(vals))
		for i, val := range vals {
			args[i] = val.Value()
		}
		result, err := e.funcs.Call(target, args...)
		if err != nil {
			return types.WrapErr(err)
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
	first := cel.DynType
	if dispatch {
		first = cel.StringType
	}
	id := strings.ToLower(name)
	return cel.Function(name,
		cel.Overload(fmt.Sprintf("%s_1", id), []*cel.Type{first}, cel.DynType,
			cel.UnaryBinding(func(a ref.Val) ref.Val { return invoke(a) })),
		cel.Overload(fmt.Sprintf("%s_2", id), []*cel.Type{first, cel.DynType}, cel.DynType,
			cel.BinaryBinding(func(a, b ref.Val) ref.Val { return invoke(a, b) })),
		cel.Overload(fmt.Sprintf("%s_3", id), []*cel.Type{first, cel.DynType, cel.DynType}, cel.DynType,
			cel.FunctionBinding(invoke)),
	)
}
