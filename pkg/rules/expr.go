package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprEngine compiles against an open environment so snapshot keys need
// no declaration. Helpers become expr functions.
type exprEngine struct {
	programs
}

func (e exprEngine) Eval(in Input, src string) (any, error) {
	compiled, err := e.load(src, func() (any, error) {
		return expr.Compile(src, e.options()...)
	})
	if err != nil {
		return nil, err
	}
	return expr.Run(compiled.(*vm.Program), in.vars())
}

func (e exprEngine) options() []expr.Option {
	opts := []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.Function("call", func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, fmt.Errorf("call: missing helper name")
			}
			name, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("call: helper name is %T", params[0])
			}
			return e.funcs.Call(name, params[1:]...)
		}),
	}
	for _, name := range e.funcs.Names() {
		name := name
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			return e.funcs.Call(name, params...)
		}))
	}
	return opts
}
