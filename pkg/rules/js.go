//go:build js_eval

package rules

import (
	"fmt"

	"github.com/dop251/goja"
)

// JSAvailable reports whether the js engine was compiled in.
func JSAvailable() bool { return true }

// jsEngine runs each rule in a fresh goja runtime; runtimes are not safe
// for concurrent use.
type jsEngine struct {
	programs
}

func newJSEngine(p programs) Evaluator {
	return jsEngine{p}
}

func (e jsEngine) Eval(in Input, src string) (any, error) {
	compiled, err := e.load(src, func() (any, error) {
		return goja.Compile("rule", "(function(){ return ("+src+"); })()", true)
	})
	if err != nil {
		return nil, err
	}
	rt := goja.New()
	for key, value := range in.vars() {
		if err := rt.Set(key, value); err != nil {
			return nil, err
		}
	}
	if err := rt.Set("call", func(name string, args ...any) (any, error) {
		return e.funcs.Call(name, args...)
	}); err != nil {
		return nil, err
	}
	for _, name := range e.funcs.Names() {
		name := name
		if err := rt.Set(name, func(args ...any) (any, error) {
			return e.funcs.Call(name, args...)
		}); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}
	value, err := rt.RunProgram(compiled.(*goja.Program))
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}
